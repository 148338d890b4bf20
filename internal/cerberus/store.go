package cerberus

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Wikid82/argus/internal/anomaly"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/filescan"
	"github.com/Wikid82/argus/internal/logger"
	"github.com/Wikid82/argus/internal/ratelimit"
	"github.com/Wikid82/argus/internal/reputation"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/status"
	"github.com/Wikid82/argus/internal/tokens"
)

// ScanHook receives every finished upload scan with the origin that sent it.
type ScanHook func(origin string, up filescan.Upload, out filescan.Outcome)

// Store owns one instance of every detector and token ledger. It is built
// once at startup and shared by the pipeline, the upload guard and the admin
// handlers.
type Store struct {
	Live       *config.Live
	Catalog    *signatures.Catalog
	BadHashes  *filescan.HashSet
	Reputation *reputation.Tracker
	Rate       *ratelimit.Window
	Anomaly    *anomaly.Detector
	Scanner    *filescan.Scanner
	Pool       *filescan.Pool
	CSRF       *tokens.CSRF
	Pages      *tokens.PageLedger
	Lockout    *tokens.Lockout
	Events     *events.Log
	Status     *status.Aggregator

	cfg  config.SecurityConfig
	cron *cron.Cron

	mu      sync.RWMutex
	onBlock []func(reputation.Record)
	onScan  []ScanHook
}

// NewStore builds every component from cfg. A configured signature pack is
// loaded into the catalog and the known-bad hash set.
func NewStore(cfg config.SecurityConfig, live *config.Live) (*Store, error) {
	if live == nil {
		live = config.NewLive(cfg)
	}
	s := &Store{
		Live:      live,
		Catalog:   signatures.Default(),
		BadHashes: filescan.DefaultHashSet(),
		cfg:       cfg,
	}

	if cfg.SignatureFile != "" {
		pack, err := signatures.LoadPack(cfg.SignatureFile)
		if err != nil {
			return nil, fmt.Errorf("load signature pack: %w", err)
		}
		if err := s.ApplyPack(pack); err != nil {
			return nil, err
		}
	}

	s.Reputation = reputation.NewTracker(reputation.Config{
		Threshold: cfg.ReputationThreshold,
		IdleTTL:   cfg.ReputationIdleTTL,
		OnBlock:   s.fireBlock,
	})
	s.Rate = ratelimit.New(ratelimit.Config{
		Window:         cfg.RateWindow,
		WarnThreshold:  cfg.RateWarnThreshold,
		BlockThreshold: cfg.RateBlockThreshold,
	})

	acfg := anomaly.DefaultConfig()
	if cfg.AnomalyRapidThreshold > 0 {
		acfg.RapidThreshold = cfg.AnomalyRapidThreshold
	}
	if cfg.AnomalyDistinctPaths > 0 {
		acfg.DistinctPaths = cfg.AnomalyDistinctPaths
	}
	s.Anomaly = anomaly.New(acfg)

	s.CSRF = tokens.NewCSRF(tokens.CSRFConfig{TTL: cfg.CSRFTokenTTL})
	s.Pages = tokens.NewPageLedger(tokens.PageConfig{TTL: cfg.PageTokenTTL, MaxPerOrigin: cfg.PageTokensPerOrigin})
	s.Lockout = tokens.NewLockout(tokens.LockoutConfig{Threshold: cfg.LockoutThreshold, Duration: cfg.LockoutDuration})
	s.Events = events.New(cfg.EventBuffer, nil)

	if cfg.UploadDir != "" {
		scanner, err := filescan.NewScanner(filescan.Config{
			UploadRoot:    cfg.UploadDir,
			QuarantineDir: cfg.QuarantineDir,
			MaxBytes:      cfg.MaxUploadBytes,
			Catalog:       s.Catalog,
			BadHashes:     s.BadHashes,
		})
		if err != nil {
			return nil, fmt.Errorf("init file scanner: %w", err)
		}
		s.Scanner = scanner
		s.Pool = filescan.NewPool(scanner, cfg.ScanWorkers, 0)
	}

	s.Status = status.New(status.Sources{
		Config:     live.Current,
		Catalog:    s.Catalog,
		Reputation: s.Reputation,
		Rate:       s.Rate,
		Anomaly:    s.Anomaly,
		Scanner:    s.Scanner,
		CSRF:       s.CSRF,
		Pages:      s.Pages,
		Lockout:    s.Lockout,
		Events:     s.Events,
	}, status.DefaultPolicy())

	return s, nil
}

// ApplyPack adds a signature pack to the live catalog and hash set.
func (s *Store) ApplyPack(p *signatures.Pack) error {
	if err := p.Apply(s.Catalog); err != nil {
		return fmt.Errorf("apply signature pack: %w", err)
	}
	s.BadHashes.Add(p.KnownBadHashes...)
	return nil
}

// MergePack adds or replaces a stored rule set's signatures in the live
// catalog and adds its hashes.
func (s *Store) MergePack(p *signatures.Pack) error {
	if err := p.Merge(s.Catalog); err != nil {
		return fmt.Errorf("merge signature pack: %w", err)
	}
	s.BadHashes.Add(p.KnownBadHashes...)
	return nil
}

// OnBlock registers fn to run whenever an origin becomes blocked.
func (s *Store) OnBlock(fn func(reputation.Record)) {
	s.mu.Lock()
	s.onBlock = append(s.onBlock, fn)
	s.mu.Unlock()
}

// OnScan registers fn to run after every upload scan.
func (s *Store) OnScan(fn ScanHook) {
	s.mu.Lock()
	s.onScan = append(s.onScan, fn)
	s.mu.Unlock()
}

func (s *Store) fireBlock(r reputation.Record) {
	s.mu.RLock()
	hooks := slices.Clone(s.onBlock)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(r)
	}
}

func (s *Store) fireScan(origin string, up filescan.Upload, out filescan.Outcome) {
	s.mu.RLock()
	hooks := slices.Clone(s.onScan)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(origin, up, out)
	}
}

// Start schedules the periodic sweep of expired state.
func (s *Store) Start() error {
	schedule := s.cfg.SweepSchedule
	if schedule == "" {
		schedule = "@every 1m"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, s.Sweep); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Sweep evicts expired tokens, idle reputation records, elapsed rate windows
// and decays lapsed lockouts.
func (s *Store) Sweep() {
	start := time.Now()
	removed := map[string]interface{}{
		"reputation": s.Reputation.Sweep(),
		"rate":       s.Rate.Sweep(),
		"csrf":       s.CSRF.Sweep(),
		"page":       s.Pages.Sweep(),
		"lockout":    s.Lockout.Sweep(),
	}
	removed["took"] = time.Since(start).String()
	logger.ForComponent("cerberus").WithFields(removed).Debug("swept expired security state")
}

// Close stops the sweeper and drains the scan pool.
func (s *Store) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
