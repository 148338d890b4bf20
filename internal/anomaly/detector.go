package anomaly

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Reasons attached to an anomalous verdict.
const (
	ReasonCadence       = "rapid-cadence"
	ReasonPayloadSpike  = "payload-spike"
	ReasonEndpointSweep = "endpoint-sweep"
)

// Config tunes the detector. Zero values fall back to the defaults in
// DefaultConfig.
type Config struct {
	// Window is how far back request timestamps are kept.
	Window time.Duration
	// RapidGap is the inter-request gap considered script-like.
	RapidGap time.Duration
	// RapidThreshold is the number of rapid gaps tolerated inside Window.
	RapidThreshold int
	// SizeFactor and SizeFloor bound a payload relative to the origin's history.
	SizeFactor int
	SizeFloor  int64
	// MinSizeSamples is the history needed before payload spikes are judged.
	MinSizeSamples int
	// DistinctPaths is the endpoint count tolerated from non-browser clients.
	DistinctPaths int
	// MaxProfiles bounds the number of origins held in memory.
	MaxProfiles int
	Now         func() time.Time
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Window:         time.Minute,
		RapidGap:       100 * time.Millisecond,
		RapidThreshold: 10,
		SizeFactor:     10,
		SizeFloor:      10 * 1024,
		MinSizeSamples: 5,
		DistinctPaths:  20,
		MaxProfiles:    10000,
	}
}

const (
	maxTimestamps  = 512
	maxSizeHistory = 64
	maxPaths       = 1024
)

// Meta describes one request for analysis.
type Meta struct {
	Path      string
	Size      int64
	UserAgent string
	At        time.Time
}

// Result is the detector's verdict.
type Result struct {
	Anomalous     bool     `json:"anomalous"`
	Reasons       []string `json:"reasons,omitempty"`
	RapidGaps     int      `json:"rapid_gaps"`
	DistinctPaths int      `json:"distinct_paths"`
	// Escalated is set when the origin turns anomalous after a normal
	// request, so callers can react once per episode.
	Escalated bool `json:"escalated"`
}

type profile struct {
	stamps  []time.Time
	paths   map[string]int
	sizes   []int64
	flagged bool
}

func (p *profile) averageSize() float64 {
	if len(p.sizes) == 0 {
		return 0
	}
	var sum int64
	for _, s := range p.sizes {
		sum += s
	}
	return float64(sum) / float64(len(p.sizes))
}

// Detector keeps per-origin request statistics and flags automation-like
// behaviour. Its verdicts are advisory.
type Detector struct {
	cfg Config

	mu       sync.Mutex
	profiles *lru.Cache[string, *profile]

	analyzed  atomic.Int64
	anomalies atomic.Int64
	byReason  sync.Map // reason -> *atomic.Int64
}

// New builds a Detector.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RapidGap <= 0 {
		cfg.RapidGap = def.RapidGap
	}
	if cfg.RapidThreshold <= 0 {
		cfg.RapidThreshold = def.RapidThreshold
	}
	if cfg.SizeFactor <= 0 {
		cfg.SizeFactor = def.SizeFactor
	}
	if cfg.SizeFloor <= 0 {
		cfg.SizeFloor = def.SizeFloor
	}
	if cfg.MinSizeSamples <= 0 {
		cfg.MinSizeSamples = def.MinSizeSamples
	}
	if cfg.DistinctPaths <= 0 {
		cfg.DistinctPaths = def.DistinctPaths
	}
	if cfg.MaxProfiles <= 0 {
		cfg.MaxProfiles = def.MaxProfiles
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cache, _ := lru.New[string, *profile](cfg.MaxProfiles)
	return &Detector{cfg: cfg, profiles: cache}
}

// Analyze records m against origin's profile and reports whether the
// origin's recent behaviour looks automated.
func (d *Detector) Analyze(origin string, m Meta) Result {
	at := m.At
	if at.IsZero() {
		at = d.cfg.Now()
	}
	path := m.Path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	d.mu.Lock()
	p, ok := d.profiles.Get(origin)
	if !ok {
		p = &profile{paths: make(map[string]int)}
		d.profiles.Add(origin, p)
	}

	// Timestamps: prune to the window, then count script-like gaps.
	cutoff := at.Add(-d.cfg.Window)
	kept := p.stamps[:0]
	for _, ts := range p.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	p.stamps = append(kept, at)
	if over := len(p.stamps) - maxTimestamps; over > 0 {
		p.stamps = append([]time.Time(nil), p.stamps[over:]...)
	}
	rapid := 0
	for i := 1; i < len(p.stamps); i++ {
		if p.stamps[i].Sub(p.stamps[i-1]) < d.cfg.RapidGap {
			rapid++
		}
	}

	// Payload size against the history before this request.
	spike := false
	if len(p.sizes) >= d.cfg.MinSizeSamples && m.Size > d.cfg.SizeFloor {
		if float64(m.Size) > float64(d.cfg.SizeFactor)*p.averageSize() {
			spike = true
		}
	}
	p.sizes = append(p.sizes, m.Size)
	if over := len(p.sizes) - maxSizeHistory; over > 0 {
		p.sizes = append([]int64(nil), p.sizes[over:]...)
	}

	if _, seen := p.paths[path]; seen || len(p.paths) < maxPaths {
		p.paths[path]++
	}
	distinct := len(p.paths)

	res := Result{RapidGaps: rapid, DistinctPaths: distinct}
	if rapid > d.cfg.RapidThreshold {
		res.Reasons = append(res.Reasons, ReasonCadence)
	}
	if spike {
		res.Reasons = append(res.Reasons, ReasonPayloadSpike)
	}
	if distinct > d.cfg.DistinctPaths && IsNonBrowser(m.UserAgent) {
		res.Reasons = append(res.Reasons, ReasonEndpointSweep)
	}
	res.Anomalous = len(res.Reasons) > 0
	res.Escalated = res.Anomalous && !p.flagged
	p.flagged = res.Anomalous
	d.mu.Unlock()

	d.analyzed.Add(1)
	if res.Anomalous {
		d.anomalies.Add(1)
		for _, r := range res.Reasons {
			d.reasonCounter(r).Add(1)
		}
	}
	return res
}

func (d *Detector) reasonCounter(reason string) *atomic.Int64 {
	if v, ok := d.byReason.Load(reason); ok {
		return v.(*atomic.Int64)
	}
	v, _ := d.byReason.LoadOrStore(reason, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Forget drops origin's profile.
func (d *Detector) Forget(origin string) {
	d.mu.Lock()
	d.profiles.Remove(origin)
	d.mu.Unlock()
}

// Stats summarizes detector activity.
type Stats struct {
	Profiles  int              `json:"profiles"`
	Analyzed  int64            `json:"analyzed"`
	Anomalies int64            `json:"anomalies"`
	ByReason  map[string]int64 `json:"by_reason"`
}

func (d *Detector) Stats() Stats {
	st := Stats{
		Profiles:  d.profiles.Len(),
		Analyzed:  d.analyzed.Load(),
		Anomalies: d.anomalies.Load(),
		ByReason:  make(map[string]int64),
	}
	d.byReason.Range(func(k, v any) bool {
		st.ByReason[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return st
}

var automationUA = regexp.MustCompile(`(?i)(curl|wget|python-requests|python-urllib|aiohttp|go-http-client|java/|okhttp|libwww-perl|scrapy|httpclient|axios|node-fetch|headlesschrome|phantomjs|selenium|puppeteer|playwright|\bbot\b|crawler|spider)`)

// IsNonBrowser reports whether ua looks like a scripted client rather than a
// browser. An empty user agent counts as non-browser.
func IsNonBrowser(ua string) bool {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return true
	}
	if automationUA.MatchString(ua) {
		return true
	}
	return !strings.HasPrefix(ua, "Mozilla/")
}
