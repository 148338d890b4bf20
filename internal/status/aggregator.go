package status

import (
	"sort"
	"time"

	"github.com/Wikid82/argus/internal/anomaly"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/filescan"
	"github.com/Wikid82/argus/internal/ratelimit"
	"github.com/Wikid82/argus/internal/reputation"
	"github.com/Wikid82/argus/internal/signatures"
	"github.com/Wikid82/argus/internal/tokens"
)

// Security level labels, lowest to highest.
const (
	LevelMinimal  = "minimal"
	LevelStandard = "standard"
	LevelEnhanced = "enhanced"
	LevelMaximum  = "maximum"
)

// Threshold maps a minimum score to a level label.
type Threshold struct {
	MinScore int    `json:"min_score"`
	Level    string `json:"level"`
}

// Policy is the scoring scheme. Every enabled subsystem adds its points;
// absorbed threats add ActivityPoints per ActivityStep blocked or
// quarantined events, up to ActivityCap.
type Policy struct {
	Points         map[string]int `json:"points"`
	ActivityStep   int            `json:"activity_step"`
	ActivityPoints int            `json:"activity_points"`
	ActivityCap    int            `json:"activity_cap"`
	Levels         []Threshold    `json:"levels"`
}

// DefaultPolicy scores 150 points for full protection plus up to 10 points
// of activity.
func DefaultPolicy() Policy {
	return Policy{
		Points: map[string]int{
			config.FlagReputation: 20,
			config.FlagRateLimit:  20,
			config.FlagAnomaly:    15,
			config.FlagPattern:    25,
			config.FlagCSRF:       15,
			config.FlagPageTokens: 10,
			config.FlagLockout:    20,
			config.FlagFileScan:   25,
		},
		ActivityStep:   10,
		ActivityPoints: 1,
		ActivityCap:    10,
		Levels: []Threshold{
			{MinScore: 140, Level: LevelMaximum},
			{MinScore: 100, Level: LevelEnhanced},
			{MinScore: 60, Level: LevelStandard},
			{MinScore: 0, Level: LevelMinimal},
		},
	}
}

// MaxScore is the highest score the policy can produce.
func (p Policy) MaxScore() int {
	total := p.ActivityCap
	for _, v := range p.Points {
		total += v
	}
	return total
}

// Score computes the additive score and its per-subsystem breakdown.
func (p Policy) Score(flags config.Flags, absorbed int64) (int, map[string]int) {
	breakdown := make(map[string]int, len(p.Points)+1)
	score := 0
	for name, pts := range p.Points {
		if flags.Enabled(name) {
			breakdown[name] = pts
			score += pts
		}
	}
	if p.ActivityStep > 0 && absorbed > 0 {
		activity := int(absorbed/int64(p.ActivityStep)) * p.ActivityPoints
		if activity > p.ActivityCap {
			activity = p.ActivityCap
		}
		if activity > 0 {
			breakdown["activity"] = activity
			score += activity
		}
	}
	return score, breakdown
}

// Level returns the label of the highest threshold score reaches.
func (p Policy) Level(score int) string {
	levels := append([]Threshold(nil), p.Levels...)
	sort.Slice(levels, func(i, j int) bool { return levels[i].MinScore > levels[j].MinScore })
	for _, t := range levels {
		if score >= t.MinScore {
			return t.Level
		}
	}
	return LevelMinimal
}

// Sources are the live components the aggregator reads. Nil entries are
// reported as zero.
type Sources struct {
	Config     func() *config.Snapshot
	Catalog    *signatures.Catalog
	Reputation *reputation.Tracker
	Rate       *ratelimit.Window
	Anomaly    *anomaly.Detector
	Scanner    *filescan.Scanner
	CSRF       *tokens.CSRF
	Pages      *tokens.PageLedger
	Lockout    *tokens.Lockout
	Events     *events.Log
}

type ReputationStats struct {
	Tracked int `json:"tracked"`
	Blocked int `json:"blocked"`
}

type TokenStats struct {
	CSRF tokens.LedgerStats `json:"csrf"`
	Page tokens.LedgerStats `json:"page"`
}

// Snapshot is the dashboard view of the whole pipeline.
type Snapshot struct {
	GeneratedAt   time.Time           `json:"generated_at"`
	Score         int                 `json:"score"`
	MaxScore      int                 `json:"max_score"`
	Level         string              `json:"level"`
	Breakdown     map[string]int      `json:"breakdown"`
	ConfigVersion int64               `json:"config_version"`
	Lockdown      bool                `json:"lockdown"`
	Enabled       map[string]bool     `json:"enabled"`
	Reputation    ReputationStats     `json:"reputation"`
	RateLimit     ratelimit.Stats     `json:"rate_limit"`
	Anomaly       anomaly.Stats       `json:"anomaly"`
	FileScan      filescan.Stats      `json:"file_scan"`
	Tokens        TokenStats          `json:"tokens"`
	Lockout       tokens.LockoutStats `json:"lockout"`
	Events        events.Stats        `json:"events"`
	Signatures    signatures.Stats    `json:"signatures"`
}

// Aggregator composes detector counters into a Snapshot.
type Aggregator struct {
	src    Sources
	policy Policy
	now    func() time.Time
}

func New(src Sources, policy Policy) *Aggregator {
	if policy.Points == nil {
		policy = DefaultPolicy()
	}
	return &Aggregator{src: src, policy: policy, now: time.Now}
}

// Policy returns the scoring policy in use.
func (a *Aggregator) Policy() Policy { return a.policy }

// Status reads every source and scores the current configuration.
func (a *Aggregator) Status() Snapshot {
	snap := Snapshot{GeneratedAt: a.now(), MaxScore: a.policy.MaxScore()}

	var flags config.Flags
	if a.src.Config != nil {
		if c := a.src.Config(); c != nil {
			flags = c.Flags
			snap.ConfigVersion = c.Version
			snap.Lockdown = c.Lockdown
		}
	}
	snap.Enabled = flags.Map()

	if a.src.Catalog != nil {
		snap.Signatures = a.src.Catalog.Stats()
	}
	if a.src.Reputation != nil {
		snap.Reputation.Tracked, snap.Reputation.Blocked = a.src.Reputation.Counts()
	}
	if a.src.Rate != nil {
		snap.RateLimit = a.src.Rate.Stats()
	}
	if a.src.Anomaly != nil {
		snap.Anomaly = a.src.Anomaly.Stats()
	}
	if a.src.Scanner != nil {
		snap.FileScan = a.src.Scanner.Stats()
	}
	if a.src.CSRF != nil {
		snap.Tokens.CSRF = a.src.CSRF.Stats()
	}
	if a.src.Pages != nil {
		snap.Tokens.Page = a.src.Pages.Stats()
	}
	if a.src.Lockout != nil {
		snap.Lockout = a.src.Lockout.Stats()
	}

	var absorbed int64
	if a.src.Events != nil {
		snap.Events = a.src.Events.Stats()
		absorbed = snap.Events.ByOutcome[events.OutcomeBlocked] + snap.Events.ByOutcome[events.OutcomeQuarantined]
	}

	snap.Score, snap.Breakdown = a.policy.Score(flags, absorbed)
	snap.Level = a.policy.Level(snap.Score)
	return snap
}
