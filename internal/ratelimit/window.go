package ratelimit

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWindow         = time.Minute
	DefaultWarnThreshold  = 100
	DefaultBlockThreshold = 200

	// shardCount splits the table so concurrent Admit calls for different
	// origins rarely contend on the same mutex.
	shardCount = 16
)

// Verdict is the outcome of admitting one request.
type Verdict int

const (
	Allow Verdict = iota
	Warn
	Block
)

func (v Verdict) String() string {
	switch v {
	case Warn:
		return "warn"
	case Block:
		return "block"
	default:
		return "allow"
	}
}

// Decision carries the verdict and the window state that produced it.
type Decision struct {
	Verdict Verdict
	Count   int
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
	// Escalated is set on the first request of a window to reach Verdict.
	Escalated bool
}

// Config tunes a Window. Zero values fall back to the defaults.
type Config struct {
	Window         time.Duration
	WarnThreshold  int
	BlockThreshold int
	Now            func() time.Time
}

type entry struct {
	count int
	start time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Window counts requests per origin over a fixed window that resets lazily
// on the first request after it has elapsed.
type Window struct {
	cfg    Config
	shards [shardCount]shard

	warned  atomic.Int64
	blocked atomic.Int64
}

// New builds a Window.
func New(cfg Config) *Window {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = DefaultBlockThreshold
	}
	if cfg.WarnThreshold <= 0 || cfg.WarnThreshold > cfg.BlockThreshold {
		cfg.WarnThreshold = cfg.BlockThreshold / 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	w := &Window{cfg: cfg}
	for i := range w.shards {
		w.shards[i].entries = make(map[string]*entry)
	}
	return w
}

func (w *Window) shard(origin string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(origin))
	return &w.shards[h.Sum32()%shardCount]
}

// Admit counts one request from origin. Requests above the warning threshold
// yield Warn and requests above the hard threshold yield Block.
func (w *Window) Admit(origin string) Decision {
	now := w.cfg.Now()
	s := w.shard(origin)

	s.mu.Lock()
	e, ok := s.entries[origin]
	if !ok || now.Sub(e.start) >= w.cfg.Window {
		e = &entry{count: 1, start: now}
		s.entries[origin] = e
	} else {
		e.count++
	}
	d := Decision{Count: e.count, RetryAfter: w.cfg.Window - now.Sub(e.start)}
	s.mu.Unlock()

	switch {
	case d.Count > w.cfg.BlockThreshold:
		d.Verdict = Block
		d.Escalated = d.Count == w.cfg.BlockThreshold+1
		w.blocked.Add(1)
	case d.Count > w.cfg.WarnThreshold:
		d.Verdict = Warn
		d.Escalated = d.Count == w.cfg.WarnThreshold+1
		w.warned.Add(1)
	}
	return d
}

// Reset drops origin's window.
func (w *Window) Reset(origin string) {
	s := w.shard(origin)
	s.mu.Lock()
	delete(s.entries, origin)
	s.mu.Unlock()
}

// Sweep evicts windows that have fully elapsed. It locks one shard at a time
// so Admit keeps running on the others.
func (w *Window) Sweep() int {
	now := w.cfg.Now()
	removed := 0
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.start) >= w.cfg.Window {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats summarizes the window for the status snapshot.
type Stats struct {
	TrackedOrigins int   `json:"tracked_origins"`
	Warnings       int64 `json:"warnings"`
	Blocks         int64 `json:"blocks"`
}

// Stats reports live counters.
func (w *Window) Stats() Stats {
	st := Stats{Warnings: w.warned.Load(), Blocks: w.blocked.Load()}
	for i := range w.shards {
		s := &w.shards[i]
		s.mu.Lock()
		st.TrackedOrigins += len(s.entries)
		s.mu.Unlock()
	}
	return st
}
