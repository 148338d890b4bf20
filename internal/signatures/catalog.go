package signatures

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrBuiltinSignature is returned when a pack tries to replace a built-in
// signature.
var ErrBuiltinSignature = errors.New("signature id is reserved by a built-in signature")

// Catalog is the registry of signatures known to the process. Entries are
// never removed; Put may swap an entry for a newer version with the same id
// unless the entry is built in.
type Catalog struct {
	mu      sync.RWMutex
	sigs    []*Signature
	byID    map[string]*Signature
	byCat   map[Category][]*Signature
	builtin map[string]struct{}
}

// NewCatalog builds a catalog from sigs, rejecting duplicate or empty ids.
func NewCatalog(sigs ...*Signature) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[string]*Signature, len(sigs)),
		byCat: make(map[Category][]*Signature),
	}
	for _, s := range sigs {
		if err := c.Add(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns a catalog holding the built-in tables.
func Default() *Catalog {
	c, err := NewCatalog(defaultSignatures()...)
	if err != nil {
		panic(fmt.Sprintf("built-in signatures: %v", err))
	}
	c.builtin = make(map[string]struct{}, len(c.sigs))
	for _, s := range c.sigs {
		c.builtin[s.ID] = struct{}{}
	}
	return c
}

func validate(s *Signature) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("signature id is required")
	}
	if s.Matcher.Kind() == 0 {
		return fmt.Errorf("signature %s has no matcher", s.ID)
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return fmt.Errorf("signature %s: %w", s.ID, err)
	}
	if s.Severity < SeverityLow || s.Severity > SeverityCritical {
		return fmt.Errorf("signature %s: invalid severity", s.ID)
	}
	return nil
}

// Add registers a signature.
func (c *Catalog) Add(s *Signature) error {
	if err := validate(s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byID[s.ID]; dup {
		return fmt.Errorf("duplicate signature id %s", s.ID)
	}
	c.sigs = append(c.sigs, s)
	c.byID[s.ID] = s
	c.byCat[s.Category] = append(c.byCat[s.Category], s)
	return nil
}

// Builtin reports whether id belongs to a built-in signature.
func (c *Catalog) Builtin(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.builtin[id]
	return ok
}

// Put registers s, replacing any signature with the same id in place. The
// replacement inherits the detection counters of the entry it replaces.
// Built-in entries cannot be replaced.
func (c *Catalog) Put(s *Signature) error {
	if err := validate(s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.builtin[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrBuiltinSignature, s.ID)
	}
	old, ok := c.byID[s.ID]
	if !ok {
		c.sigs = append(c.sigs, s)
		c.byID[s.ID] = s
		c.byCat[s.Category] = append(c.byCat[s.Category], s)
		return nil
	}
	s.detections.Store(old.detections.Load())
	s.lastDetected.Store(old.lastDetected.Load())
	for i, cur := range c.sigs {
		if cur == old {
			c.sigs[i] = s
			break
		}
	}
	list := c.byCat[old.Category][:0:0]
	for _, cur := range c.byCat[old.Category] {
		if cur != old {
			list = append(list, cur)
		}
	}
	c.byCat[old.Category] = list
	c.byCat[s.Category] = append(c.byCat[s.Category], s)
	c.byID[s.ID] = s
	return nil
}

// All returns every signature in registration order.
func (c *Catalog) All() []*Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Signature(nil), c.sigs...)
}

// ByCategory returns the signatures belonging to any of cats.
func (c *Catalog) ByCategory(cats ...Category) []*Signature {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Signature
	for _, cat := range cats {
		out = append(out, c.byCat[cat]...)
	}
	return out
}

// Except returns every signature outside cats.
func (c *Catalog) Except(cats ...Category) []*Signature {
	skip := make(map[Category]struct{}, len(cats))
	for _, cat := range cats {
		skip[cat] = struct{}{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Signature, 0, len(c.sigs))
	for _, s := range c.sigs {
		if _, ok := skip[s.Category]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// Get looks a signature up by id.
func (c *Catalog) Get(id string) (*Signature, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// Len is the number of registered signatures.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sigs)
}

// Stats aggregates detection counters.
type Stats struct {
	Signatures      int              `json:"signatures"`
	TotalDetections int64            `json:"total_detections"`
	ByCategory      map[Category]int `json:"by_category"`
}

// Stats reports catalog size and detection totals.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{Signatures: len(c.sigs), ByCategory: make(map[Category]int, len(c.byCat))}
	for cat, list := range c.byCat {
		st.ByCategory[cat] = len(list)
	}
	for _, s := range c.sigs {
		st.TotalDetections += s.DetectionCount()
	}
	return st
}

// Summaries lists every signature sorted by detections, most active first.
func (c *Catalog) Summaries() []Summary {
	out := Summaries(c.All())
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectionCount > out[j].DetectionCount
	})
	return out
}
