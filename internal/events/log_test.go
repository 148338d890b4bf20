package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/signatures"
)

func TestLog_AssignsIDAndTimestamp(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	l := New(10, func() time.Time { return fixed })
	e := l.Log(Event{Type: TypePattern, Severity: signatures.SeverityHigh, Outcome: OutcomeBlocked})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixed, e.Timestamp)
}

func TestLog_RingEvictsOldest(t *testing.T) {
	l := New(3, nil)
	for i := 0; i < 5; i++ {
		l.Log(Event{Type: TypeRateLimit, Detail: fmt.Sprintf("e%d", i)})
	}
	got := l.Recent(Filter{})
	require.Len(t, got, 3)
	assert.Equal(t, "e4", got[0].Detail)
	assert.Equal(t, "e3", got[1].Detail)
	assert.Equal(t, "e2", got[2].Detail)

	st := l.Stats()
	assert.Equal(t, int64(5), st.Total)
	assert.Equal(t, 3, st.Buffered)
	assert.Equal(t, int64(5), st.ByType[TypeRateLimit])
}

func TestLog_RecentFilters(t *testing.T) {
	l := New(0, nil)
	l.Log(Event{Type: TypeAnomaly, Severity: signatures.SeverityMedium, Outcome: OutcomeMonitored, Origin: "a"})
	l.Log(Event{Type: TypePattern, Severity: signatures.SeverityHigh, Outcome: OutcomeBlocked, Origin: "b"})
	l.Log(Event{Type: TypeFileScan, Severity: signatures.SeverityCritical, Outcome: OutcomeQuarantined, Origin: "a"})
	l.Log(Event{Type: TypePattern, Severity: signatures.SeverityLow, Outcome: OutcomeMonitored, Origin: "a"})

	assert.Len(t, l.Recent(Filter{MinSeverity: signatures.SeverityHigh}), 2)
	assert.Len(t, l.Recent(Filter{Type: TypePattern}), 2)
	assert.Len(t, l.Recent(Filter{Outcome: OutcomeMonitored, Origin: "a"}), 2)

	limited := l.Recent(Filter{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, signatures.SeverityLow, limited[0].Severity)
}

func TestLog_SinksReceiveEvents(t *testing.T) {
	l := New(5, nil)
	var mu sync.Mutex
	var seen []Event
	l.AddSink(SinkFunc(func(e Event) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	}))

	stored := l.Log(Event{Type: TypeLockout})
	require.Len(t, seen, 1)
	assert.Equal(t, stored.ID, seen[0].ID)
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := New(50, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Log(Event{Type: TypeCSRF, Outcome: OutcomeBlocked})
			}
		}()
	}
	wg.Wait()
	st := l.Stats()
	assert.Equal(t, int64(200), st.Total)
	assert.Equal(t, 50, st.Buffered)
	assert.Len(t, l.Recent(Filter{}), 50)
}

func TestStats_JSONUsesSeverityNames(t *testing.T) {
	l := New(5, nil)
	l.Log(Event{Type: TypePattern, Severity: signatures.SeverityCritical})
	b, err := json.Marshal(l.Stats())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"critical":1`)
}
