package tokens

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCSRF_SingleUse(t *testing.T) {
	c := NewCSRF(CSRFConfig{})
	tok, err := c.Issue("session-1")
	require.NoError(t, err)
	assert.Len(t, tok.Value, 43)

	assert.False(t, c.Validate("session-2", tok.Value), "wrong session")
	assert.True(t, c.Validate("session-1", tok.Value))
	assert.False(t, c.Validate("session-1", tok.Value), "replay")

	st := c.Stats()
	assert.Equal(t, int64(1), st.Issued)
	assert.Equal(t, int64(1), st.Validated)
	assert.Equal(t, int64(2), st.Rejected)
	assert.Zero(t, st.Active)
}

func TestCSRF_ConcurrentValidateOnlyOnce(t *testing.T) {
	c := NewCSRF(CSRFConfig{})
	tok, err := c.Issue("s")
	require.NoError(t, err)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Validate("s", tok.Value) {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestCSRF_ExpiryAndSweep(t *testing.T) {
	clk := newClock()
	c := NewCSRF(CSRFConfig{TTL: time.Minute, Now: clk.Now})
	expired, _ := c.Issue("s")
	used, _ := c.Issue("s")
	require.True(t, c.Validate("s", used.Value))

	clk.Advance(time.Minute)
	live, _ := c.Issue("s")
	assert.False(t, c.Validate("s", expired.Value))

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Stats().Active)
	assert.True(t, c.Validate("s", live.Value))
}

func TestCSRF_RequiresSession(t *testing.T) {
	c := NewCSRF(CSRFConfig{})
	_, err := c.Issue("")
	assert.ErrorIs(t, err, ErrOwnerRequired)
	assert.False(t, c.Validate("", "anything"))
}

func TestPage_BindsOriginAndKind(t *testing.T) {
	p := NewPageLedger(PageConfig{})
	tok, err := p.Issue("203.0.113.5", "login")
	require.NoError(t, err)

	assert.False(t, p.Validate(tok.Value, "198.51.100.1", "login"))
	assert.False(t, p.Validate(tok.Value, "203.0.113.5", "register"))
	assert.True(t, p.Validate(tok.Value, "203.0.113.5", "login"))
	assert.False(t, p.Validate(tok.Value, "203.0.113.5", "login"))

	_, err = p.Issue("203.0.113.5", "")
	assert.ErrorIs(t, err, ErrKindRequired)
}

func TestPage_EvictsOldestPerOrigin(t *testing.T) {
	p := NewPageLedger(PageConfig{MaxPerOrigin: 2})
	first, _ := p.Issue("o", "login")
	second, _ := p.Issue("o", "login")
	third, _ := p.Issue("o", "login")
	other, _ := p.Issue("x", "login")

	assert.False(t, p.Validate(first.Value, "o", "login"))
	assert.True(t, p.Validate(second.Value, "o", "login"))
	assert.True(t, p.Validate(third.Value, "o", "login"))
	assert.True(t, p.Validate(other.Value, "x", "login"))
	assert.Equal(t, int64(1), p.Stats().Evicted)
}

func TestPage_Expiry(t *testing.T) {
	clk := newClock()
	p := NewPageLedger(PageConfig{TTL: time.Minute, Now: clk.Now})
	tok, _ := p.Issue("o", "login")
	clk.Advance(59 * time.Second)
	other, _ := p.Issue("o", "login")
	clk.Advance(2 * time.Second)
	assert.False(t, p.Validate(tok.Value, "o", "login"))
	assert.True(t, p.Validate(other.Value, "o", "login"))
}

func TestLockout_LocksAtThreshold(t *testing.T) {
	clk := newClock()
	l := NewLockout(LockoutConfig{Duration: 10 * time.Minute, Now: clk.Now})
	key := Key("203.0.113.9", "alice@example.com")

	for i := 1; i < DefaultLockoutThreshold; i++ {
		st := l.RecordFailure(key)
		assert.False(t, st.Locked)
		assert.Equal(t, i, st.Failures)
	}
	st := l.RecordFailure(key)
	require.True(t, st.Locked)
	assert.Equal(t, 10*time.Minute, st.Remaining)

	clk.Advance(4 * time.Minute)
	sixth := l.RecordFailure(key)
	assert.True(t, sixth.Locked)
	assert.Equal(t, 6*time.Minute, sixth.Remaining, "lock is not extended")
	assert.Equal(t, DefaultLockoutThreshold, sixth.Failures)
	assert.True(t, l.Check(key).Locked)
	assert.Equal(t, 1, l.Stats().Locked)
}

func TestLockout_SuccessClears(t *testing.T) {
	l := NewLockout(LockoutConfig{})
	for i := 0; i < 4; i++ {
		l.RecordFailure("k")
	}
	l.RecordSuccess("k")
	st := l.Check("k")
	assert.Zero(t, st.Failures)
	assert.False(t, st.Locked)
	assert.Equal(t, 1, l.RecordFailure("k").Failures)
}

func TestLockout_SweepDecays(t *testing.T) {
	clk := newClock()
	l := NewLockout(LockoutConfig{Duration: time.Minute, IdleTTL: time.Hour, Now: clk.Now})
	for i := 0; i < 5; i++ {
		l.RecordFailure("k")
	}
	clk.Advance(2 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	st := l.Check("k")
	assert.False(t, st.Locked)
	assert.Equal(t, 2, st.Failures, "decayed, not zeroed")

	// Three more failures relock because the count resumed from the decay.
	l.RecordFailure("k")
	l.RecordFailure("k")
	assert.True(t, l.RecordFailure("k").Locked)
	assert.Equal(t, int64(2), l.Stats().TotalLocks)

	clk.Advance(2 * time.Minute)
	l.Sweep()
	clk.Advance(2 * time.Hour)
	assert.Equal(t, 1, l.Sweep())
	assert.Zero(t, l.Stats().Tracked)
}

func TestLockout_LazyDecayWithoutSweep(t *testing.T) {
	clk := newClock()
	l := NewLockout(LockoutConfig{Duration: time.Minute, Now: clk.Now})
	for i := 0; i < 5; i++ {
		l.RecordFailure("k")
	}
	clk.Advance(time.Minute)
	st := l.RecordFailure("k")
	assert.False(t, st.Locked)
	assert.Equal(t, 3, st.Failures)
}
