package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAnalyze_RapidCadence(t *testing.T) {
	d := New(Config{RapidThreshold: 5})

	var res Result
	escalations := 0
	for i := 0; i < 7; i++ {
		res = d.Analyze("a", Meta{Path: "/", UserAgent: browserUA, At: base.Add(time.Duration(i) * 20 * time.Millisecond)})
		if res.Escalated {
			escalations++
		}
	}
	assert.Equal(t, 6, res.RapidGaps)
	assert.True(t, res.Anomalous)
	assert.True(t, res.Escalated)
	assert.Contains(t, res.Reasons, ReasonCadence)

	res = d.Analyze("a", Meta{Path: "/", UserAgent: browserUA, At: base.Add(140 * time.Millisecond)})
	assert.True(t, res.Anomalous)
	assert.False(t, res.Escalated, "still the same episode")
	assert.Equal(t, 1, escalations)
}

func TestAnalyze_HumanCadenceIsNormal(t *testing.T) {
	d := New(Config{RapidThreshold: 5})
	var res Result
	for i := 0; i < 30; i++ {
		res = d.Analyze("a", Meta{Path: "/feed", UserAgent: browserUA, At: base.Add(time.Duration(i) * 2 * time.Second)})
	}
	assert.False(t, res.Anomalous)
	assert.Zero(t, res.RapidGaps)
}

func TestAnalyze_TimestampsPrunedToWindow(t *testing.T) {
	d := New(Config{Window: time.Second, RapidThreshold: 3})
	for i := 0; i < 4; i++ {
		d.Analyze("a", Meta{Path: "/", UserAgent: browserUA, At: base.Add(time.Duration(i) * 10 * time.Millisecond)})
	}
	res := d.Analyze("a", Meta{Path: "/", UserAgent: browserUA, At: base.Add(5 * time.Second)})
	assert.Zero(t, res.RapidGaps)
}

func TestAnalyze_PayloadSpike(t *testing.T) {
	d := New(Config{MinSizeSamples: 3, SizeFloor: 1024})
	for i := 0; i < 3; i++ {
		res := d.Analyze("a", Meta{Path: "/post", Size: 500, UserAgent: browserUA, At: base.Add(time.Duration(i) * time.Second)})
		assert.False(t, res.Anomalous)
	}

	// 10x the average but under the floor is ignored.
	res := d.Analyze("b", Meta{Path: "/post", Size: 900, At: base})
	assert.NotContains(t, res.Reasons, ReasonPayloadSpike)

	res = d.Analyze("a", Meta{Path: "/post", Size: 6000, UserAgent: browserUA, At: base.Add(10 * time.Second)})
	assert.True(t, res.Anomalous)
	assert.Equal(t, []string{ReasonPayloadSpike}, res.Reasons)
}

func TestAnalyze_EndpointSweepNeedsNonBrowser(t *testing.T) {
	d := New(Config{DistinctPaths: 5})
	var browser, script Result
	for i := 0; i < 8; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		browser = d.Analyze("browser", Meta{Path: fmt.Sprintf("/p/%d", i), UserAgent: browserUA, At: at})
		script = d.Analyze("script", Meta{Path: fmt.Sprintf("/p/%d?x=1", i), UserAgent: "python-requests/2.31", At: at})
	}
	assert.False(t, browser.Anomalous)
	assert.Equal(t, 8, script.DistinctPaths)
	assert.Contains(t, script.Reasons, ReasonEndpointSweep)

	st := d.Stats()
	assert.Equal(t, int64(16), st.Analyzed)
	assert.Equal(t, 2, st.Profiles)
	assert.Equal(t, int64(3), st.ByReason[ReasonEndpointSweep])
}

func TestDetector_ProfilesBounded(t *testing.T) {
	d := New(Config{MaxProfiles: 2})
	d.Analyze("a", Meta{At: base})
	d.Analyze("b", Meta{At: base})
	d.Analyze("c", Meta{At: base})
	assert.Equal(t, 2, d.Stats().Profiles)

	d.Forget("c")
	assert.Equal(t, 1, d.Stats().Profiles)
}

func TestIsNonBrowser(t *testing.T) {
	assert.True(t, IsNonBrowser(""))
	assert.True(t, IsNonBrowser("curl/8.4.0"))
	assert.True(t, IsNonBrowser("Go-http-client/1.1"))
	assert.True(t, IsNonBrowser("Mozilla/5.0 (compatible; HeadlessChrome)"))
	assert.False(t, IsNonBrowser(browserUA))
}
