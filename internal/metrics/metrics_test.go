package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	before := testutil.ToFloat64(stageDecisionsTotal.WithLabelValues("pattern", "terminate"))
	IncStageDecision("pattern", "terminate")
	assert.Equal(t, before+1, testutil.ToFloat64(stageDecisionsTotal.WithLabelValues("pattern", "terminate")))

	IncEvent("file-scan", "quarantined")
	ObserveScan("quarantined", 3*time.Millisecond)
	IncInspected()
	IncAlertDropped()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["argus_security_events_total"])
	assert.True(t, names["argus_file_scan_duration_seconds"])
	assert.True(t, names["argus_requests_inspected_total"])
}
