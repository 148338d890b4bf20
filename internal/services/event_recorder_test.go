package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/signatures"
)

func TestEventRecorder_PersistsEvents(t *testing.T) {
	svc := NewSecurityService(setupSecurityTestDB(t))
	rec := NewEventRecorder(svc)

	log := events.New(10, nil)
	log.AddSink(rec)
	log.Log(events.Event{
		Type:     events.TypeRateLimit,
		Severity: signatures.SeverityCritical,
		Origin:   "198.51.100.2",
		Detail:   "request rate exceeded: 201 requests in window",
		Action:   "block-origin",
		Outcome:  events.OutcomeBlocked,
	})
	log.Log(events.Event{
		Timestamp: time.Now().Add(time.Second),
		Type:      events.TypeAnomaly,
		Severity:  signatures.SeverityMedium,
		Origin:    "198.51.100.3",
		Action:    "flag",
		Outcome:   events.OutcomeMonitored,
	})
	rec.Close()

	list, err := svc.ListDecisions(DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "anomaly", list[0].Source)
	assert.Equal(t, "rate-limit", list[1].Source)
	assert.Equal(t, "blocked", list[1].Outcome)
	assert.NotEmpty(t, list[1].UUID)

	// events after Close are dropped quietly
	rec.Handle(events.Event{ID: "late"})
	rec.Close()
}
