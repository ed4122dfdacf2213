package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssm-ops/watchtower/internal/models"
)

func TestIncidentService_CreateStartsOpen(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	incident := &models.SecurityIncident{Title: "credential stuffing", Severity: models.ThreatHigh}
	require.NoError(t, is.Create(incident, "alice", false))
	assert.Equal(t, models.IncidentOpen, incident.Status)
	assert.NotEmpty(t, incident.UUID)

	// The opening event is on the timeline.
	_, events, err := is.Get(incident.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].EventType)
	assert.Equal(t, "alice", events[0].Actor)

	// Incidents cannot be created in a later state.
	pre := &models.SecurityIncident{Title: "bad", Severity: models.ThreatLow, Status: models.IncidentResolved}
	assert.ErrorIs(t, is.Create(pre, "alice", false), ErrInvalidTransition)
}

func TestIncidentService_ForwardOnlyTransitions(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	incident := &models.SecurityIncident{Title: "probe wave", Severity: models.ThreatMedium}
	require.NoError(t, is.Create(incident, "alice", false))

	// Skipping intermediate states forward is allowed.
	got, err := is.Transition(incident.ID, models.IncidentContained, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentContained, got.Status)

	// Backward and same-state moves are rejected.
	_, err = is.Transition(incident.ID, models.IncidentInvestigating, "alice", false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = is.Transition(incident.ID, models.IncidentContained, "alice", false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = is.Transition(incident.ID, "escalated", "alice", false)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = is.Transition(99999, models.IncidentClosed, "alice", false)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestIncidentService_ResolvedSetsMTTR(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	detected := time.Now().Add(-90 * time.Minute)
	incident := &models.SecurityIncident{
		Title:      "data exfil attempt",
		Severity:   models.ThreatCritical,
		DetectedAt: detected,
	}
	require.NoError(t, is.Create(incident, "bob", false))

	got, err := is.Transition(incident.ID, models.IncidentResolved, "bob", false)
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	require.NotNil(t, got.MTTRMinutes)
	assert.InDelta(t, 90, *got.MTTRMinutes, 1)
	assert.Nil(t, got.ClosedAt)
}

func TestIncidentService_ClosedIsTerminal(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	incident := &models.SecurityIncident{Title: "done", Severity: models.ThreatLow}
	require.NoError(t, is.Create(incident, "alice", false))

	got, err := is.Transition(incident.ID, models.IncidentClosed, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)
	// Closing straight from open still stamps resolution.
	assert.NotNil(t, got.ResolvedAt)
	assert.NotNil(t, got.MTTRMinutes)

	for _, to := range []models.IncidentStatus{
		models.IncidentOpen,
		models.IncidentInvestigating,
		models.IncidentContained,
		models.IncidentResolved,
		models.IncidentClosed,
	} {
		_, err := is.Transition(incident.ID, to, "alice", false)
		assert.ErrorIs(t, err, ErrIncidentClosed, "transition to %s", to)
	}
}

func TestIncidentService_TimelineIsAppendOnlyAndOrdered(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	incident := &models.SecurityIncident{Title: "walkthrough", Severity: models.ThreatMedium}
	require.NoError(t, is.Create(incident, "alice", false))

	_, err := is.Transition(incident.ID, models.IncidentInvestigating, "alice", false)
	require.NoError(t, err)
	require.NoError(t, is.AddEvent(incident.ID, "note", "alice", "checked proxy logs", false))
	_, err = is.Transition(incident.ID, models.IncidentResolved, "alice", false)
	require.NoError(t, err)

	_, events, err := is.Get(incident.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "created", events[0].EventType)
	assert.Equal(t, "status_changed", events[1].EventType)
	assert.Equal(t, "note", events[2].EventType)
	assert.Equal(t, "status_changed", events[3].EventType)
	assert.Contains(t, events[3].Details, `"to":"resolved"`)

	assert.ErrorIs(t, is.AddEvent(99999, "note", "alice", "nope", false), ErrIncidentNotFound)
}

func TestIncidentService_ListFiltersByStatus(t *testing.T) {
	db := setupTestDB(t)
	is := NewIncidentService(db, nil)

	a := &models.SecurityIncident{Title: "a", Severity: models.ThreatLow}
	b := &models.SecurityIncident{Title: "b", Severity: models.ThreatLow}
	require.NoError(t, is.Create(a, "alice", false))
	require.NoError(t, is.Create(b, "alice", false))
	_, err := is.Transition(b.ID, models.IncidentClosed, "alice", false)
	require.NoError(t, err)

	open, err := is.List(models.IncidentOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "a", open[0].Title)

	all, err := is.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
