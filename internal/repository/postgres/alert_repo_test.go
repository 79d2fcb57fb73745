package postgres

import (
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-hallucination-monitor/internal/domain"
)

func TestBuildInsert(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []domain.AlertEvent{
		{
			ID: "e1", Type: domain.AlertCreated, AlertID: "a1", Timestamp: ts,
			Alert: domain.PersistentAlert{ID: "a1", Severity: domain.SeverityHigh, Category: domain.CategoryHallucination, AgentID: "agent-1"},
		},
		{
			ID: "e2", Type: domain.AlertAcknowledged, AlertID: "a1", Actor: "ops", Timestamp: ts,
			Alert: domain.PersistentAlert{ID: "a1", Severity: domain.SeverityHigh, Category: domain.CategoryHallucination},
		},
	}

	query, vals, err := buildInsert(events)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(query, "INSERT INTO alert_events"))
	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8, $9),($10,")
	assert.Contains(t, query, "$18)")
	assert.True(t, strings.HasSuffix(query, "ON CONFLICT (id) DO NOTHING"))
	require.Len(t, vals, 2*numFields)

	assert.Equal(t, "CREATED", vals[2])
	assert.Equal(t, sql.NullString{String: "agent-1", Valid: true}, vals[5])
	assert.Equal(t, sql.NullString{}, vals[6], "no actor on create")
	assert.Equal(t, sql.NullString{String: "ops", Valid: true}, vals[numFields+6])
	assert.Contains(t, string(vals[7].([]byte)), `"severity":"high"`)
}
