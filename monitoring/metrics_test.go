package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMonitor_CollectCheckpointMetrics(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewMonitor(db, "ledger:cursors")

	mock.ExpectHGetAll("ledger:cursors").SetVal(map[string]string{
		"0xaaa": "42",
		"0xbbb": "not-a-number",
	})

	m.collectCheckpointMetrics(context.Background())

	assert.Equal(t, float64(42), testutil.ToFloat64(checkpointBlock.WithLabelValues("0xaaa")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_CollectCheckpointMetricsRedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	m := NewMonitor(db, "ledger:cursors")

	mock.ExpectHGetAll("ledger:cursors").SetErr(errors.New("connection refused"))

	m.collectCheckpointMetrics(context.Background())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMonitor_NilIsUsable(t *testing.T) {
	var m *Monitor

	before := testutil.ToFloat64(accessDecisions.WithLabelValues("DENIED", "UNKNOWN TICKET"))
	m.TrackAccessDecision("DENIED", "UNKNOWN TICKET")
	m.SetWatchedAddresses(3)
	m.Run(context.Background())

	assert.Equal(t, before+1, testutil.ToFloat64(accessDecisions.WithLabelValues("DENIED", "UNKNOWN TICKET")))
	assert.Equal(t, float64(3), testutil.ToFloat64(watchedAddresses))
}
