package monitoring

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	ledgerPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_polls_total",
			Help: "Ledger polls per watched address",
		},
		[]string{"address", "status"},
	)

	ledgerRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_records_total",
			Help: "Ledger records handled by the reconciler",
		},
		[]string{"kind", "outcome"},
	)

	watchedAddresses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watched_addresses",
			Help: "Number of program addresses being watched",
		},
	)

	accessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Access decisions at the door",
		},
		[]string{"access", "reason"},
	)

	syncRangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_range_duration_seconds",
			Help:    "Duration of range syncs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	checkpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_checkpoint_block",
			Help: "Last processed block per watched address",
		},
		[]string{"address"},
	)
)

// Monitor records service metrics. A nil Monitor is valid and only skips
// the background checkpoint collection.
type Monitor struct {
	redis     redis.Cmdable
	cursorKey string
	interval  time.Duration
}

// NewMonitor returns a monitor that exports the checkpoints stored in the
// cursorKey hash.
func NewMonitor(redisClient redis.Cmdable, cursorKey string) *Monitor {
	return &Monitor{redis: redisClient, cursorKey: cursorKey, interval: 30 * time.Second}
}

// Run collects checkpoint metrics until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil || m.redis == nil {
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectCheckpointMetrics(ctx)
		}
	}
}

func (m *Monitor) collectCheckpointMetrics(ctx context.Context) {
	cursors, err := m.redis.HGetAll(ctx, m.cursorKey).Result()
	if err != nil {
		slog.Warn("Failed to collect checkpoint metrics", "error", err)
		return
	}
	for address, raw := range cursors {
		block, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		checkpointBlock.WithLabelValues(address).Set(float64(block))
	}
}

func (m *Monitor) TrackPoll(address, status string) {
	ledgerPolls.WithLabelValues(address, status).Inc()
}

func (m *Monitor) TrackRecord(kind, outcome string) {
	ledgerRecords.WithLabelValues(kind, outcome).Inc()
}

func (m *Monitor) SetWatchedAddresses(n int) {
	watchedAddresses.Set(float64(n))
}

func (m *Monitor) TrackAccessDecision(access, reason string) {
	accessDecisions.WithLabelValues(access, reason).Inc()
}

func (m *Monitor) TrackSyncRange(duration time.Duration) {
	syncRangeDuration.Observe(duration.Seconds())
}
