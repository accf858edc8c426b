package prekey

import (
	"context"
	"log/slog"
	"time"

	"relay/internal/observability/metrics"
	"relay/internal/store"
)

// Monitor periodically counts unconsumed one-time prekeys per device and
// flags devices that have fallen under the restock threshold.
type Monitor struct {
	store    *store.Store
	min      int64
	interval time.Duration
	logger   *slog.Logger
}

func NewMonitor(store *store.Store, min int64, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{store: store, min: min, interval: interval, logger: logger}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one low-stock sweep. Exposed separately so a sweep can be
// triggered outside the ticker loop.
func (m *Monitor) Check(ctx context.Context) {
	stocks, err := m.store.OneTimePreKeys().StockBelow(ctx, m.min)
	if err != nil {
		m.logger.Error("prekey stock check failed", "error", err)
		return
	}

	metrics.PreKeyLowStockDevices.Set(float64(len(stocks)))
	for _, s := range stocks {
		m.logger.Warn("device low on one-time prekeys",
			"device_id", s.DeviceID,
			"remaining", s.Count,
			"min", m.min,
		)
	}
}
