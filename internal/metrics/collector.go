package metrics

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StatsSource provides functions to retrieve current counts for gauge metrics.
// Nil functions are skipped. Returning -1 indicates the source is unavailable.
type StatsSource struct {
	// Refresh runs before each collection so the count functions can share
	// one snapshot
	Refresh func()

	UserCount           func() int
	UserCountByRole     func() map[string]int
	ActiveBanCount      func() int
	PendingEscalations  func() int
	FlaggedMessageCount func() int
	OutboxDepth         func() int
}

// StartCollector launches a goroutine that periodically updates gauge metrics.
// It runs every interval until the context is cancelled.
func StartCollector(ctx context.Context, src StatsSource, interval time.Duration) {
	// Do an initial collection immediately
	collect(src)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect(src)
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Metrics collector started")
}

func collect(src StatsSource) {
	if src.Refresh != nil {
		src.Refresh()
	}
	setGauge(UsersTotal.Set, src.UserCount)
	setGauge(ActiveBans.Set, src.ActiveBanCount)
	setGauge(EscalationsPending.Set, src.PendingEscalations)
	setGauge(FlaggedMessagesPending.Set, src.FlaggedMessageCount)
	setGauge(ReplicationOutboxDepth.Set, src.OutboxDepth)

	if src.UserCountByRole != nil {
		for role, count := range src.UserCountByRole() {
			UsersByRole.WithLabelValues(role).Set(float64(count))
		}
	}
}

func setGauge(set func(float64), count func() int) {
	if count == nil {
		return
	}
	if n := count(); n >= 0 {
		set(float64(n))
	}
}
