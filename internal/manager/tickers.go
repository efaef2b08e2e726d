package manager

import (
	"context"
	"time"
)

// staleClaimTicker fires every 60 s, reclaiming endpoints stuck in TESTING
// past cfg.StaleGrace, per spec.md §4.5's stale-claim ticker.
func (m *Manager) staleClaimTicker(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.RecoverStale(ctx, m.cfg.StaleGrace)
			if err != nil {
				m.log.Error("recover stale failed", "error", err)
				continue
			}
			if n > 0 {
				m.log.Info("recovered stale claims", "count", n)
			}
		}
	}
}

// refreshTicker invokes the Scraper Driver every proxy_refresh_interval,
// per spec.md §4.5's refresh ticker. It runs once immediately on startup so
// the store is seeded before the first scheduling pass.
func (m *Manager) refreshTicker(ctx context.Context) {
	m.refresh(ctx)

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

// outputTicker invokes the Output Publisher every output_interval, per
// spec.md §4.5's output ticker.
func (m *Manager) outputTicker(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.publish(ctx); err != nil {
				m.log.Error("output publish failed", "error", err)
			}
		}
	}
}

// noticeTicker logs aggregate counters every manager_notice_interval
// seconds, per spec.md §4.5's notice ticker. A non-positive interval
// disables it.
func (m *Manager) noticeTicker(ctx context.Context) {
	if m.cfg.NoticeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.NoticeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := m.store.Stats(ctx)
			if err != nil {
				m.log.Error("stats query failed", "error", err)
				continue
			}
			m.log.Info("status",
				"new", stats.New, "testing", stats.Testing, "ok", stats.OK,
				"fail", stats.Fail, "banned", stats.Banned,
				"active_workers", len(m.sem), "max_workers", cap(m.sem))
		}
	}
}
