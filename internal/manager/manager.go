// Package manager implements the Manager (spec.md §4.5): the scheduler
// core that owns the bounded worker pool and every background ticker.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// Store is the subset of *store.Store the Manager depends on.
type Store interface {
	ClaimBatch(ctx context.Context, proto proxyurl.Protocol, limit int, notTestedWithin time.Duration) ([]*store.Proxy, error)
	Release(ctx context.Context, proxyID int64, v store.Verdict) error
	RecoverStale(ctx context.Context, grace time.Duration) (int64, error)
	Stats(ctx context.Context) (store.Counters, error)
}

// Tester is the subset of *harness.Harness the Manager depends on.
type Tester interface {
	Test(ctx context.Context, ep proxyurl.Endpoint) (store.Verdict, error)
}

// Publisher is the subset of *output.Publisher the Manager depends on.
type Publisher interface {
	Publish(ctx context.Context) error
}

// Config controls timing and concurrency, sourced from spec.md §6's manager
// and proxy-source flag groups.
type Config struct {
	Protocol        proxyurl.Protocol
	MaxWorkers      int
	ScanInterval    time.Duration // claim_batch's not_tested_within
	RefreshInterval time.Duration // scraper invocation period
	NoticeInterval  time.Duration
	OutputInterval  time.Duration
	StaleGrace      time.Duration // recover_stale's grace
	StopGrace       time.Duration
}

// Manager runs the scheduling loop and every background ticker until its
// context is cancelled.
type Manager struct {
	cfg      Config
	store    Store
	tester   Tester
	refresh  func(context.Context)
	publish  func(context.Context) error
	log      *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New builds a Manager. refresh and publish may be nil to disable that
// ticker entirely (e.g. no scraper plugins or no output formats configured).
func New(cfg Config, st Store, tester Tester, refresh func(context.Context), publish func(context.Context) error, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	return &Manager{
		cfg:     cfg,
		store:   st,
		tester:  tester,
		refresh: refresh,
		publish: publish,
		log:     log,
		sem:     make(chan struct{}, cfg.MaxWorkers),
	}
}

// Run blocks until ctx is cancelled, then waits up to cfg.StopGrace for
// in-flight workers before returning, per spec.md §4.5 cancellation rules.
func (m *Manager) Run(ctx context.Context) {
	var tickerWG sync.WaitGroup
	tickerWG.Add(1)
	go func() { defer tickerWG.Done(); m.staleClaimTicker(ctx) }()

	if m.refresh != nil {
		tickerWG.Add(1)
		go func() { defer tickerWG.Done(); m.refreshTicker(ctx) }()
	}
	if m.publish != nil {
		tickerWG.Add(1)
		go func() { defer tickerWG.Done(); m.outputTicker(ctx) }()
	}
	tickerWG.Add(1)
	go func() { defer tickerWG.Done(); m.noticeTicker(ctx) }()

	m.schedulingLoop(ctx)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.StopGrace):
		m.log.Warn("stop grace elapsed, abandoning in-flight workers", "grace", m.cfg.StopGrace)
	}
	tickerWG.Wait()
}

// schedulingLoop implements spec.md §4.5's three-step loop: claim up to the
// available worker slots, enqueue a task per claim, and back off with a
// growing idle interval when the store has nothing to offer.
func (m *Manager) schedulingLoop(ctx context.Context) {
	idle := time.Second
	const idleCap = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		avail := cap(m.sem) - len(m.sem)
		if avail <= 0 {
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		claimed, err := m.store.ClaimBatch(ctx, m.cfg.Protocol, avail, m.cfg.ScanInterval)
		if err != nil {
			m.log.Error("claim batch failed", "error", err)
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}

		if len(claimed) == 0 {
			if !sleepCtx(ctx, idle) {
				return
			}
			idle *= 2
			if idle > idleCap {
				idle = idleCap
			}
			continue
		}
		idle = time.Second

		for _, p := range claimed {
			m.sem <- struct{}{}
			m.wg.Add(1)
			go m.runWorker(ctx, p)
		}
	}
}

// runWorker executes one Idle->Claimed->Testing->Releasing->Idle cycle for
// a single claimed proxy, per spec.md §4.5's per-slot state machine.
func (m *Manager) runWorker(ctx context.Context, p *store.Proxy) {
	defer m.wg.Done()
	defer func() { <-m.sem }()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("worker panic recovered", "proxy_id", p.ID, "panic", r)
			m.releaseWithRetry(context.Background(), p.ID, store.Verdict{
				Outcome:    store.OutcomeInternalError,
				Info:       "recovered panic",
				StartedAt:  time.Now().UTC(),
				FinishedAt: time.Now().UTC(),
			})
		}
	}()

	v, err := m.tester.Test(ctx, p.Endpoint())
	if errors.Is(err, context.Canceled) {
		// No ProxyTest row for a cancelled attempt; the stale-claim sweep
		// will reset this proxy's status on a later pass.
		return
	}

	m.releaseWithRetry(ctx, p.ID, v)
}

// releaseWithRetry attempts the release up to 3 times in total before
// giving up and letting the stale-claim sweep reap the claim, per spec.md
// §7's StoreError handling.
func (m *Manager) releaseWithRetry(ctx context.Context, proxyID int64, v store.Verdict) {
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = m.store.Release(ctx, proxyID, v); err == nil {
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	m.log.Error("release exhausted retries, claim will be reaped", "proxy_id", proxyID, "error", err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
