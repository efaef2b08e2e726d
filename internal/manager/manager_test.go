package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

func TestManager(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "manager")
}

type fakeStore struct {
	mu       sync.Mutex
	proxies  []*store.Proxy
	claimed  int
	released []store.Verdict
	staleN   int64
}

func (s *fakeStore) ClaimBatch(ctx context.Context, proto proxyurl.Protocol, limit int, notTestedWithin time.Duration) ([]*store.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed >= len(s.proxies) || limit <= 0 {
		return nil, nil
	}
	end := s.claimed + limit
	if end > len(s.proxies) {
		end = len(s.proxies)
	}
	batch := s.proxies[s.claimed:end]
	s.claimed = end
	return batch, nil
}

func (s *fakeStore) Release(ctx context.Context, proxyID int64, v store.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, v)
	return nil
}

func (s *fakeStore) RecoverStale(ctx context.Context, grace time.Duration) (int64, error) {
	return atomic.LoadInt64(&s.staleN), nil
}

func (s *fakeStore) Stats(ctx context.Context) (store.Counters, error) {
	return store.Counters{}, nil
}

type fakeTester struct {
	calls int32
}

func (t *fakeTester) Test(ctx context.Context, ep proxyurl.Endpoint) (store.Verdict, error) {
	atomic.AddInt32(&t.calls, 1)
	return store.Verdict{Outcome: store.OutcomeOK}, nil
}

type cancelledTester struct{}

func (cancelledTester) Test(ctx context.Context, ep proxyurl.Endpoint) (store.Verdict, error) {
	return store.Verdict{}, context.Canceled
}

var _ = Describe("Manager scheduling loop", func() {
	It("claims and tests every pending proxy, then stops cleanly on cancellation", func() {
		fs := &fakeStore{proxies: []*store.Proxy{{ID: 1}, {ID: 2}, {ID: 3}}}
		ft := &fakeTester{}

		m := New(Config{
			Protocol:     proxyurl.HTTP,
			MaxWorkers:   2,
			ScanInterval: time.Minute,
			StopGrace:    time.Second,
		}, fs, ft, nil, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			m.Run(ctx)
			close(done)
		}()

		Eventually(func() int32 { return atomic.LoadInt32(&ft.calls) }, 2*time.Second).Should(Equal(int32(3)))
		cancel()
		Eventually(done, 2*time.Second).Should(BeClosed())

		Expect(fs.released).To(HaveLen(3))
	})

	It("does not persist a record when the test is cancelled", func() {
		fs := &fakeStore{proxies: []*store.Proxy{{ID: 1}}}

		m := New(Config{
			Protocol:     proxyurl.HTTP,
			MaxWorkers:   1,
			ScanInterval: time.Minute,
			StopGrace:    time.Second,
		}, fs, cancelledTester{}, nil, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			m.Run(ctx)
			close(done)
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()
		Eventually(done, 2*time.Second).Should(BeClosed())

		Expect(fs.released).To(BeEmpty())
	})
})

var _ = Describe("releaseWithRetry", func() {
	It("gives up after exhausting retries without panicking", func() {
		fs := &failingStore{}
		m := New(Config{Protocol: proxyurl.HTTP, MaxWorkers: 1}, fs, &fakeTester{}, nil, nil, nil)
		m.releaseWithRetry(context.Background(), 1, store.Verdict{Outcome: store.OutcomeInternalError})
		Expect(fs.attempts).To(Equal(3))
	})
})

type failingStore struct {
	fakeStore
	attempts int
}

func (s *failingStore) Release(ctx context.Context, proxyID int64, v store.Verdict) error {
	s.attempts++
	return errors.New("boom")
}
