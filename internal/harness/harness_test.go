package harness

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/internal/useragent"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

func TestHarness(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "harness")
}

type fakeGeo struct {
	country string
	err     error
}

func (f fakeGeo) Lookup(ctx context.Context, ip string) (string, error) {
	return f.country, f.err
}

// proxyEndpoint points an HTTP-protocol Endpoint at an httptest server. An
// http.Transport{Proxy: ...} request sends an absolute-URI GET straight to
// that server regardless of JudgeURL's host, so the server stands in for
// both the proxy and the judge in one step.
func proxyEndpoint(srv *httptest.Server) proxyurl.Endpoint {
	ep, _ := proxyurl.Parse(srv.Listener.Addr().String(), proxyurl.HTTP)
	return ep
}

var _ = Describe("Test", func() {
	var srv *httptest.Server

	AfterEach(func() {
		if srv != nil {
			srv.Close()
		}
	})

	It("records OK with latency on a healthy judge response", func() {
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("REMOTE_ADDR = 1.2.3.4\n"))
		}))

		h := New(Config{
			JudgeURL: "http://judge.example/check",
			Timeout:  2 * time.Second,
		}, nil, useragent.New("random"), nil)

		v, err := h.Test(context.Background(), proxyEndpoint(srv))
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Outcome).To(Equal(store.OutcomeOK))
		Expect(v.LatencyMs).NotTo(BeNil())
	})

	It("flags NON_ANONYMOUS when the judge reveals the real IP", func() {
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("REMOTE_ADDR = 9.9.9.9\n"))
		}))

		h := New(Config{
			JudgeURL:      "http://judge.example/check",
			Timeout:       2 * time.Second,
			TestAnonymity: true,
			OwnPublicIP:   "9.9.9.9",
		}, nil, useragent.New("random"), nil)

		v, err := h.Test(context.Background(), proxyEndpoint(srv))
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Outcome).To(Equal(store.OutcomeNonAnonymous))
		Expect(v.Anonymous).To(Equal(store.AnonymityNo))
	})

	It("classifies connection failure as CONN_REFUSED", func() {
		h := New(Config{
			JudgeURL: "http://judge.example/check",
			Timeout:  200 * time.Millisecond,
			Retries:  1,
		}, nil, useragent.New("random"), nil)

		ep, _ := proxyurl.Parse("127.0.0.1:1", proxyurl.HTTP)
		v, err := h.Test(context.Background(), ep)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Outcome).To(Equal(store.OutcomeConnRefused))
	})

	It("stops at the country gate unless forced", func() {
		h := New(Config{
			JudgeURL:        "http://judge.example/check",
			Timeout:         200 * time.Millisecond,
			IgnoreCountries: []string{"XX"},
		}, fakeGeo{country: "XX"}, useragent.New("random"), nil)

		ep, _ := proxyurl.Parse("127.0.0.1:1", proxyurl.HTTP)
		v, err := h.Test(context.Background(), ep)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Outcome).To(Equal(store.OutcomeForbiddenCountry))
	})

	It("proceeds past a forbidden country under --tester-force and keeps the worst outcome", func() {
		h := New(Config{
			JudgeURL:        "http://judge.example/check",
			Timeout:         200 * time.Millisecond,
			IgnoreCountries: []string{"XX"},
			Force:           true,
		}, fakeGeo{country: "XX"}, useragent.New("random"), nil)

		ep, _ := proxyurl.Parse("127.0.0.1:1", proxyurl.HTTP)
		v, err := h.Test(context.Background(), ep)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Outcome).To(Equal(store.OutcomeForbiddenCountry))
	})

	It("returns context.Canceled without a verdict when the battery is cancelled", func() {
		h := New(Config{
			JudgeURL: "http://judge.example/check",
			Timeout:  time.Second,
			Retries:  3,
		}, nil, useragent.New("random"), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		ep, _ := proxyurl.Parse("127.0.0.1:1", proxyurl.HTTP)
		_, err := h.Test(ctx, ep)
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Worse/severity ordering", func() {
	It("keeps the worst outcome across steps under --tester-force", func() {
		Expect(store.Worse(store.OutcomeOK, store.OutcomeTimeout)).To(Equal(store.OutcomeTimeout))
		Expect(store.Worse(store.OutcomeNonAnonymous, store.OutcomeForbiddenCountry)).To(Equal(store.OutcomeForbiddenCountry))
	})
})
