package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grishkovelli/proxypool/internal/store"
)

func TestStatus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "status")
}

type fakeStats struct {
	counters store.Counters
}

func (f fakeStats) Stats(ctx context.Context) (store.Counters, error) {
	return f.counters, nil
}

func freePort() int {
	l, _ := net.Listen("tcp", ":0")
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

var _ = Describe("Server", func() {
	It("serves /healthz with the current counters as JSON", func() {
		port := freePort()
		addr := fmt.Sprintf(":%d", port)
		srv := New(addr, fakeStats{counters: store.Counters{New: 3, OK: 5}}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() { srv.Run(ctx); close(done) }()
		defer func() { cancel(); <-done }()

		Eventually(func() error {
			_, err := http.Get("http://127.0.0.1" + addr + "/healthz")
			return err
		}, 2*time.Second).Should(Succeed())

		resp, err := http.Get("http://127.0.0.1" + addr + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var got store.Counters
		Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
		Expect(got.New).To(Equal(3))
		Expect(got.OK).To(Equal(5))
	})

	It("serves Prometheus metrics at /metrics", func() {
		port := freePort()
		addr := fmt.Sprintf(":%d", port)
		srv := New(addr, fakeStats{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() { srv.Run(ctx); close(done) }()
		defer func() { cancel(); <-done }()

		Eventually(func() int {
			resp, err := http.Get("http://127.0.0.1" + addr + "/metrics")
			if err != nil {
				return 0
			}
			defer resp.Body.Close()
			return resp.StatusCode
		}, 2*time.Second).Should(Equal(http.StatusOK))
	})
})
