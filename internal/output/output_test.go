package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

func TestOutput(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "output")
}

type fakeSource struct {
	proxies []*store.Proxy
}

func (f fakeSource) TopWorking(ctx context.Context, proto proxyurl.Protocol, limit int, ignoreCountries []string) ([]*store.Proxy, error) {
	if limit <= 0 {
		return nil, nil
	}
	return f.proxies, nil
}

func mkProxy(proto proxyurl.Protocol, ip uint32, port uint16) *store.Proxy {
	return &store.Proxy{Protocol: proto, IP: ip, Port: port, Status: store.StatusOK}
}

var _ = Describe("Publish", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "output-test")
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { os.RemoveAll(dir) })

	It("renders Normal, ProxyChains, and the CSV formats correctly", func() {
		src := fakeSource{proxies: []*store.Proxy{
			mkProxy(proxyurl.HTTP, 0x01020304, 8080),
			mkProxy(proxyurl.HTTP, 0x05060708, 3128),
		}}

		normalPath := filepath.Join(dir, "normal.txt")
		pcPath := filepath.Join(dir, "proxychains.txt")
		kcPath := filepath.Join(dir, "kinancity.txt")

		p := New(src, Config{
			Protocol: proxyurl.HTTP,
			Limit:    10,
			Targets: []Target{
				{Format: Normal, Path: normalPath},
				{Format: ProxyChains, Path: pcPath},
				{Format: KinanCity, Path: kcPath},
			},
		})

		Expect(p.Publish(context.Background())).To(Succeed())

		normal, err := os.ReadFile(normalPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(normal)).To(Equal("http://1.2.3.4:8080\nhttp://5.6.7.8:3128\n"))

		pc, err := os.ReadFile(pcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(pc)).To(Equal("http 1.2.3.4 8080\nhttp 5.6.7.8 3128\n"))

		kc, err := os.ReadFile(kcPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(kc)).To(Equal("1.2.3.4:8080,5.6.7.8:3128\n"))
	})

	It("elides the protocol in Normal output when configured", func() {
		src := fakeSource{proxies: []*store.Proxy{mkProxy(proxyurl.HTTP, 0x01020304, 80)}}
		path := filepath.Join(dir, "normal.txt")

		p := New(src, Config{
			Protocol:   proxyurl.HTTP,
			Limit:      10,
			NoProtocol: true,
			Targets:    []Target{{Format: Normal, Path: path}},
		})
		Expect(p.Publish(context.Background())).To(Succeed())

		data, _ := os.ReadFile(path)
		Expect(string(data)).To(Equal("1.2.3.4:80\n"))
	})

	It("writes an empty file when limit is 0", func() {
		src := fakeSource{proxies: []*store.Proxy{mkProxy(proxyurl.HTTP, 1, 80)}}
		path := filepath.Join(dir, "empty.txt")

		p := New(src, Config{
			Protocol: proxyurl.HTTP,
			Limit:    0,
			Targets:  []Target{{Format: Normal, Path: path}},
		})
		Expect(p.Publish(context.Background())).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeEmpty())
	})

	It("replaces an existing file atomically", func() {
		path := filepath.Join(dir, "existing.txt")
		Expect(os.WriteFile(path, []byte("stale"), 0644)).To(Succeed())

		src := fakeSource{proxies: []*store.Proxy{mkProxy(proxyurl.HTTP, 0x01020304, 80)}}
		p := New(src, Config{Protocol: proxyurl.HTTP, Limit: 10, Targets: []Target{{Format: Normal, Path: path}}})
		Expect(p.Publish(context.Background())).To(Succeed())

		data, _ := os.ReadFile(path)
		Expect(string(data)).To(Equal("http://1.2.3.4:80\n"))
	})
})
