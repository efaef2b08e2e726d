package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWatch(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "config watch")
}

var _ = Describe("LiveStrings", func() {
	It("returns nil until Store is called, then the latest value", func() {
		var ls LiveStrings
		Expect(ls.Load()).To(BeNil())

		ls.Store([]string{"CN", "RU"})
		Expect(ls.Load()).To(Equal([]string{"CN", "RU"}))

		ls.Store([]string{"IR"})
		Expect(ls.Load()).To(Equal([]string{"IR"}))
	})
})

var _ = Describe("Watcher", func() {
	It("returns nil when the config was never sourced from a file", func() {
		cfg := &Config{}
		Expect(NewWatcher(cfg, nil, nil)).To(BeNil())
	})

	It("re-loads and calls onReload when the config file changes on disk", func() {
		dir, err := os.MkdirTemp("", "config-watch-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "proxypool.yml")
		Expect(os.WriteFile(path, []byte("manager_testers: 7\n"), 0644)).To(Succeed())

		cfg, err := Load([]string{"--config", path})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ManagerTesters).To(Equal(7))

		w := NewWatcher(cfg, []string{"--config", path}, nil)
		Expect(w).NotTo(BeNil())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reloaded := make(chan *Config, 1)
		go w.Watch(ctx, func(c *Config) { reloaded <- c })

		// Give the watcher time to register its fsnotify watch before the
		// write, then rewrite the file as an editor would (write, not append).
		time.Sleep(100 * time.Millisecond)
		Expect(os.WriteFile(path, []byte("manager_testers: 42\n"), 0644)).To(Succeed())

		Eventually(reloaded, 2*time.Second).Should(Receive(WithTransform(
			func(c *Config) int { return c.ManagerTesters }, Equal(42),
		)))
	})
})
