package config

import (
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "config")
}

var _ = Describe("Load", func() {
	It("fails when an explicitly named config file is absent", func() {
		cfg, err := Load([]string{"--config", "/nonexistent/proxypool.yml"})
		Expect(err).To(HaveOccurred()) // explicit path must exist
		Expect(cfg).To(BeNil())
	})

	It("falls back to defaults when the implicit config file is absent", func() {
		wd, _ := os.Getwd()
		os.Chdir(os.TempDir())
		defer os.Chdir(wd)

		cfg, err := Load([]string{})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ManagerTesters).To(Equal(100))
		Expect(cfg.TesterTimeout).To(Equal(10))
		Expect(cfg.ProxyProtocol).To(Equal("HTTP"))
	})

	It("lets CLI flags override defaults", func() {
		wd, _ := os.Getwd()
		os.Chdir(os.TempDir())
		defer os.Chdir(wd)

		cfg, err := Load([]string{"--manager-testers", "5", "--test-anonymity"})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ManagerTesters).To(Equal(5))
		Expect(cfg.TestAnonymity).To(BeTrue())
	})

	It("lets MYSQL_* environment variables override the default DB host", func() {
		wd, _ := os.Getwd()
		os.Chdir(os.TempDir())
		defer os.Chdir(wd)

		os.Setenv("MYSQL_HOST", "db.internal")
		defer os.Unsetenv("MYSQL_HOST")

		cfg, err := Load([]string{})
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.DBHost).To(Equal("db.internal"))
	})
})
