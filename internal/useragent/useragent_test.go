package useragent

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestUserAgent(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "useragent")
}

var _ = Describe("Rotator", func() {
	Describe("New", func() {
		It("builds a chrome-only pool", func() {
			r := New("chrome")
			for i := 0; i < 10; i++ {
				Expect(r.Get()).To(BeElementOf(chrome))
			}
		})

		It("falls back to the combined pool for unknown modes", func() {
			r := New("bogus")
			Expect(len(r.pool)).To(Equal(len(chrome) + len(firefox) + len(safari)))
		})
	})

	Describe("Get", func() {
		It("always returns a non-empty string", func() {
			r := New("random")
			Expect(r.Get()).NotTo(BeEmpty())
		})
	})
})
