package judge

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestJudge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "judge")
}

var _ = Describe("Parse", func() {
	It("extracts REMOTE_ADDR from a plain-text response", func() {
		body := "REMOTE_ADDR = 9.9.9.9\nHTTP_USER_AGENT = curl/8.0\n"
		r, err := Parse(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.RemoteAddr).To(Equal("9.9.9.9"))
	})

	It("is robust to reordering and HTML wrapping", func() {
		body := "<table><tr><td>HTTP_X_FORWARDED_FOR</td><td>7.7.7.7</td></tr>" +
			"<tr><td>REMOTE_ADDR</td><td>9.9.9.9</td></tr></table>"
		r, err := Parse(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(r.RemoteAddr).To(Equal("9.9.9.9"))
		Expect(r.XForwardedFor).To(Equal("7.7.7.7"))
	})

	It("fails with ErrNoRemoteAddr when REMOTE_ADDR is absent", func() {
		_, err := Parse("HTTP_VIA = 1.1 proxy\n")
		Expect(err).To(MatchError(ErrNoRemoteAddr))
	})
})

var _ = Describe("RevealsIP", func() {
	It("detects the real IP surfaced as REMOTE_ADDR", func() {
		r, _ := Parse("REMOTE_ADDR = 7.7.7.7\n")
		Expect(r.RevealsIP("7.7.7.7")).To(BeTrue())
	})

	It("detects the real IP surfaced via X-Forwarded-For", func() {
		r, _ := Parse("REMOTE_ADDR = 9.9.9.9\nHTTP_X_FORWARDED_FOR = 7.7.7.7\n")
		Expect(r.RevealsIP("7.7.7.7")).To(BeTrue())
	})

	It("returns false when the real IP is nowhere in the response", func() {
		r, _ := Parse("REMOTE_ADDR = 9.9.9.9\n")
		Expect(r.RevealsIP("7.7.7.7")).To(BeFalse())
	})
})
