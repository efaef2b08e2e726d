// Package judge parses the response of an AZenv-style proxy judge page —
// a page that echoes the caller's observed request environment — per
// spec.md §4.3.
package judge

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the structured record extracted from a judge response.
// Missing fields are the empty string.
type Result struct {
	RemoteAddr    string
	Via           string
	XForwardedFor string
	Forwarded     string
	ClientIP      string
}

// fieldPattern matches "KEY = VALUE" / "KEY: VALUE" lines as well as
// AZenv's HTML-table deployment, where the key and value sit in separate
// cells with no colon or equals between them at all (e.g.
// "<td>KEY</td><td>VALUE</td>"). The separator is either a colon/equals or
// one-or-more HTML tags, so both layouts match, per spec.md §4.3 ("robust
// to reordering and whitespace").
var fieldPattern = regexp.MustCompile(`(?i)\b(HTTP_VIA|HTTP_X_FORWARDED_FOR|HTTP_FORWARDED|HTTP_CLIENT_IP|REMOTE_ADDR)\b\s*(?:[:=]\s*|(?:<[^>]*>\s*)+)([^<\r\n]*)`)

// ErrNoRemoteAddr is returned when REMOTE_ADDR cannot be extracted, which
// spec.md §4.3 maps to a BAD_RESPONSE outcome.
var ErrNoRemoteAddr = fmt.Errorf("judge: REMOTE_ADDR not found in response")

// Parse extracts the request-environment fields from a judge page body.
func Parse(body string) (Result, error) {
	var r Result

	for _, m := range fieldPattern.FindAllStringSubmatch(body, -1) {
		key := strings.ToUpper(m[1])
		val := strings.TrimSpace(m[2])
		// Strip trailing HTML entities/tags not covered by the char class.
		val = strings.TrimSpace(strings.SplitN(val, "&nbsp;", 2)[0])

		switch key {
		case "REMOTE_ADDR":
			r.RemoteAddr = val
		case "HTTP_VIA":
			r.Via = val
		case "HTTP_X_FORWARDED_FOR":
			r.XForwardedFor = val
		case "HTTP_FORWARDED":
			r.Forwarded = val
		case "HTTP_CLIENT_IP":
			r.ClientIP = val
		}
	}

	if r.RemoteAddr == "" {
		return Result{}, ErrNoRemoteAddr
	}
	return r, nil
}

// RevealsIP reports whether the judge response reveals realIP anywhere —
// as the observed remote address or inside any forwarding header — which
// spec.md §4.2 step 3 maps to a NON_ANONYMOUS outcome.
func (r Result) RevealsIP(realIP string) bool {
	if realIP == "" {
		return false
	}
	candidates := []string{r.RemoteAddr, r.Via, r.XForwardedFor, r.Forwarded, r.ClientIP}
	for _, c := range candidates {
		if c != "" && strings.Contains(c, realIP) {
			return true
		}
	}
	return false
}

// HasForwardingHeaders reports whether any forwarding header is present at
// all, regardless of its value — some judges redact the value but still
// emit the header, which is itself a signal the proxy is non-transparent.
func (r Result) HasForwardingHeaders() bool {
	return r.Via != "" || r.XForwardedFor != "" || r.Forwarded != "" || r.ClientIP != ""
}
