// Package useragent rotates HTTP User-Agent strings for outbound probes.
package useragent

import "math/rand"

// chrome, firefox and safari hold a handful of recent desktop/mobile
// strings for each browser family; random draws from the union of all three.
var chrome = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/131.0.2903.86",
	"Mozilla/5.0 (Linux; Android 10; Pixel 3 XL) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.6834.164 Mobile Safari/537.36",
}

var firefox = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:134.0) Gecko/20100101 Firefox/134.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:134.0) Gecko/20100101 Firefox/134.0",
	"Mozilla/5.0 (X11; Fedora; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",
}

var safari = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_3) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_7_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Mobile/15E148 Safari/604.1",
}

// Rotator selects a User-Agent string per request according to --user-agent.
type Rotator struct {
	pool []string
}

// New builds a Rotator for the configured mode: "random", "chrome",
// "firefox" or "safari". Unrecognized modes fall back to "random".
func New(mode string) *Rotator {
	switch mode {
	case "chrome":
		return &Rotator{pool: chrome}
	case "firefox":
		return &Rotator{pool: firefox}
	case "safari":
		return &Rotator{pool: safari}
	default:
		all := make([]string, 0, len(chrome)+len(firefox)+len(safari))
		all = append(all, chrome...)
		all = append(all, firefox...)
		all = append(all, safari...)
		return &Rotator{pool: all}
	}
}

// Get returns a randomly selected user agent string from the pool.
func (r *Rotator) Get() string {
	return r.pool[rand.Intn(len(r.pool))]
}
