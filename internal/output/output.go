// Package output implements the Output Publisher (spec.md §4.6): it calls
// top_working and renders the result into every enabled file format via an
// atomic-replace write.
package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grishkovelli/proxypool/internal/config"
	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// TopWorkingSource is the subset of *store.Store the Publisher depends on.
type TopWorkingSource interface {
	TopWorking(ctx context.Context, proto proxyurl.Protocol, limit int, ignoreCountries []string) ([]*store.Proxy, error)
}

// Format identifies one output rendering, per spec.md §4.6.
type Format int

const (
	Normal Format = iota
	ProxyChains
	KinanCity
	RocketMap
)

// Target pairs a Format with the file path it is written to.
type Target struct {
	Format Format
	Path   string
}

// Config controls one Publish call.
type Config struct {
	Protocol        proxyurl.Protocol
	Limit           int
	NoProtocol      bool // elides the scheme in the Normal format
	IgnoreCountries []string
	// LiveIgnoreCountries, when set, overrides IgnoreCountries with a value
	// that config.Watcher keeps current across config-file reloads.
	LiveIgnoreCountries *config.LiveStrings
	Targets             []Target
}

// Publisher renders top_working into every configured Target.
type Publisher struct {
	store TopWorkingSource
	cfg   Config
}

// New builds a Publisher.
func New(store TopWorkingSource, cfg Config) *Publisher {
	return &Publisher{store: store, cfg: cfg}
}

// Publish queries top_working once and writes every configured Target,
// each via an atomic temp-file-then-rename, per spec.md §4.6. A limit of 0
// (or no working proxies) still writes an empty file to every target.
func (p *Publisher) Publish(ctx context.Context) error {
	ignoreCountries := p.cfg.IgnoreCountries
	if p.cfg.LiveIgnoreCountries != nil {
		ignoreCountries = p.cfg.LiveIgnoreCountries.Load()
	}
	proxies, err := p.store.TopWorking(ctx, p.cfg.Protocol, p.cfg.Limit, ignoreCountries)
	if err != nil {
		return fmt.Errorf("output: top working: %w", err)
	}

	for _, t := range p.cfg.Targets {
		body := render(t.Format, proxies, p.cfg.NoProtocol)
		if err := atomicWrite(t.Path, body); err != nil {
			return fmt.Errorf("output: write %s: %w", t.Path, err)
		}
	}
	return nil
}

func render(f Format, proxies []*store.Proxy, noProtocol bool) []byte {
	switch f {
	case ProxyChains:
		return renderProxyChains(proxies)
	case KinanCity, RocketMap:
		return renderCSVLine(proxies)
	default:
		return renderNormal(proxies, noProtocol)
	}
}

// renderNormal emits one "[proto://]host:port" per line.
func renderNormal(proxies []*store.Proxy, noProtocol bool) []byte {
	var b strings.Builder
	for _, p := range proxies {
		ep := p.Endpoint()
		if noProtocol {
			b.WriteString(ep.Addr())
		} else {
			b.WriteString(ep.Protocol.String())
			b.WriteString("://")
			b.WriteString(ep.Addr())
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// renderProxyChains emits one "<proto> <host> <port>" per line.
func renderProxyChains(proxies []*store.Proxy) []byte {
	var b strings.Builder
	for _, p := range proxies {
		ep := p.Endpoint()
		fmt.Fprintf(&b, "%s %s %d\n", ep.Protocol.String(), ep.IP.String(), ep.Port)
	}
	return []byte(b.String())
}

// renderCSVLine emits a single comma-separated "host:port" line, the
// KinanCity/RocketMap format; nothing at all when there are no proxies.
func renderCSVLine(proxies []*store.Proxy) []byte {
	if len(proxies) == 0 {
		return nil
	}
	items := make([]string, 0, len(proxies))
	for _, p := range proxies {
		items = append(items, p.Endpoint().Addr())
	}
	return []byte(strings.Join(items, ",") + "\n")
}

// atomicWrite writes data to a temp file in path's directory, then renames
// it over path, per spec.md §4.6.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".output-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
