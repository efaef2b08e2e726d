// Package scraper implements the Scraper Driver (spec.md §4.4): it walks a
// registered list of plug-ins, dedupes candidates within one run, parses
// each with pkg/proxyurl, and upserts valid endpoints into the Proxy Store.
package scraper

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// Plugin is one proxy-list source, grounded on the teacher's proxySrc/fetch
// shape in worker.go's fetchProxies. Name identifies the plugin in logs and
// in Result.Failed; Protocol is assumed for candidates that carry no
// scheme; Fetch returns raw "ip:port" or "proto://ip:port" candidate
// strings.
type Plugin interface {
	Name() string
	Protocol() proxyurl.Protocol
	Fetch(ctx context.Context) ([]string, error)
}

// Upserter is the subset of *store.Store the driver depends on.
type Upserter interface {
	UpsertEndpoint(ctx context.Context, proto proxyurl.Protocol, ip uint32, port uint16) (*store.Proxy, error)
}

// Driver runs every registered Plugin once per Run call.
type Driver struct {
	plugins []Plugin
	store   Upserter
	log     *slog.Logger
}

// New builds a Driver over the given plugins.
func New(store Upserter, log *slog.Logger, plugins ...Plugin) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{plugins: plugins, store: store, log: log}
}

// Result summarizes one Run.
type Result struct {
	RunID    string // correlates this run's log lines
	Fetched  int
	Valid    int
	Upserted int
	Failed   []string // plugin names that errored
}

// Run walks every plugin. A single plugin's failure is logged and does not
// abort the others, per spec.md §4.4. Every invocation gets its own RunID so
// its log lines can be correlated across plugins.
func (d *Driver) Run(ctx context.Context) Result {
	res := Result{RunID: uuid.NewString()}
	seen := make(map[string]bool)
	log := d.log.With("run_id", res.RunID)

	for _, p := range d.plugins {
		candidates, err := p.Fetch(ctx)
		if err != nil {
			log.Error("scraper plugin failed", "plugin", p.Name(), "error", err)
			res.Failed = append(res.Failed, p.Name())
			continue
		}
		res.Fetched += len(candidates)

		for _, c := range candidates {
			if seen[c] {
				continue
			}
			seen[c] = true

			ep, err := proxyurl.Parse(c, p.Protocol())
			if err != nil {
				continue
			}
			res.Valid++

			if _, err := d.store.UpsertEndpoint(ctx, ep.Protocol, ep.IPUint32(), ep.Port); err != nil {
				log.Error("scraper upsert failed", "plugin", p.Name(), "endpoint", ep.String(), "error", err)
				continue
			}
			res.Upserted++
		}
	}

	log.Info("scraper run complete",
		"fetched", res.Fetched, "valid", res.Valid, "upserted", res.Upserted, "failed_plugins", len(res.Failed))
	return res
}
