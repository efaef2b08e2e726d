package scraper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// HTTPListPlugin fetches a newline-separated "ip:port" list from a URL, per
// spec.md §6 --proxy-scrap and grounded on the teacher's fetchProxies
// (worker.go) and makeRequest (pkg/wlpb/wlpb.go) shapes. When front is
// non-nil, every fetch is itself routed through that proxy — the
// --scrapper-proxy use case.
type HTTPListPlugin struct {
	SourceURL string
	Proto     proxyurl.Protocol
	Timeout   time.Duration
	Retries   int
	Backoff   float64
	Front     *proxyurl.Endpoint
}

func (p *HTTPListPlugin) Name() string                { return "http-list:" + p.SourceURL }
func (p *HTTPListPlugin) Protocol() proxyurl.Protocol { return p.Proto }

// Fetch downloads the list, retrying with factor*2^k backoff like the Test
// Harness does, per spec.md §6 --scrapper-retries/--scrapper-backoff-factor.
func (p *HTTPListPlugin) Fetch(ctx context.Context) ([]string, error) {
	client := &http.Client{Timeout: p.Timeout}
	if p.Front != nil {
		client.Transport = &http.Transport{Proxy: http.ProxyURL(p.Front.URL())}
	}

	var lastErr error
	attempts := p.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(p.Backoff * float64(uint(1)<<uint(attempt)) * float64(time.Second))
			if delay > p.Timeout {
				delay = p.Timeout
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		lines, err := p.fetchOnce(ctx, client)
		if err == nil {
			return lines, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("scraper: %s: %w", p.SourceURL, lastErr)
}

func (p *HTTPListPlugin) fetchOnce(ctx context.Context, client *http.Client) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.SourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	return splitLines(string(body)), nil
}

// FilePlugin loads candidates from a local file, per spec.md §6
// --proxy-file: one "ip:port" per line.
type FilePlugin struct {
	Path  string
	Proto proxyurl.Protocol
}

func (p *FilePlugin) Name() string                { return "file:" + p.Path }
func (p *FilePlugin) Protocol() proxyurl.Protocol { return p.Proto }

func (p *FilePlugin) Fetch(ctx context.Context) ([]string, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("scraper: open %s: %w", p.Path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func splitLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
