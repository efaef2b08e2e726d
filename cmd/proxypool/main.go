// Command proxypool is the C8 Entry point (spec.md §4.8): it loads
// configuration, wires every component, and runs the Manager until a
// terminal signal arrives.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/grishkovelli/proxypool/internal/config"
	"github.com/grishkovelli/proxypool/internal/harness"
	"github.com/grishkovelli/proxypool/internal/judge"
	"github.com/grishkovelli/proxypool/internal/manager"
	"github.com/grishkovelli/proxypool/internal/output"
	"github.com/grishkovelli/proxypool/internal/scraper"
	"github.com/grishkovelli/proxypool/internal/status"
	"github.com/grishkovelli/proxypool/internal/store"
	"github.com/grishkovelli/proxypool/internal/useragent"
	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := &cobra.Command{
		Use:           "proxypool",
		Short:         "Discover, validate and publish working proxy endpoints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var exitCode int
	root.AddCommand(newRunCmd(&exitCode))
	root.AddCommand(newMigrateCmd(&exitCode))
	root.AddCommand(newVersionCmd())

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if exitCode == 0 {
			exitCode = 2
		}
	}
	return exitCode
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("proxypool " + version)
			return nil
		},
	}
}

func newMigrateCmd(exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "migrate",
		Short:              "Apply the Proxy Store schema and exit",
		DisableFlagParsing: true,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args)
		if err != nil {
			*exitCode = 2
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			*exitCode = 3
			return err
		}
		defer st.Close()
		fmt.Println("schema applied")
		return nil
	}
	return cmd
}

func newRunCmd(exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run",
		Short:              "Run the Manager until a terminal signal arrives",
		DisableFlagParsing: true,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args)
		if err != nil {
			*exitCode = 2
			return err
		}

		log := newLogger(cfg)

		st, err := openStore(cfg)
		if err != nil {
			*exitCode = 3
			return err
		}
		defer st.Close()

		proto, err := proxyurl.ParseProtocol(cfg.ProxyProtocol)
		if err != nil {
			*exitCode = 2
			return &config.ConfigError{Msg: "proxy-protocol: " + err.Error()}
		}

		// The default registry already carries the Go runtime collector and
		// is the one the Status Server's /metrics handler serves.
		reg := prometheus.DefaultRegisterer

		ownIP, err := resolveOwnIP(cfg.ProxyJudge)
		if err != nil {
			log.Warn("could not resolve own public IP, anonymity checks will be skipped", "error", err)
		}

		liveIgnore := &config.LiveStrings{}
		liveIgnore.Store(cfg.ProxyIgnoreCountry)

		h := harness.New(harness.Config{
			JudgeURL:            cfg.ProxyJudge,
			Timeout:             time.Duration(cfg.TesterTimeout) * time.Second,
			Retries:             cfg.TesterRetries,
			BackoffFactor:       cfg.TesterBackoffFactor,
			TestAnonymity:       cfg.TestAnonymity,
			Force:               cfg.TesterForce,
			IgnoreCountries:     cfg.ProxyIgnoreCountry,
			LiveIgnoreCountries: liveIgnore,
			OwnPublicIP:         ownIP,
		}, nil, useragent.New(cfg.UserAgent), reg)

		driver := scraper.New(st, log, buildPlugins(cfg, proto)...)

		pub := output.New(st, output.Config{
			Protocol:            proto,
			Limit:               cfg.OutputLimit,
			NoProtocol:          cfg.OutputNoProtocol,
			IgnoreCountries:     cfg.ProxyIgnoreCountry,
			LiveIgnoreCountries: liveIgnore,
			Targets:             buildTargets(cfg, proto),
		})

		mgr := manager.New(manager.Config{
			Protocol:        proto,
			MaxWorkers:      cfg.ManagerTesters,
			ScanInterval:    time.Duration(cfg.ProxyScanInterval) * time.Minute,
			RefreshInterval: time.Duration(cfg.ProxyRefreshInterval) * time.Minute,
			NoticeInterval:  time.Duration(cfg.ManagerNoticeInterval) * time.Second,
			OutputInterval:  time.Duration(cfg.OutputInterval) * time.Minute,
			StaleGrace:      2 * time.Duration(cfg.TesterTimeout) * time.Duration(cfg.TesterRetries+1) * time.Second,
			StopGrace:       time.Duration(cfg.StopGrace) * time.Second,
		}, st, h, func(ctx context.Context) { driver.Run(ctx) }, pub.Publish, log)

		statusSrv := status.New(fmt.Sprintf(":%d", cfg.StatusPort), st, log)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := statusSrv.Run(ctx); err != nil {
				log.Error("status server stopped", "error", err)
			}
		}()

		if w := config.NewWatcher(cfg, args, log); w != nil {
			go func() {
				if err := w.Watch(ctx, func(newCfg *config.Config) {
					liveIgnore.Store(newCfg.ProxyIgnoreCountry)
				}); err != nil {
					log.Error("config watcher stopped", "error", err)
				}
			}()
		}

		log.Info("proxypool starting", "protocol", proto.String(), "max_workers", cfg.ManagerTesters)
		mgr.Run(ctx)
		log.Info("proxypool stopped")
		return nil
	}
	return cmd
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(cfg.TmpPath, 0755); err != nil {
		return nil, fmt.Errorf("tmp-path: %w", err)
	}
	return store.Open(store.Options{
		Path:         filepath.Join(cfg.TmpPath, cfg.DBName+".db"),
		MaxOpenConns: cfg.ManagerTesters + 4,
		BanThreshold: cfg.TesterBanThreshold,
	})
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if cfg.LogPath != "" {
		f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			out = f
		}
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// resolveOwnIP fetches the caller's own public IP from the judge page, used
// by the anonymity battery step to detect a leaking proxy.
func resolveOwnIP(judgeURL string) (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(judgeURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	r, err := judge.Parse(string(body))
	if err != nil {
		return "", err
	}
	return r.RemoteAddr, nil
}

func buildPlugins(cfg *config.Config, proto proxyurl.Protocol) []scraper.Plugin {
	var plugins []scraper.Plugin

	var front *proxyurl.Endpoint
	if cfg.ScrapperProxy != "" {
		if ep, err := proxyurl.Parse(cfg.ScrapperProxy, proxyurl.HTTP); err == nil {
			front = &ep
		}
	}

	if cfg.ProxyFile != "" {
		plugins = append(plugins, &scraper.FilePlugin{Path: cfg.ProxyFile, Proto: proto})
	}
	for _, src := range cfg.ProxyScrap {
		plugins = append(plugins, &scraper.HTTPListPlugin{
			SourceURL: src,
			Proto:     proto,
			Timeout:   time.Duration(cfg.ScrapperTimeout) * time.Second,
			Retries:   cfg.ScrapperRetries,
			Backoff:   cfg.ScrapperBackoffFactor,
			Front:     front,
		})
	}
	return plugins
}

func buildTargets(cfg *config.Config, proto proxyurl.Protocol) []output.Target {
	var targets []output.Target
	if cfg.OutputHTTP != "" && proto == proxyurl.HTTP {
		targets = append(targets, output.Target{Format: output.Normal, Path: cfg.OutputHTTP})
	}
	if cfg.OutputSocks != "" && proto != proxyurl.HTTP {
		targets = append(targets, output.Target{Format: output.Normal, Path: cfg.OutputSocks})
	}
	if cfg.OutputKinanCity != "" {
		targets = append(targets, output.Target{Format: output.KinanCity, Path: cfg.OutputKinanCity})
	}
	if cfg.OutputProxyChains != "" {
		targets = append(targets, output.Target{Format: output.ProxyChains, Path: cfg.OutputProxyChains})
	}
	if cfg.OutputRocketMap != "" {
		targets = append(targets, output.Target{Format: output.RocketMap, Path: cfg.OutputRocketMap})
	}
	return targets
}
