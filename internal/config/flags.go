package config

import "github.com/spf13/pflag"

// RegisterFlags binds every spec.md §6 CLI flag to its Config field,
// seeding each flag's default from cfg's current value (so that an
// unset flag leaves the file/env-derived value untouched) — grounded on
// the persistent-flag binding style of mercator-hq-jupiter/cmd/mercator/root.go.
func RegisterFlags(f *pflag.FlagSet, cfg *Config) {
	// global
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable verbose logging")
	f.StringVarP(&cfg.LogPath, "log-path", "l", cfg.LogPath, "path to the log file (stderr if empty)")
	f.StringVarP(&cfg.DownloadPath, "download-path", "d", cfg.DownloadPath, "directory for downloaded scrape source files")
	f.StringVarP(&cfg.TmpPath, "tmp-path", "t", cfg.TmpPath, "directory holding the SQLite database file")
	f.StringVarP(&cfg.ProxyJudge, "proxy-judge", "j", cfg.ProxyJudge, "URL of the AZenv-style proxy judge")
	f.StringVarP(&cfg.UserAgent, "user-agent", "u", cfg.UserAgent, "user agent rotation mode: random, chrome, firefox, safari")

	// database
	f.StringVarP(&cfg.DBName, "db-name", "n", cfg.DBName, "database name")
	f.StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "database user")
	f.StringVarP(&cfg.DBPass, "db-pass", "P", cfg.DBPass, "database password")
	f.StringVarP(&cfg.DBHost, "db-host", "H", cfg.DBHost, "database host")
	f.IntVarP(&cfg.DBPort, "db-port", "O", cfg.DBPort, "database port")

	// proxy sources
	f.StringVarP(&cfg.ProxyFile, "proxy-file", "f", cfg.ProxyFile, "path to a newline-delimited proxy list to ingest at startup")
	f.StringSliceVarP(&cfg.ProxyScrap, "proxy-scrap", "s", cfg.ProxyScrap, "URLs of newline-separated proxy lists to scrape")
	f.StringVarP(&cfg.ProxyProtocol, "proxy-protocol", "p", cfg.ProxyProtocol, "protocol to test: HTTP, SOCKS4, SOCKS5")
	f.IntVarP(&cfg.ProxyRefreshInterval, "proxy-refresh-interval", "r", cfg.ProxyRefreshInterval, "minutes between scraper driver runs")
	f.IntVarP(&cfg.ProxyScanInterval, "proxy-scan-interval", "S", cfg.ProxyScanInterval, "minutes before a tested endpoint becomes claimable again")
	f.StringSliceVarP(&cfg.ProxyIgnoreCountry, "proxy-ignore-country", "i", cfg.ProxyIgnoreCountry, "ISO-3166-1 alpha-2 country codes to reject")

	// output
	f.IntVarP(&cfg.OutputInterval, "output-interval", "o", cfg.OutputInterval, "minutes between output publisher runs")
	f.IntVarP(&cfg.OutputLimit, "output-limit", "L", cfg.OutputLimit, "maximum endpoints per output file")
	f.BoolVarP(&cfg.OutputNoProtocol, "output-no-protocol", "N", cfg.OutputNoProtocol, "elide the protocol prefix in the normal output format")
	f.StringVarP(&cfg.OutputHTTP, "output-http", "h", cfg.OutputHTTP, "path for the HTTP normal-format output file")
	f.StringVarP(&cfg.OutputSocks, "output-socks", "k", cfg.OutputSocks, "path for the SOCKS normal-format output file")
	f.StringVarP(&cfg.OutputKinanCity, "output-kinancity", "K", cfg.OutputKinanCity, "path for the KinanCity-format output file")
	f.StringVarP(&cfg.OutputProxyChains, "output-proxychains", "x", cfg.OutputProxyChains, "path for the ProxyChains-format output file")
	f.StringVarP(&cfg.OutputRocketMap, "output-rocketmap", "R", cfg.OutputRocketMap, "path for the RocketMap-format output file")

	// manager
	f.IntVarP(&cfg.ManagerNoticeInterval, "manager-notice-interval", "I", cfg.ManagerNoticeInterval, "seconds between aggregate-counter log lines")
	f.IntVarP(&cfg.ManagerTesters, "manager-testers", "w", cfg.ManagerTesters, "maximum concurrent test workers")
	f.BoolVarP(&cfg.TestAnonymity, "test-anonymity", "A", cfg.TestAnonymity, "enable the anonymity battery step")
	f.IntVarP(&cfg.StatusPort, "status-port", "a", cfg.StatusPort, "port for the read-only status HTTP server")
	f.IntVarP(&cfg.StopGrace, "stop-grace", "G", cfg.StopGrace, "seconds given to in-flight workers on shutdown")

	// tester
	f.IntVarP(&cfg.TesterRetries, "tester-retries", "e", cfg.TesterRetries, "reachability-step retries before a terminal verdict")
	f.Float64VarP(&cfg.TesterBackoffFactor, "tester-backoff-factor", "b", cfg.TesterBackoffFactor, "retry backoff multiplier")
	f.IntVarP(&cfg.TesterTimeout, "tester-timeout", "T", cfg.TesterTimeout, "connect+read timeout in seconds")
	f.BoolVarP(&cfg.TesterForce, "tester-force", "F", cfg.TesterForce, "run the full battery even after a non-terminal failing step")
	f.IntVarP(&cfg.TesterBanThreshold, "tester-ban-threshold", "B", cfg.TesterBanThreshold, "consecutive CONN_REFUSED/TIMEOUT verdicts before BANNED")

	// scraper
	f.IntVarP(&cfg.ScrapperRetries, "scrapper-retries", "C", cfg.ScrapperRetries, "scrape-fetch retries")
	f.Float64VarP(&cfg.ScrapperBackoffFactor, "scrapper-backoff-factor", "q", cfg.ScrapperBackoffFactor, "scrape-fetch retry backoff multiplier")
	f.IntVarP(&cfg.ScrapperTimeout, "scrapper-timeout", "z", cfg.ScrapperTimeout, "scrape-fetch timeout in seconds")
	f.StringVarP(&cfg.ScrapperProxy, "scrapper-proxy", "X", cfg.ScrapperProxy, "proto://[user:pass@]ip:port front proxy for scrape requests")
}
