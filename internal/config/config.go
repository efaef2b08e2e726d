// Package config loads proxypool's configuration from defaults, a YAML
// file, environment variables and CLI flags, in that increasing order of
// precedence, per spec.md §6.
package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec.md §6's CLI flag groups.
type Config struct {
	// --- global ---
	Verbose      bool   `yaml:"verbose"`
	LogPath      string `yaml:"log_path"`
	DownloadPath string `yaml:"download_path"`
	TmpPath      string `yaml:"tmp_path" default:"./tmp"`
	ProxyJudge   string `yaml:"proxy_judge" default:"http://azenv.net/"`
	UserAgent    string `yaml:"user_agent" default:"random"`

	// --- database ---
	DBName string `yaml:"db_name" default:"proxypool"`
	DBUser string `yaml:"db_user"`
	DBPass string `yaml:"db_pass"`
	DBHost string `yaml:"db_host" default:"127.0.0.1"`
	DBPort int    `yaml:"db_port" default:"3306"`

	// --- proxy sources ---
	ProxyFile             string   `yaml:"proxy_file"`
	ProxyScrap            []string `yaml:"proxy_scrap"`
	ProxyProtocol         string   `yaml:"proxy_protocol" default:"HTTP"`
	ProxyRefreshInterval  int      `yaml:"proxy_refresh_interval" default:"60"`
	ProxyScanInterval     int      `yaml:"proxy_scan_interval" default:"30"`
	ProxyIgnoreCountry    []string `yaml:"proxy_ignore_country"`

	// --- output ---
	OutputInterval     int    `yaml:"output_interval" default:"5"`
	OutputLimit        int    `yaml:"output_limit" default:"100"`
	OutputNoProtocol   bool   `yaml:"output_no_protocol"`
	OutputHTTP         string `yaml:"output_http"`
	OutputSocks        string `yaml:"output_socks"`
	OutputKinanCity    string `yaml:"output_kinancity"`
	OutputProxyChains  string `yaml:"output_proxychains"`
	OutputRocketMap    string `yaml:"output_rocketmap"`

	// --- manager ---
	ManagerNoticeInterval int  `yaml:"manager_notice_interval" default:"60"`
	ManagerTesters        int  `yaml:"manager_testers" default:"100"`
	TestAnonymity         bool `yaml:"test_anonymity"`
	StatusPort            int  `yaml:"status_port" default:"8080"`
	StopGrace             int  `yaml:"stop_grace" default:"90"`

	// --- tester ---
	TesterRetries       int     `yaml:"tester_retries" default:"1"`
	TesterBackoffFactor float64 `yaml:"tester_backoff_factor" default:"1"`
	TesterTimeout       int     `yaml:"tester_timeout" default:"10"`
	TesterForce         bool    `yaml:"tester_force"`
	TesterBanThreshold  int     `yaml:"tester_ban_threshold" default:"5"`

	// --- scraper ---
	ScrapperRetries       int     `yaml:"scrapper_retries" default:"1"`
	ScrapperBackoffFactor float64 `yaml:"scrapper_backoff_factor" default:"1"`
	ScrapperTimeout       int     `yaml:"scrapper_timeout" default:"10"`
	ScrapperProxy         string  `yaml:"scrapper_proxy"`

	// ConfigPath is not itself config: it names where the YAML file was
	// (or would be) read from.
	ConfigPath string `yaml:"-"`
}

// defaults returns a Config with every `default`-tagged field populated.
func defaults() *Config {
	cfg := &Config{}
	setDefaultValues(cfg)
	return cfg
}

// loadFile overlays YAML-file values onto cfg. A missing file at the
// default path is not an error; an explicitly-named missing file is.
func loadFile(path string, explicit bool, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return &ConfigError{Msg: "reading config file: " + err.Error()}
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return &ConfigError{Msg: "parsing config file: " + err.Error()}
	}
	cfg.ConfigPath = path
	return nil
}

// applyEnv overlays the MYSQL_* environment variables onto the database
// fields, per spec.md §6's precedence chain.
func applyEnv(cfg *Config) {
	cfg.DBName = envOr("MYSQL_DATABASE", cfg.DBName)
	cfg.DBUser = envOr("MYSQL_USER", cfg.DBUser)
	cfg.DBPass = envOr("MYSQL_PASSWORD", cfg.DBPass)
	cfg.DBHost = envOr("MYSQL_HOST", cfg.DBHost)
	if v := os.Getenv("MYSQL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.DBPort = p
		}
	}
}

// Load builds the final Config: defaults, then the YAML file (default
// path "proxypool.yml" unless --config names another, only the latter
// being fatal when absent), then MYSQL_* environment variables, then CLI
// flags bound in RegisterFlags — flags parsed from args win over
// everything else since their pflag default is seeded from the
// file/env-overlaid value.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	flags := pflag.NewFlagSet("proxypool", pflag.ContinueOnError)
	var configPath string
	flags.StringVarP(&configPath, "config", "c", "proxypool.yml", "config file path")
	// A first, lenient pass only to discover --config before the real parse.
	flags.ParseErrorsWhitelist.UnknownFlags = true
	_ = flags.Parse(args)

	explicit := flags.Changed("config")
	if err := loadFile(configPath, explicit, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	full := pflag.NewFlagSet("proxypool", pflag.ContinueOnError)
	full.StringVarP(&cfg.ConfigPath, "config", "c", configPath, "config file path")
	RegisterFlags(full, cfg)
	if err := full.Parse(args); err != nil {
		return nil, &ConfigError{Msg: err.Error()}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
