package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete poolboy configuration. A Config is built
// once per run by Load and is not mutated afterwards; components receive the
// parts they need as plain values.
type Config struct {
	Repo     RepoConfig     `mapstructure:"repo"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Report   ReportConfig   `mapstructure:"report"`
	Schedule ScheduleConfig `mapstructure:"schedule"`

	// PoolSpec is the raw comma-separated "name[:timeout]" list.
	PoolSpec string `mapstructure:"pools"`
	// DefaultTimeout applies to pools listed without a timeout.
	DefaultTimeout time.Duration `mapstructure:"pools_default_timeout"`
	// Verbose forces DEBUG logging.
	Verbose bool `mapstructure:"verbose"`

	// Pools is PoolSpec parsed by Load.
	Pools []Pool `mapstructure:"-"`
}

// RepoConfig describes the lock pool repository and its local working copy.
type RepoConfig struct {
	// URL is the remote repository holding the pools (required).
	URL string `mapstructure:"url"`
	// Remote is the remote name pushed to (default: "origin").
	Remote string `mapstructure:"remote"`
	// Branch is the branch pushed to (default: "master").
	Branch string `mapstructure:"branch"`
	// WorkDir is the parent directory of the working copy (default: "dirty-pools").
	// The working copy itself is WorkDir/<name derived from URL>.
	WorkDir string `mapstructure:"work_dir"`
	// CommitterName and CommitterEmail identify reconciliation commits.
	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
}

// OracleConfig configures the optional build liveness lookup. Leaving
// BaseURL empty disables it.
type OracleConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the oracle has an endpoint and credentials.
func (o OracleConfig) Enabled() bool {
	return o.BaseURL != "" && o.Username != ""
}

// LoggingConfig controls log output
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error" (default: "info")
	Level string `mapstructure:"level"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
	// File redirects logs from stderr to a rotating file
	File string `mapstructure:"file"`
	// MaxSizeMB and MaxBackups control rotation of File
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	// Textfile, when set, receives the run's metrics in Prometheus text format
	// (for node_exporter's textfile collector).
	Textfile string `mapstructure:"textfile"`
}

// ReportConfig controls the end-of-run report
type ReportConfig struct {
	// Format is "text", "json" or "yaml" (default: "text")
	Format string `mapstructure:"format"`
}

// ScheduleConfig controls the long-running schedule command
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression or descriptor like "@every 15m".
	Cron string `mapstructure:"cron"`
	// Listen is the address serving /healthz, /metrics and /report.
	Listen string `mapstructure:"listen"`
}

// Default returns a Config with default values. Repo.URL and PoolSpec have
// no defaults and must be supplied.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{
			Remote:         "origin",
			Branch:         "master",
			WorkDir:        "dirty-pools",
			CommitterName:  "Pool Boy",
			CommitterEmail: "<pool-boy@localhost>",
		},
		Oracle: OracleConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Report: ReportConfig{
			Format: "text",
		},
		Schedule: ScheduleConfig{
			Cron:   "@every 15m",
			Listen: ":9102",
		},
		DefaultTimeout: 60 * time.Minute,
	}
}

// SetDefaults registers default values and environment bindings with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("repo.remote", defaults.Repo.Remote)
	viper.SetDefault("repo.branch", defaults.Repo.Branch)
	viper.SetDefault("repo.work_dir", defaults.Repo.WorkDir)
	viper.SetDefault("repo.committer_name", defaults.Repo.CommitterName)
	viper.SetDefault("repo.committer_email", defaults.Repo.CommitterEmail)

	viper.SetDefault("oracle.timeout", defaults.Oracle.Timeout)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	viper.SetDefault("report.format", defaults.Report.Format)

	viper.SetDefault("schedule.cron", defaults.Schedule.Cron)
	viper.SetDefault("schedule.listen", defaults.Schedule.Listen)

	viper.SetDefault("pools_default_timeout", defaults.DefaultTimeout)

	// The oracle credentials keep the names CI deployments already export.
	_ = viper.BindEnv("oracle.base_url", "POOLBOY_ORACLE_BASE_URL", "CONCOURSE_BASE_URL")
	_ = viper.BindEnv("oracle.username", "POOLBOY_ORACLE_USERNAME", "CONCOURSE_USERNAME")
	_ = viper.BindEnv("oracle.password", "POOLBOY_ORACLE_PASSWORD", "CONCOURSE_PASSWORD")
}

// Load reads the configuration from viper, parses the pool list and validates it.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	pools, err := ParsePools(cfg.PoolSpec, cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Pools = pools

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// LocalRepoName derives the working copy directory name from a remote URL:
// the last path segment up to its first dot ("git@host:org/pools.git" -> "pools").
func LocalRepoName(url string) string {
	name := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return name
}

// LocalRepoPath returns WorkDir/<LocalRepoName(URL)>.
func (r RepoConfig) LocalRepoPath() string {
	return filepath.Join(r.WorkDir, LocalRepoName(r.URL))
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "poolboy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".poolboy"
	}
	return filepath.Join(home, ".config", "poolboy")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
