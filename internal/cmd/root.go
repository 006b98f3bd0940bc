package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/Iron-Ham/poolboy/internal/cmd/config"
	"github.com/Iron-Ham/poolboy/internal/config"
	"github.com/Iron-Ham/poolboy/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "poolboy",
	Short: "Release stale locks from git-backed lock pools",
	Long: `Pool Boy keeps git-backed lock pools clean. It finds claimed locks whose
owning CI build has finished, or that have been held longer than their pool's
timeout, and moves them back to unclaimed in a single commit.

Use 'poolboy status' to see what would change and 'poolboy clean' to apply it.`,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return initErr },
}

// initErr carries a failure from initConfig, which cobra gives no way to
// report, to the command being run.
var initErr error

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// Process exit statuses.
const (
	ExitFailure = 1
	// ExitBusy means another run held the working directory and nothing was
	// done. Schedulers can treat it as "try again later".
	ExitBusy = 75
)

// ExitCode maps the error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.GetSeverity(err) == errors.SeverityWarning:
		return ExitBusy
	default:
		return ExitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/poolboy/config.yaml)")
	flags.String("env-file", "", "dotenv file loaded into the environment before configuration is read")
	flags.String("repo", "", "URL of the lock pool repository")
	flags.String("pools", "", `pools to clean, as "name[:timeout],..." (timeout in minutes or a duration)`)
	flags.String("work-dir", "", "parent directory of the working copy")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("log-file", "", "write logs to a rotating file instead of stderr")
	flags.String("log-format", "", "log format: text or json")
	flags.StringP("format", "o", "", "report format: text, json or yaml")
	flags.String("metrics-textfile", "", "write run metrics to this file in Prometheus text format")

	bind := map[string]string{
		"config":           "config",
		"env_file":         "env-file",
		"repo.url":         "repo",
		"pools":            "pools",
		"repo.work_dir":    "work-dir",
		"verbose":          "verbose",
		"logging.file":     "log-file",
		"logging.format":   "log-format",
		"report.format":    "format",
		"metrics.textfile": "metrics-textfile",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	configcmd.Register(rootCmd)
}

func initConfig() {
	initErr = nil

	// The dotenv file feeds the environment, so it must be loaded before
	// viper starts consulting it.
	if envFile := viper.GetString("env_file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			initErr = err
			return
		}
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("POOLBOY")
	// e.g. POOLBOY_REPO_URL for repo.url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from flags and
		// the environment. A file that was asked for, or one that does not
		// parse, is not.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound || viper.GetString("config") != "" {
			initErr = err
		}
	}
}
