// Package config provides CLI commands for inspecting and creating the
// poolboy configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/poolboy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the poolboy configuration",
	Long: `Inspect or create the poolboy configuration.

Use 'config show' to print the effective configuration, 'config path' to see
where it is read from, and 'config init' to write a commented starter file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration as poolboy sees it after merging defaults, the
config file, environment variables and flags. Secrets are masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter config file",
	Long:  `Create a commented config file at ~/.config/poolboy/config.yaml (or --path).`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var initPath string

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", "", "where to write the file (default: the user config file)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

// Register adds the config command to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// secretKeys are masked by 'config show'.
var secretKeys = map[string]bool{
	"oracle.password": true,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults, environment and flags)")
	}

	settings := viper.AllSettings()
	maskSecrets(settings, "")
	// Flags bound only for bootstrapping are not configuration.
	delete(settings, "config")
	delete(settings, "env_file")

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func maskSecrets(settings map[string]any, prefix string) {
	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			maskSecrets(nested, key)
			continue
		}
		if secretKeys[key] && fmt.Sprint(v) != "" {
			settings[k] = "********"
		}
	}
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", configFile)
	fmt.Fprintln(out, "  2. ./config.yaml (current directory)")
	fmt.Fprintln(out, "\nEnvironment variables: POOLBOY_* (e.g., POOLBOY_REPO_URL for repo.url)")
	fmt.Fprintln(out, "Oracle credentials also read CONCOURSE_BASE_URL, CONCOURSE_USERNAME and CONCOURSE_PASSWORD.")

	return nil
}

const starterConfig = `# Pool Boy configuration

# The repository holding the lock pools
repo:
  url: git@github.com:example/pools.git
  remote: origin
  branch: master
  # Parent directory of the working copy; the clone is recreated every run
  work_dir: dirty-pools
  committer_name: Pool Boy
  committer_email: <pool-boy@localhost>

# Pools to clean, as name[:timeout]. Timeouts are minutes or Go durations.
pools: "workers:60,testers:2h"
pools_default_timeout: 60m

# Build liveness lookup. Leave base_url empty to decide on claim age only.
# Credentials are usually supplied as CONCOURSE_USERNAME / CONCOURSE_PASSWORD.
oracle:
  base_url: ""
  timeout: 10s

logging:
  level: info
  format: text
  file: ""

metrics:
  # node_exporter textfile collector output, written after every run
  textfile: ""

report:
  format: text

schedule:
  cron: "@every 15m"
  listen: ":9102"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := initPath
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}
