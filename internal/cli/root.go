// Package cli implements the durable command: run, resume and inspect the
// onboarding workflow against a durable step store.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/dshills/durable-go/internal/config"
)

// RootOptions holds global flags for all commands. Empty store settings
// fall back to the DURABLE_* environment.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Store       string
	SQLitePath  string
	MySQLDSN    string
	Codec       string
	MetricsAddr string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the durable CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "durable",
		Short: "Run workflows whose steps survive crashes",
		Long: "durable runs the employee-onboarding workflow on a durable step store.\n" +
			"Each completed step is recorded, so an interrupted execution resumes\n" +
			"where it stopped without repeating finished side effects.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "print every engine event to stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "step store: memory, sqlite or mysql (env DURABLE_STORE)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite-path", "", "SQLite database file (env DURABLE_SQLITE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.MySQLDSN, "mysql-dsn", "", "MySQL DSN (env DURABLE_MYSQL_DSN)")
	cmd.PersistentFlags().StringVar(&opts.Codec, "codec", "", "result codec: json or msgpack (env DURABLE_CODEC)")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (env DURABLE_METRICS_ADDR)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewResumeCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	for _, override := range []struct {
		flag string
		dst  *string
	}{
		{o.Store, &cfg.Store},
		{o.SQLitePath, &cfg.SQLitePath},
		{o.MySQLDSN, &cfg.MySQLDSN},
		{o.Codec, &cfg.Codec},
		{o.MetricsAddr, &cfg.MetricsAddr},
	} {
		if override.flag != "" {
			*override.dst = override.flag
		}
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}
