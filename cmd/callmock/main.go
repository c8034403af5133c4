// Mock dispatch engine CLI
// Validates call-site configurations and simulates mocked calls against them
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/andrewh/callmock/pkg/mockcall"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "callmock",
		Short:        "Mock dispatch engine for request/response calls",
		SilenceUsage: true,
	}

	root.AddCommand(validateCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(simulateCmd())
	root.AddCommand(versionCmd())

	return root
}

// bindEnv lets every flag of cmd be set through a CALLMOCK_ environment variable,
// e.g. --log-level as CALLMOCK_LOG_LEVEL. Flags given on the command line win.
func bindEnv(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("CALLMOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

func newLogger(cmd *cobra.Command, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).
		Level(lvl).
		With().Timestamp().
		Logger(), nil
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <sites.yaml>",
		Short: "Parse and validate a call-site configuration",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing configuration file\n\nUsage: callmock validate <sites.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := mockcall.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := mockcall.ValidateConfig(cfg); err != nil {
				return err
			}

			enabled := 0
			for _, site := range cfg.Sites {
				if site.Enabled {
					enabled++
				}
			}
			siteLabel := "sites"
			if len(cfg.Sites) == 1 {
				siteLabel = "site"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration valid: %d %s, %d mocked\n\n"+
				"To simulate calls:\n"+
				"  callmock simulate %s\n",
				len(cfg.Sites), siteLabel, enabled, args[0])
			return nil
		},
	}

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "callmock %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
