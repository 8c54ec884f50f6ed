// Package cli implements the gnbdash command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/config"
	"github.com/gnb-webdashboard/gnbdash/internal/logging"
	"github.com/gnb-webdashboard/gnbdash/internal/output"
)

var (
	cfgFile string
	cfg     *config.Config

	// Global output flags, inherited by all subcommands
	jsonOutput bool
	formatFlag string

	// Overrides for the [logging] section
	logLevel  string
	logFormat string

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gnbdash",
	Short: "gNB web dashboard backend",
	Long: `gnbdash serves the gNB web dashboard API and runs the node's setup
scripts from the command line.

Quick Start:
  gnbdash config init          # Write /etc/gnbdash/config.toml
  gnbdash serve                # Start the HTTP API on :5000
  gnbdash run start            # Start the gNB and wait for the ready marker
  gnbdash status               # Print node status and host statistics`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := output.DetectFormat(jsonOutput, formatFlag); err != nil {
			return output.NewCLIError(err.Error()).WithCode("USAGE").WithExitCode(2)
		}
		if skipsConfig(cmd) {
			return nil
		}
		path := configPath()
		loaded, err := config.LoadOrDefault(path)
		if err != nil {
			return output.ConfigError(path, err)
		}
		cfg = loaded
		return nil
	},
}

// exitError carries a status for a failure that has already been reported.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command. Errors are reported here; the caller only
// needs ExitCode.
func Execute() error {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return nil
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		formatterFor(rootCmd.OutOrStdout()).PrintError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return output.AsCLIError(err).Status()
}

// skipsConfig reports whether cmd runs without loading the config file.
func skipsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion":
		return true
	case "path", "init":
		return cmd.Parent() != nil && cmd.Parent().Name() == "config"
	}
	return false
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// formatterFor builds the output formatter from the global flags. An
// invalid --format falls back to text; PersistentPreRunE reports it.
func formatterFor(w io.Writer) *output.Formatter {
	format, err := output.DetectFormat(jsonOutput, formatFlag)
	if err != nil {
		format = output.FormatText
	}
	return output.New(output.WithFormat(format), output.WithWriter(w))
}

// newLogger builds the process logger from [logging] and the flags.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	opts := logging.Options{Writer: cmd.ErrOrStderr()}
	if cfg != nil {
		opts.Level = cfg.Logging.Level
		opts.Format = cfg.Logging.Format
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	if logFormat != "" {
		opts.Format = logFormat
	}
	logger, err := logging.New(opts)
	if err != nil {
		return nil, output.NewCLIError(err.Error()).WithCode("USAGE").WithExitCode(2)
	}
	return logger, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $GNBDASH_CONFIG or "+config.SystemPath+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format (machine-readable)")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newCommissionCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), Version)
				return nil
			}
			info := versionInfo{
				Version:   Version,
				Commit:    Commit,
				BuiltAt:   Date,
				BuiltBy:   BuiltBy,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return formatterFor(cmd.OutOrStdout()).OutputData(info, func(w io.Writer) error {
				fmt.Fprintf(w, "gnbdash version %s\n", info.Version)
				fmt.Fprintf(w, "  commit:    %s\n", info.Commit)
				fmt.Fprintf(w, "  built:     %s\n", info.BuiltAt)
				fmt.Fprintf(w, "  builder:   %s\n", info.BuiltBy)
				fmt.Fprintf(w, "  go:        %s\n", info.GoVersion)
				fmt.Fprintf(w, "  platform:  %s\n", info.Platform)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only version number")
	return cmd
}

type versionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuiltAt   string `json:"built_at" yaml:"built_at"`
	BuiltBy   string `json:"built_by" yaml:"built_by"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}
