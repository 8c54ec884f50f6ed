package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/config"
	"github.com/gnb-webdashboard/gnbdash/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefault(configPath())
			if err != nil {
				ce := output.NewCLIError("cannot create config file").WithCause(err.Error())
				if errors.Is(err, os.ErrPermission) {
					ce = ce.WithHint(output.HintPermissionDenied)
				}
				return ce
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created config file: %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print configuration file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the effective configuration: the file's values over the
built-in defaults, with environment overrides applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return formatterFor(cmd.OutOrStdout()).OutputData(effectiveConfig(cfg), func(w io.Writer) error {
				return config.Print(cfg, w)
			})
		},
	})

	return cmd
}

type configView struct {
	Path        string            `json:"path" yaml:"path"`
	Listen      string            `json:"listen" yaml:"listen"`
	Metrics     bool              `json:"metrics" yaml:"metrics"`
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Device      string            `json:"device_config" yaml:"device_config"`
	Generator   string            `json:"generator" yaml:"generator"`
	LogDir      string            `json:"log_dir" yaml:"log_dir"`
	Policy      string            `json:"policy" yaml:"policy"`
	Deadline    string            `json:"deadline" yaml:"deadline"`
	Actions     []actionInfo      `json:"actions" yaml:"actions"`
	Downloads   map[string]string `json:"downloads" yaml:"downloads"`
	Diagnostics string            `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// effectiveConfig summarises the settings an operator usually checks.
// The text form prints the whole file instead.
func effectiveConfig(c *config.Config) configView {
	v := configView{
		Path:      configPath(),
		Listen:    c.Server.Listen,
		Metrics:   c.Server.Metrics,
		LogLevel:  c.Logging.Level,
		Device:    c.Device.ConfigPath,
		Generator: c.Commission.Generator,
		LogDir:    c.Supervisor.LogDir,
		Policy:    c.Supervisor.Policy,
		Deadline:  c.Supervisor.Deadline.String(),
		Downloads: c.DownloadPaths(),
	}
	if c.Diagnostics.Enabled {
		v.Diagnostics = c.Diagnostics.Path
	}
	catalog := c.Catalog()
	for _, name := range catalog.Names() {
		act, _ := catalog.Lookup(name)
		v.Actions = append(v.Actions, actionInfo{Name: name, Class: string(act.Class), Command: act.Command})
	}
	return v
}
