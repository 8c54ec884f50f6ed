package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/commission"
	"github.com/gnb-webdashboard/gnbdash/internal/output"
)

func newCommissionCmd() *cobra.Command {
	var check, force bool
	cmd := &cobra.Command{
		Use:   "commission",
		Short: "Generate the device configuration when it is missing",
		Long: `Drive the interactive commissioning script to produce the device
configuration file, answering its prompts with defaults. Nothing runs
when the file already exists unless --force is given.

Examples:
  gnbdash commission            # Generate only if missing
  gnbdash commission --check    # Report whether the file exists
  gnbdash commission --force    # Regenerate over an existing file`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if check && force {
				return output.NewCLIError("--check and --force are mutually exclusive").WithCode("USAGE").WithExitCode(2)
			}
			if check {
				return checkDeviceConfig(cmd)
			}
			return runCommission(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Only report whether the device config exists")
	cmd.Flags().BoolVar(&force, "force", false, "Run the generator even when the device config exists")
	return cmd
}

type commissionReport struct {
	ConfigPath string             `json:"config_path" yaml:"config_path"`
	Present    bool               `json:"present" yaml:"present"`
	Generated  bool               `json:"generated" yaml:"generated"`
	Result     *commission.Result `json:"result,omitempty" yaml:"result,omitempty"`
}

func checkDeviceConfig(cmd *cobra.Command) error {
	path := cfg.Device.ConfigPath
	_, err := os.Stat(path)
	report := commissionReport{ConfigPath: path, Present: err == nil}
	if err = formatterFor(cmd.OutOrStdout()).OutputData(report, func(w io.Writer) error {
		if report.Present {
			fmt.Fprintf(w, "%s %s\n", output.Badge(w, "ok"), path)
		} else {
			fmt.Fprintf(w, "%s %s does not exist\n", output.Badge(w, "error"), path)
		}
		return nil
	}); err != nil {
		return err
	}
	if !report.Present {
		return &exitError{code: 1}
	}
	return nil
}

func runCommission(cmd *cobra.Command, force bool) error {
	st, err := buildStack(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer st.close()

	generator := cfg.Commission.Generator
	path := cfg.Device.ConfigPath
	_, statErr := os.Stat(path)
	progressf(cmd, "Checking %s...", path)

	var res *commission.Result
	if force && statErr == nil {
		res, err = st.automaton.Generate(cmd.Context(), generator)
	} else {
		res, err = st.automaton.EnsureConfig(cmd.Context(), generator)
	}
	if err != nil {
		return commissionError(err)
	}

	report := commissionReport{ConfigPath: path, Present: true, Generated: res != nil, Result: res}
	return formatterFor(cmd.OutOrStdout()).OutputData(report, func(w io.Writer) error {
		if res == nil {
			fmt.Fprintf(w, "%s %s already exists\n", output.Badge(w, "ok"), path)
			return nil
		}
		fmt.Fprintf(w, "%s generated %s: %s\n", output.Badge(w, "success"), path, res.Describe())
		if res.Injected {
			fmt.Fprintf(w, "  injected %s = %s\n", cfg.Commission.DefaultField, cfg.Commission.DefaultValue)
		}
		for _, warn := range res.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
		return nil
	})
}

func commissionError(err error) *output.CLIError {
	kind := commission.KindOf(err)
	ce := output.NewCLIError("configuration generation failed").
		WithCause(err.Error()).
		WithCode(strings.ToUpper(kind.String())).
		WithHint(output.HintGenerator)
	if errors.Is(err, commission.ErrDeadlineExceeded) {
		ce = ce.WithHint("Raise commission.timeout if the generator is slow on this host")
	}
	return ce
}
