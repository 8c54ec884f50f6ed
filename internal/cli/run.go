package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/output"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/util"
)

func newRunCmd() *cobra.Command {
	var (
		timeout string
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "run [action]",
		Short: "Run a setup action and wait for its outcome",
		Long: `Run one of the configured setup actions the same way the
/api/setup_script endpoint does, and report the outcome.

Start-class actions succeed when the ready marker appears in the start log.
Oneshot actions succeed when the script exits 0.

Exit status: 0 on success, 1 when the action failed or timed out,
2 for an unknown action, 3 when another action of the same class is running.

Examples:
  gnbdash run --list
  gnbdash run start --timeout 10m
  gnbdash run stop --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if list || len(args) == 0 {
				return listActions(cmd, cfg.Catalog())
			}
			return runAction(cmd, args[0], timeout)
		},
	}
	cmd.Flags().StringVarP(&timeout, "timeout", "t", "", "Deadline for the run (e.g. 90s, 10m); defaults to supervisor.deadline")
	cmd.Flags().BoolVar(&list, "list", false, "List configured actions")
	return cmd
}

type actionInfo struct {
	Name    string   `json:"name" yaml:"name"`
	Class   string   `json:"class" yaml:"class"`
	Command []string `json:"command" yaml:"command"`
}

func listActions(cmd *cobra.Command, catalog supervisor.Catalog) error {
	var infos []actionInfo
	for _, name := range catalog.Names() {
		act, _ := catalog.Lookup(name)
		infos = append(infos, actionInfo{Name: name, Class: string(act.Class), Command: act.Command})
	}
	return formatterFor(cmd.OutOrStdout()).OutputData(infos, func(w io.Writer) error {
		t := output.NewTable(w, "ACTION", "CLASS", "COMMAND")
		for _, info := range infos {
			t.AddRow(info.Name, info.Class, output.Truncate(strings.Join(info.Command, " "), 60))
		}
		t.Render()
		return nil
	})
}

func runAction(cmd *cobra.Command, name, timeout string) error {
	var deadline time.Duration
	if timeout != "" {
		d, err := util.ParseDuration(timeout)
		if err != nil || d <= 0 {
			return output.NewCLIError(fmt.Sprintf("invalid --timeout %q", timeout)).
				WithHint("Use a positive duration such as 90s or 10m").
				WithCode("USAGE").
				WithExitCode(2)
		}
		deadline = d
	}

	st, err := buildStack(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer st.close()

	progressf(cmd, "Running %s...", name)
	out, err := st.supervisor.Run(cmd.Context(), supervisor.Request{Action: name, Deadline: deadline})
	switch {
	case errors.Is(err, supervisor.ErrUnknownAction):
		return output.UnknownActionError(name, st.supervisor.Catalog().Names())
	case errors.Is(err, supervisor.ErrBusy):
		return output.BusyError(name)
	case err != nil:
		return output.NewCLIError(fmt.Sprintf("action '%s' did not start", name)).WithCause(err.Error())
	}

	err = formatterFor(cmd.OutOrStdout()).OutputData(out.Response(), func(w io.Writer) error {
		return writeOutcome(w, out)
	})
	if err != nil {
		return err
	}
	if !out.OK() {
		return &exitError{code: 1}
	}
	return nil
}

func writeOutcome(w io.Writer, out supervisor.Outcome) error {
	r := out.Response()
	word := r.Status
	if word == "" {
		word = r.Error
	}
	fmt.Fprintf(w, "%s %s\n", output.Badge(w, word), out.Summary())
	if out.LogFile != "" {
		fmt.Fprintf(w, "  log: %s\n", out.LogFile)
	}
	if out.Output != "" {
		fmt.Fprintln(w)
		for _, line := range strings.Split(strings.TrimRight(out.Output, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}
