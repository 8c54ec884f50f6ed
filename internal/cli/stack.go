package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/commission"
	"github.com/gnb-webdashboard/gnbdash/internal/config"
	"github.com/gnb-webdashboard/gnbdash/internal/events"
	"github.com/gnb-webdashboard/gnbdash/internal/metrics"
	"github.com/gnb-webdashboard/gnbdash/internal/output"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
)

// stack holds the components shared by the commands. Metrics is nil unless
// requested.
type stack struct {
	logger     *slog.Logger
	diag       *events.Logger
	metrics    *metrics.Collector
	supervisor *supervisor.Supervisor
	automaton  *commission.Automaton
	prober     *telemetry.Prober
}

// buildStack wires the components from c. Call close when done.
func buildStack(cmd *cobra.Command, c *config.Config, withMetrics bool) (*stack, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}

	diag, err := events.NewLogger(c.DiagnosticsOptions(logger))
	if err != nil {
		// Diagnostics are optional.
		logger.Warn("diagnostics disabled", "path", c.Diagnostics.Path, "error", err)
		diag = nil
	}

	st := &stack{logger: logger, diag: diag}
	svOpts := []supervisor.Option{supervisor.WithLogger(logger), supervisor.WithDiagnostics(diag)}
	cmOpts := []commission.Option{commission.WithLogger(logger), commission.WithDiagnostics(diag)}
	if withMetrics {
		st.metrics = metrics.New(metrics.DefaultNamespace)
		svOpts = append(svOpts, supervisor.WithRecorder(st.metrics))
		cmOpts = append(cmOpts, commission.WithRecorder(st.metrics))
	}

	st.supervisor = supervisor.New(c.Catalog(), c.SupervisorOptions(), svOpts...)
	st.automaton, err = commission.New(c.CommissionOptions(), cmOpts...)
	if err != nil {
		st.close()
		return nil, output.ConfigError(configPath(), err)
	}
	st.prober = telemetry.New(c.TelemetryOptions(), telemetry.WithLogger(logger))
	return st, nil
}

func (s *stack) close() {
	if err := s.diag.Close(); err != nil {
		s.logger.Warn("closing diagnostics", "error", err)
	}
}

// isInteractive reports whether w is a terminal.
func isInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressf writes a progress note to stderr when a person is watching.
func progressf(cmd *cobra.Command, format string, args ...any) {
	if jsonOutput || formatFlag != "" || !isInteractive(cmd.ErrOrStderr()) {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}
