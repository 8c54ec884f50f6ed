package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/output"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
)

func newStatusCmd() *cobra.Command {
	var ping string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print node status and host statistics",
		Long: `Print the node state (RUNNING, INITIALISING or OFF), the DU and RF
readiness behind it, and a snapshot of host CPU, memory and disk usage.

The core network address is pinged when the device config names one,
or when --ping is given.

Examples:
  gnbdash status
  gnbdash status --ping 10.0.0.1 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, ping)
		},
	}
	cmd.Flags().StringVar(&ping, "ping", "", "Host to ping instead of the configured core address")
	return cmd
}

type statusReport struct {
	Node           telemetry.NodeStatus `json:"node" yaml:"node"`
	Host           telemetry.HostStats  `json:"host" yaml:"host"`
	CoreIP         string               `json:"core_ip,omitempty" yaml:"core_ip,omitempty"`
	CoreConnection telemetry.Connection `json:"core_connection,omitempty" yaml:"core_connection,omitempty"`
}

func runStatus(cmd *cobra.Command, ping string) error {
	st, err := buildStack(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer st.close()

	ctx := cmd.Context()
	host, err := st.prober.Host(ctx)
	if err != nil {
		return output.NewCLIError("cannot read host statistics").WithCause(err.Error())
	}
	report := statusReport{Node: st.prober.NodeStatus(ctx), Host: host, CoreIP: ping}
	if report.CoreIP == "" {
		if doc, err := devconfig.Read(cfg.Device.ConfigPath); err == nil {
			report.CoreIP = devconfig.CoreOf(doc).NgcIP
		}
	}
	if report.CoreIP != "" {
		report.CoreConnection = st.prober.Ping(ctx, report.CoreIP)
	}

	return formatterFor(cmd.OutOrStdout()).OutputData(report, func(w io.Writer) error {
		return writeStatus(w, report)
	})
}

func writeStatus(w io.Writer, r statusReport) error {
	fmt.Fprintf(w, "Node:   %s (DU ready: %s, RF: %s)\n",
		output.Badge(w, string(r.Node.State)), yesNo(r.Node.DUReady), upDown(r.Node.RFUp))
	if r.CoreIP != "" {
		fmt.Fprintf(w, "Core:   %s %s\n", r.CoreIP, output.Badge(w, string(r.CoreConnection)))
	}
	fmt.Fprintln(w)

	h := r.Host
	t := output.NewTable(w, "METRIC", "VALUE")
	t.AddRow("CPU", fmt.Sprintf("%.1f%%", h.CPUUsage))
	if h.CPUTemp >= 0 {
		t.AddRow("CPU temp", fmt.Sprintf("%.1f C", h.CPUTemp))
	}
	t.AddRow("RAM", fmt.Sprintf("%.1f%% of %.1f GiB", h.RAMUsage, h.RAMTotal))
	t.AddRow("Disk", fmt.Sprintf("%.2f GiB used, %.2f GiB free of %.2f GiB", h.DriveUsed, h.DriveFree, h.DriveTotal))
	t.AddRow("Board time", strings.TrimSpace(h.BoardDate+" "+h.BoardTime))
	t.Render()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func upDown(b bool) string {
	if b {
		return "up"
	}
	return "down"
}
