package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gnb-webdashboard/gnbdash/internal/config"
	"github.com/gnb-webdashboard/gnbdash/internal/events"
	"github.com/gnb-webdashboard/gnbdash/internal/server"
)

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard HTTP API",
		Long: `Serve the dashboard HTTP API until interrupted.

The config file is watched: changes to [actions], [downloads] and
supervisor.log_dir apply to new requests without a restart. Other
sections are read once at startup.

Examples:
  gnbdash serve
  gnbdash serve --listen 127.0.0.1:8080 --log-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				cfg.Server.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides server.listen)")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, c *config.Config) error {
	st, err := buildStack(cmd, c, c.Server.Metrics)
	if err != nil {
		return err
	}
	defer st.close()

	var opts []server.Option
	opts = append(opts, server.WithLogger(st.logger))
	if st.metrics != nil {
		opts = append(opts, server.WithMetrics(st.metrics.Handler()))
	}
	srv := server.New(server.Options{
		Addr:            c.Server.Listen,
		AllowedOrigins:  c.Server.AllowedOrigins,
		ConfigPath:      c.Device.ConfigPath,
		Generator:       c.Commission.Generator,
		Downloads:       c.DownloadPaths(),
		ShutdownTimeout: c.Server.ShutdownTimeout.Duration,
	}, st.supervisor, st.automaton, st.prober, opts...)

	path := configPath()
	stopWatch, err := config.Watch(path, func(next *config.Config) {
		st.supervisor.SetCatalog(next.Catalog())
		srv.SetDownloads(next.DownloadPaths())
		if st.metrics != nil {
			st.metrics.ConfigReloaded(nil)
		}
		st.diag.Emit(events.EventConfigReload, "", map[string]interface{}{"path": path, "actions": next.Catalog().Names()})
		st.logger.Info("config reloaded", "path", path)
	}, func(err error) {
		if st.metrics != nil {
			st.metrics.ConfigReloaded(err)
		}
		st.diag.Emit(events.EventConfigReload, "", events.ErrorData{ErrorType: "config_reload", Message: err.Error()})
		st.logger.Warn("config reload failed, keeping previous settings", "path", path, "error", err)
	})
	if err != nil {
		st.logger.Warn("config hot reload unavailable", "path", path, "error", err)
	} else {
		defer stopWatch()
	}

	go st.prober.Run(ctx)

	st.logger.Info("starting gnbdash", "version", Version, "listen", c.Server.Listen, "config", path, "device_config", c.Device.ConfigPath)
	return srv.Run(ctx)
}
