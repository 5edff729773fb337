package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/daemon"
	"github.com/fakeyudi/tripsync/internal/metrics"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the queue draining in the background and serve the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.NewRegistry(reg)

		d := daemon.New(daemon.Options{
			Addr:     a.cfg.DaemonAddr,
			DataDir:  a.dataDir,
			Debounce: a.cfg.SyncDebounce.Std(),
		}, daemon.Deps{
			Engine:   a.engine(m),
			Queue:    a.queue,
			Monitor:  a.monitor,
			Gatherer: reg,
			Metrics:  m,
			Log:      a.log,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.Printf("Daemon listening on %s (Ctrl+C to stop).\n", a.cfg.DaemonAddr)
		return d.Run(ctx)
	},
}

var foregroundCmd = &cobra.Command{
	Use:   "foreground",
	Short: "Tell the daemon the app is back in front; it syncs if anything is waiting",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		if err := daemon.NewClient(c.DaemonAddr, 5*time.Second).Foreground(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("Daemon notified.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd, foregroundCmd)
}
