package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hive/pkg/daemon"
	"github.com/cuemby/hive/pkg/log"
	"github.com/cuemby/hive/pkg/metrics"
	"github.com/cuemby/hive/pkg/runtime"
	"github.com/spf13/cobra"
)

// Daemon commands
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run and inspect the node daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run the Hive daemon of this node in the foreground.

The configuration file is optional for a single node. Flags override the
file and the HIVE_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("node-name") {
			cfg.Node.Name, _ = flags.GetString("node-name")
		}
		if flags.Changed("data-dir") {
			cfg.Node.DataDir, _ = flags.GetString("data-dir")
		}
		if flags.Changed("grpc-addr") {
			cfg.Node.GRPCAddr, _ = flags.GetString("grpc-addr")
		}
		if flags.Changed("http-addr") {
			cfg.Node.HTTPAddr, _ = flags.GetString("http-addr")
		}
		if flags.Changed("log-level") {
			cfg.Log.Level, _ = flags.GetString("log-level")
		}
		if flags.Changed("log-json") {
			cfg.Log.JSON, _ = flags.GetBool("log-json")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		hub := log.NewHub(1000)
		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
			Hub:        hub,
		})
		metrics.SetVersion(Version)

		opts := daemon.Options{Hub: hub}
		if noContainerd, _ := flags.GetBool("no-containerd"); !noContainerd {
			opts.Runtime = runtime.NewRuntime(cfg.Containerd.Socket, cfg.Containerd.Namespace)
		}

		d, err := daemon.New(cfg, opts)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %v", err)
		}
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start daemon: %v", err)
		}

		// Wait for interrupt signal or server error
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case <-sigCh:
			log.Info("Shutting down")
		case runErr = <-d.Errors():
			log.Errorf("Daemon failed", runErr)
		}

		d.Stop()
		return runErr
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster dataset as seen by the daemon",
	RunE:  callCmd("GET", "daemon_status"),
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStatusCmd)

	daemonRunCmd.Flags().String("node-name", "", "Node name (default: the hostname)")
	daemonRunCmd.Flags().String("data-dir", "", "Data directory")
	daemonRunCmd.Flags().String("grpc-addr", "", "Gateway gRPC listen address")
	daemonRunCmd.Flags().String("http-addr", "", "Gateway HTTP listen address")
	daemonRunCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	daemonRunCmd.Flags().Bool("log-json", false, "Log in JSON")
	daemonRunCmd.Flags().Bool("no-containerd", false, "Do not register the container.containerd driver")
}
