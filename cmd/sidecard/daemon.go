package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/projectqa/sidecard/internal/api"
	"github.com/projectqa/sidecard/internal/config"
	"github.com/projectqa/sidecard/internal/eventlog"
	"github.com/projectqa/sidecard/internal/launch"
	"github.com/projectqa/sidecard/internal/monitor"
	"github.com/projectqa/sidecard/internal/supervisor"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sidecard daemon",
	Long:  "Start the sidecar supervisor daemon. Manages the web, backend, and database processes for the desktop app.",
	RunE:  runDaemon,
}

var (
	apiAddr     string
	metricsAddr string
	configPath  string
)

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for the control API (e.g. 127.0.0.1:9090)")
	daemonCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Optional address for Prometheus metrics (e.g. 127.0.0.1:2112)")
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Config file path (default ~/.sidecard/config.yaml)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if apiAddr == "" {
		apiAddr = cfg.APIAddr
	}
	if metricsAddr == "" {
		metricsAddr = cfg.MetricsAddr
	}

	slog.Info("sidecard daemon starting", "config", path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	events := eventlog.New()
	events.Resolve("")
	planner := &launch.Planner{DefaultProfile: cfg.ProfilePath}
	sup := supervisor.New(events, supervisor.WithPlanner(planner))

	if profilePath := planner.ProfilePath(launch.Request{}); profilePath != "" {
		go func() {
			if err := sup.WatchProfile(ctx, profilePath); err != nil {
				slog.Warn("profile watcher stopped", "error", err)
			}
		}()
	}

	socketPath := config.DefaultSocketPath()
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(sup)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	if apiAddr != "" {
		go func() {
			if err := srv.ListenTCP(apiAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	if metricsAddr != "" {
		monitor.Serve(metricsAddr)
	}

	slog.Info("sidecard daemon ready", "socket", socketPath)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	sup.Stop()
	srv.Shutdown(context.Background())
	os.Remove(socketPath)

	slog.Info("sidecard daemon stopped")
	return nil
}
