package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/projectqa/sidecard/internal/config"
	"github.com/projectqa/sidecard/internal/launch"
	"github.com/projectqa/sidecard/internal/supervisor"
)

func apiClient() *http.Client {
	socketPath := config.DefaultSocketPath()
	return &http.Client{
		// Start can block for the full readiness wait.
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://sidecard" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is sidecard daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiPost(path string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := apiClient().Post("http://sidecard"+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is sidecard daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, raw)
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printSnapshot(snap supervisor.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUNNING\tMODE\tWEB\tBACKEND\tDATABASE\tRESTARTS")
	pid := func(p int) string {
		if p <= 0 {
			return "-"
		}
		return strconv.Itoa(p)
	}
	fmt.Fprintf(w, "%t\t%s\t%s\t%s\t%s\t%d\n",
		snap.Running, snap.Mode, pid(snap.WebPID), pid(snap.BackendPID), pid(snap.DatabasePID), snap.RestartCount)
	w.Flush()

	fmt.Printf("\nBackend URL: %s\n", snap.BackendURL)
	fmt.Printf("Ports: web=%d backend=%d database=%d\n", snap.WebPort, snap.BackendPort, snap.DatabasePort)
	if !snap.AutoRestart && snap.Running {
		fmt.Println("Auto-restart: disabled")
	}
	if snap.LastError != "" {
		fmt.Printf("Last error: %s\n", snap.LastError)
	}
	if snap.DiagnosticsPath != "" {
		fmt.Printf("Diagnostics file: %s\n", snap.DiagnosticsPath)
	}
}

// start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sidecar runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := launch.Request{}
		req.Mode, _ = cmd.Flags().GetString("mode")
		req.ProfilePath, _ = cmd.Flags().GetString("profile")
		req.WebDev, _ = cmd.Flags().GetBool("web-dev")
		req.DatabaseBin, _ = cmd.Flags().GetString("mongo-bin")
		req.BackendBin, _ = cmd.Flags().GetString("python-bin")

		var snap supervisor.Snapshot
		if err := apiPost("/v1/runtime/start", req, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

// stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sidecar runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap supervisor.Snapshot
		if err := apiPost("/v1/runtime/stop", nil, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap supervisor.Snapshot
		if err := apiGet("/v1/runtime/status", &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

// diagnostics command
var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Show runtime status plus recent events",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("limit")
		var d supervisor.Diagnostics
		if err := apiGet("/v1/runtime/diagnostics?limit="+strconv.Itoa(n), &d); err != nil {
			return err
		}
		printSnapshot(d.Status)
		if len(d.Events) == 0 {
			fmt.Println("\nNo events")
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tLEVEL\tSOURCE\tMESSAGE")
		for _, e := range d.Events {
			ts := time.UnixMilli(e.TsMs).Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ts, e.Level, e.Source, e.Message)
		}
		w.Flush()
		return nil
	},
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs <sidecar>",
	Short: "Show recent output from a sidecar (web, backend, or database)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		var resp struct {
			Lines []string `json:"lines"`
		}
		if err := apiGet(fmt.Sprintf("/v1/runtime/logs/%s?lines=%s", args[0], strconv.Itoa(n)), &resp); err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	startCmd.Flags().String("mode", "", "runtime mode (local_fullstack or remote_slim)")
	startCmd.Flags().String("profile", "", "runtime profile path")
	startCmd.Flags().Bool("web-dev", false, "run the web sidecar with npm run dev")
	startCmd.Flags().String("mongo-bin", "", "mongod binary for the database sidecar")
	startCmd.Flags().String("python-bin", "", "python interpreter for the backend sidecar")
	diagnosticsCmd.Flags().IntP("limit", "n", supervisor.DefaultDiagLimit, "number of events to show")
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diagnosticsCmd)
	rootCmd.AddCommand(logsCmd)
}
