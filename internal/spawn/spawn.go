// Package spawn starts and stops the three sidecar processes described by a
// launch config. It owns the argument and environment contracts each sidecar
// expects; deciding whether a sidecar is required is the supervisor's job.
package spawn

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sync"

	"github.com/projectqa/sidecard/internal/launch"
)

// ringLines bounds the per-sidecar output capture.
const ringLines = 500

// SpawnError reports that the OS failed to create a sidecar process.
type SpawnError struct {
	Sidecar string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s sidecar: %v", e.Sidecar, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitState describes how a sidecar process ended.
type ExitState struct {
	Code int    // exit code; -1 when unknown (signal or wait failure)
	Err  string // non-empty when the status check itself failed
}

// Describe renders the exit for diagnostic events.
func (s ExitState) Describe(name string) string {
	if s.Err != "" {
		return fmt.Sprintf("%s process status check failed", name)
	}
	if s.Code >= 0 {
		return fmt.Sprintf("%s exited with code %d", name, s.Code)
	}
	return fmt.Sprintf("%s exited", name)
}

// Handle is a live sidecar process. Exit status is reaped by a background
// goroutine so polling never blocks.
type Handle struct {
	name string
	cmd  *exec.Cmd
	ring *outputRing
	done chan struct{}

	mu   sync.Mutex
	exit ExitState
}

// Name returns the sidecar name ("web", "backend", or "database").
func (h *Handle) Name() string { return h.name }

// PID returns the OS process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Exited polls the process without blocking. It reports the exit state and
// true once the process has ended.
func (h *Handle) Exited() (ExitState, bool) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.exit, true
	default:
		return ExitState{}, false
	}
}

// Kill force-terminates the process and waits for it to be reaped. Errors are
// suppressed: killing an already-dead process is not a failure.
func (h *Handle) Kill() {
	if h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}
	<-h.done
}

// Tail returns up to n recent output lines from the sidecar.
func (h *Handle) Tail(n int) []string {
	return h.ring.Tail(n)
}

// Spawner starts sidecar processes per a validated launch config.
type Spawner struct {
	Logger *slog.Logger
}

func (s *Spawner) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// StartDatabase launches the database sidecar. The caller must have checked
// that the config requires it (binary configured, local fullstack mode).
// When a data directory is configured, a dedicated sub-directory is created
// for the database files; creation failures are best-effort and left to the
// process itself to surface.
func (s *Spawner) StartDatabase(cfg *launch.Config) (*Handle, error) {
	return s.start("database", databaseCmd(cfg))
}

func databaseCmd(cfg *launch.Config) *exec.Cmd {
	args := []string{"--port", fmt.Sprintf("%d", cfg.DatabasePort)}
	if cfg.DataDir != "" {
		dbDir := filepath.Join(cfg.DataDir, "mongo")
		_ = os.MkdirAll(dbDir, 0o755)
		args = append(args, "--dbpath", dbDir)
	}
	cmd := exec.Command(cfg.DatabaseBin, args...)
	cmd.Env = os.Environ()
	return cmd
}

// StartBackend launches the backend sidecar with the interpreter, fixed
// arguments, and environment the backend process expects.
func (s *Spawner) StartBackend(cfg *launch.Config) (*Handle, error) {
	return s.start("backend", backendCmd(cfg))
}

func backendCmd(cfg *launch.Config) *exec.Cmd {
	cmd := exec.Command(cfg.BackendBin,
		"scripts/run_backend.py",
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", cfg.BackendPort),
		"--runtime-mode", cfg.Mode.ChildString(),
	)
	cmd.Dir = cfg.BackendDir
	cmd.Env = append(os.Environ(),
		"APP_RUNTIME_MODE="+cfg.Mode.ChildString(),
		"APP_BACKEND_ORIGIN=local",
		"DESKTOP_SESSION_ID="+cfg.SessionID,
		fmt.Sprintf("MONGODB_URI=mongodb://127.0.0.1:%d", cfg.DatabasePort),
	)
	if cfg.ProfilePath != "" {
		cmd.Env = append(cmd.Env, launch.EnvProfilePath+"="+cfg.ProfilePath)
	}
	return cmd
}

// StartWeb launches the web sidecar via the web project's package runner,
// in development mode or production "start standalone" mode.
func (s *Spawner) StartWeb(cfg *launch.Config) (*Handle, error) {
	return s.start("web", webCmd(cfg))
}

func webCmd(cfg *launch.Config) *exec.Cmd {
	args := []string{"run", "dev"}
	if !cfg.WebDev {
		args = []string{"run", "start:standalone"}
		if cfg.ProfilePath != "" {
			args = append(args, "--", "--runtime-profile", cfg.ProfilePath)
		}
	}
	cmd := exec.Command(npmBin(), args...)
	cmd.Dir = cfg.WebDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PORT=%d", cfg.WebPort),
		"BACKEND_BASE_URL="+cfg.BackendURL,
		"APP_RUNTIME_MODE="+cfg.Mode.ChildString(),
		"DESKTOP_SESSION_ID="+cfg.SessionID,
	)
	if cfg.ProfilePath != "" {
		cmd.Env = append(cmd.Env, launch.EnvProfilePath+"="+cfg.ProfilePath)
	}
	return cmd
}

func (s *Spawner) start(name string, cmd *exec.Cmd) (*Handle, error) {
	ring := newOutputRing(ringLines)
	cmd.Stdout = ring
	cmd.Stderr = ring

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Sidecar: name, Err: err}
	}

	h := &Handle{
		name: name,
		cmd:  cmd,
		ring: ring,
		done: make(chan struct{}),
	}
	s.logger().Info("sidecar started", "sidecar", name, "pid", h.PID())

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		switch e := err.(type) {
		case nil:
			h.exit = ExitState{Code: 0}
		case *exec.ExitError:
			h.exit = ExitState{Code: e.ExitCode()}
		default:
			h.exit = ExitState{Code: -1, Err: err.Error()}
		}
		h.mu.Unlock()
		close(h.done)
	}()

	return h, nil
}

func npmBin() string {
	if goruntime.GOOS == "windows" {
		return "npm.cmd"
	}
	return "npm"
}
