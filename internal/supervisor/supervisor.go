// Package supervisor owns the runtime state of the three sidecar processes
// and exposes the four lifecycle operations: start, stop, status, and
// diagnostics.
//
// A single exclusive lock serializes all four operations and the reconciler
// for their full duration. Spawning and readiness waits happen while the lock
// is held, so one call can stall others for tens of seconds; this is a
// deliberate simplification — concurrent calls are never interleaved. The
// lock itself cannot fail, so no lock-error path exists.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/projectqa/sidecard/internal/eventlog"
	"github.com/projectqa/sidecard/internal/launch"
	"github.com/projectqa/sidecard/internal/monitor"
	"github.com/projectqa/sidecard/internal/probe"
	"github.com/projectqa/sidecard/internal/profile"
	"github.com/projectqa/sidecard/internal/runtime"
	"github.com/projectqa/sidecard/internal/spawn"
)

const (
	// startReadyTimeout bounds the web/backend readiness wait on initial start.
	startReadyTimeout = 35 * time.Second

	// restartReadyTimeout bounds per-sidecar readiness on a watchdog restart.
	restartReadyTimeout = 30 * time.Second

	// throttleWindow and maxRestartBurst form the circuit breaker: once
	// maxRestartBurst restarts have happened and the latest was inside the
	// window, auto-restart is disabled for the rest of the run.
	throttleWindow  = 90 * time.Second
	maxRestartBurst = 6
)

// Diagnostics limit bounds.
const (
	DefaultDiagLimit = 80
	MaxDiagLimit     = 300
)

// Process is a live sidecar as the supervisor sees it.
type Process interface {
	PID() int
	Exited() (spawn.ExitState, bool)
	Kill()
	Tail(n int) []string
}

// Spawner starts sidecar processes. The production implementation wraps
// spawn.Spawner; tests substitute fakes.
type Spawner interface {
	StartWeb(cfg *launch.Config) (Process, error)
	StartBackend(cfg *launch.Config) (Process, error)
	StartDatabase(cfg *launch.Config) (Process, error)
}

// ProbeFunc blocks until a loopback TCP port accepts connections or the
// timeout elapses.
type ProbeFunc func(ctx context.Context, port int, timeout time.Duration) bool

// Snapshot is the read-only projection of supervisor state returned to
// callers. Field layout matches the desktop shell's status contract.
type Snapshot struct {
	Running         bool   `json:"running"`
	Mode            string `json:"mode"`
	WebPID          int    `json:"web_pid,omitempty"`
	BackendPID      int    `json:"backend_pid,omitempty"`
	DatabasePID     int    `json:"database_pid,omitempty"`
	StartedAtMs     int64  `json:"started_at_ms,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	WebPort         int    `json:"web_port"`
	BackendPort     int    `json:"backend_port"`
	DatabasePort    int    `json:"database_port"`
	BackendURL      string `json:"backend_url"`
	AutoRestart     bool   `json:"auto_restart"`
	RestartCount    int    `json:"restart_count"`
	LastRestartMs   int64  `json:"last_restart_ms,omitempty"`
	DiagnosticsPath string `json:"diagnostics_path,omitempty"`
}

// Diagnostics bundles a status snapshot with recent events.
type Diagnostics struct {
	GeneratedAtMs int64            `json:"generated_at_ms"`
	Status        Snapshot         `json:"status"`
	Events        []eventlog.Event `json:"events"`
}

// Supervisor is the single owner of runtime process state.
type Supervisor struct {
	planner *launch.Planner
	spawner Spawner
	probe   ProbeFunc
	events  *eventlog.Log
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
	st state
}

// state is the mutable runtime state, guarded by Supervisor.mu.
type state struct {
	running       bool
	mode          runtime.Mode
	web           Process
	backend       Process
	database      Process
	startedAtMs   int64
	lastError     string
	webPort       int
	backendPort   int
	databasePort  int
	backendURL    string
	autoRestart   bool
	restartCount  int
	lastRestartMs int64
	cfg           *launch.Config
}

// Option configures the supervisor.
type Option func(*Supervisor)

// WithSpawner substitutes the process spawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) { s.spawner = sp }
}

// WithProbe substitutes the readiness prober.
func WithProbe(p ProbeFunc) Option {
	return func(s *Supervisor) { s.probe = p }
}

// WithPlanner substitutes the launch planner.
func WithPlanner(p *launch.Planner) Option {
	return func(s *Supervisor) { s.planner = p }
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// New creates a supervisor in the stopped state, recording activity to the
// given event log.
func New(events *eventlog.Log, opts ...Option) *Supervisor {
	s := &Supervisor{
		planner: &launch.Planner{},
		spawner: osSpawner{sp: &spawn.Spawner{}},
		probe:   probe.WaitForPort,
		events:  events,
		logger:  slog.With("component", "supervisor"),
		now:     time.Now,
		st: state{
			mode:         runtime.LocalFullstack,
			webPort:      launch.DefaultWebPort,
			backendPort:  launch.DefaultBackendPort,
			databasePort: launch.DefaultDatabasePort,
			backendURL:   fmt.Sprintf("http://127.0.0.1:%d", launch.DefaultBackendPort),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// osSpawner adapts spawn.Spawner to the Process-returning interface.
type osSpawner struct {
	sp *spawn.Spawner
}

func (o osSpawner) StartWeb(cfg *launch.Config) (Process, error) {
	h, err := o.sp.StartWeb(cfg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (o osSpawner) StartBackend(cfg *launch.Config) (Process, error) {
	h, err := o.sp.StartBackend(cfg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (o osSpawner) StartDatabase(cfg *launch.Config) (Process, error) {
	h, err := o.sp.StartDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Start launches the sidecar topology. When a reconciliation shows the
// supervisor already running, it returns the current snapshot without side
// effects.
func (s *Supervisor) Start(req launch.Request) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Resolve("")
	s.reconcileLocked()
	if s.st.running {
		s.eventLocked("info", "runtime", "Start requested while already running")
		return s.snapshotLocked(), nil
	}

	profilePath := s.planner.ProfilePath(req)
	prof, perr := profile.Load(profilePath)
	s.events.Resolve(prof.DataDir)
	if perr != nil && profilePath != "" {
		s.eventLocked("warn", "runtime", fmt.Sprintf("Runtime profile unusable, continuing with defaults: %v", perr))
	}

	cfg, err := s.planner.Resolve(req, prof)
	if err != nil {
		s.failStartLocked("config_error", err.Error())
		return s.snapshotLocked(), err
	}

	// Stale handles from a previous run are never reused.
	s.stopProcessesLocked()

	s.eventLocked("info", "runtime", fmt.Sprintf(
		"Start requested: mode=%s web_port=%d backend_port=%d database_port=%d",
		cfg.Mode, cfg.WebPort, cfg.BackendPort, cfg.DatabasePort))

	s.st.cfg = cfg
	s.st.autoRestart = true
	s.st.restartCount = 0
	s.st.lastRestartMs = 0

	if cfg.DatabaseRequired() {
		h, err := s.spawner.StartDatabase(cfg)
		if err != nil {
			s.abortStartLocked("spawn_error", err)
			return s.snapshotLocked(), err
		}
		s.st.database = h
	}

	if cfg.BackendRequired() {
		h, err := s.spawner.StartBackend(cfg)
		if err != nil {
			s.abortStartLocked("spawn_error", err)
			return s.snapshotLocked(), err
		}
		s.st.backend = h
	}

	h, err := s.spawner.StartWeb(cfg)
	if err != nil {
		s.abortStartLocked("spawn_error", err)
		return s.snapshotLocked(), err
	}
	s.st.web = h

	ctx := context.Background()
	webOK := s.probe(ctx, cfg.WebPort, startReadyTimeout)
	backendOK := true
	if cfg.BackendRequired() {
		backendOK = s.probe(ctx, cfg.BackendPort, startReadyTimeout)
	}
	if !webOK || !backendOK {
		var late []string
		if !webOK {
			late = append(late, "web")
		}
		if !backendOK {
			late = append(late, "backend")
		}
		err := &ReadinessTimeoutError{Sidecars: late}
		s.abortStartLocked("not_ready", err)
		return s.snapshotLocked(), err
	}

	s.st.running = true
	s.st.mode = cfg.Mode
	s.st.startedAtMs = s.now().UnixMilli()
	s.st.lastError = ""
	s.st.webPort = cfg.WebPort
	s.st.backendPort = cfg.BackendPort
	s.st.databasePort = cfg.DatabasePort
	s.st.backendURL = cfg.BackendURL
	s.eventLocked("info", "runtime", "Runtime started successfully")
	monitor.StartsTotal.WithLabelValues("ok").Inc()
	monitor.Running.Set(1)
	s.logger.Info("runtime started", "mode", cfg.Mode.String(), "web_port", cfg.WebPort)

	return s.snapshotLocked(), nil
}

// Stop tears everything down. It always succeeds: kill and wait failures on
// the way down are suppressed.
func (s *Supervisor) Stop() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Resolve("")
	s.eventLocked("info", "runtime", "Stop requested")
	s.stopAllLocked()
	s.st.lastError = ""
	s.eventLocked("info", "runtime", "Runtime stopped")
	monitor.Running.Set(0)
	s.logger.Info("runtime stopped")
	return s.snapshotLocked()
}

// Status reconciles current reality and returns a snapshot. Reconciliation
// may restart dead sidecars, so this read has a mutating side effect.
func (s *Supervisor) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Resolve("")
	s.reconcileLocked()
	return s.snapshotLocked()
}

// DiagnosticsReport reconciles, then returns the snapshot plus the most
// recent limit events, oldest first. The limit is clamped to
// [1, MaxDiagLimit]; callers that have no explicit limit pass
// DefaultDiagLimit.
func (s *Supervisor) DiagnosticsReport(limit int) Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events.Resolve("")
	s.reconcileLocked()

	if limit < 1 {
		limit = 1
	}
	if limit > MaxDiagLimit {
		limit = MaxDiagLimit
	}
	return Diagnostics{
		GeneratedAtMs: s.now().UnixMilli(),
		Status:        s.snapshotLocked(),
		Events:        s.events.Recent(limit),
	}
}

// SidecarLogs returns up to n recent output lines from a live sidecar.
func (s *Supervisor) SidecarLogs(name string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p Process
	switch name {
	case "web":
		p = s.st.web
	case "backend":
		p = s.st.backend
	case "database":
		p = s.st.database
	default:
		return nil, fmt.Errorf("unknown sidecar %q", name)
	}
	if p == nil {
		return nil, fmt.Errorf("sidecar %q is not running", name)
	}
	return p.Tail(n), nil
}

// NotifyProfileChanged records a profile edit observed on disk. The new
// content takes effect on the next start.
func (s *Supervisor) NotifyProfileChanged(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLocked("info", "runtime", fmt.Sprintf("Runtime profile changed on disk: %s (applies on next start)", path))
}

// failStartLocked records a start failure that happened before any process
// was spawned.
func (s *Supervisor) failStartLocked(outcome, msg string) {
	s.eventLocked("error", "runtime", msg)
	s.st.lastError = msg
	monitor.StartsTotal.WithLabelValues(outcome).Inc()
}

// abortStartLocked tears down a partially-started topology. Initial start is
// all-or-nothing: siblings already spawned are stopped and the launch state
// is cleared so the watchdog does not resurrect a failed start.
func (s *Supervisor) abortStartLocked(outcome string, cause error) {
	s.stopAllLocked()
	s.eventLocked("error", "runtime", cause.Error())
	s.st.lastError = cause.Error()
	monitor.StartsTotal.WithLabelValues(outcome).Inc()
	s.logger.Error("start failed", "error", cause)
}

// eventLocked appends a diagnostic event. Caller must hold s.mu.
func (s *Supervisor) eventLocked(level, source, message string) {
	s.events.Append(level, source, message)
	monitor.EventsTotal.WithLabelValues(level).Inc()
}

func (s *Supervisor) stopProcessesLocked() {
	for _, p := range []Process{s.st.web, s.st.backend, s.st.database} {
		if p != nil {
			p.Kill()
		}
	}
	s.st.web, s.st.backend, s.st.database = nil, nil, nil
	s.st.running = false
}

func (s *Supervisor) clearLaunchLocked() {
	s.st.autoRestart = false
	s.st.restartCount = 0
	s.st.lastRestartMs = 0
	s.st.cfg = nil
}

func (s *Supervisor) stopAllLocked() {
	s.stopProcessesLocked()
	s.clearLaunchLocked()
}

func (s *Supervisor) snapshotLocked() Snapshot {
	snap := Snapshot{
		Running:         s.st.running,
		Mode:            s.st.mode.String(),
		StartedAtMs:     s.st.startedAtMs,
		LastError:       s.st.lastError,
		WebPort:         s.st.webPort,
		BackendPort:     s.st.backendPort,
		DatabasePort:    s.st.databasePort,
		BackendURL:      s.st.backendURL,
		AutoRestart:     s.st.autoRestart,
		RestartCount:    s.st.restartCount,
		LastRestartMs:   s.st.lastRestartMs,
		DiagnosticsPath: s.events.Path(),
	}
	if s.st.web != nil {
		snap.WebPID = s.st.web.PID()
	}
	if s.st.backend != nil {
		snap.BackendPID = s.st.backend.PID()
	}
	if s.st.database != nil {
		snap.DatabasePID = s.st.database.PID()
	}
	return snap
}
