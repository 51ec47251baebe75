package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/projectqa/sidecard/internal/monitor"
)

// reconcileLocked compares desired state (a launch config with auto-restart
// enabled) against observed state (live handles) and corrects divergence.
// It runs at the top of every start/status/diagnostics call; there is no
// background timer — reconciliation is pulled by API traffic.
// Caller must hold s.mu.
func (s *Supervisor) reconcileLocked() {
	exited := s.pollExitsLocked()
	if len(exited) > 0 {
		s.st.lastError = strings.Join(exited, " | ")
	}

	attempt := s.st.autoRestart && s.st.cfg != nil &&
		(len(exited) > 0 || !s.runningPredicateLocked())
	if attempt {
		now := s.now().UnixMilli()
		recent := s.st.lastRestartMs != 0 && now-s.st.lastRestartMs < throttleWindow.Milliseconds()
		if !recent {
			// Outside the rolling window earlier restarts no longer count
			// against the breaker.
			s.st.restartCount = 0
		}
		if recent && s.st.restartCount >= maxRestartBurst {
			s.st.autoRestart = false
			msg := "Auto-restart disabled after repeated sidecar failures"
			s.eventLocked("error", "watchdog", msg)
			s.st.lastError = msg
			s.logger.Error("auto-restart circuit breaker tripped", "restart_count", s.st.restartCount)
		} else if err := s.restartMissingLocked(); err != nil {
			msg := fmt.Sprintf("Auto-restart failed: %v", err)
			s.eventLocked("error", "watchdog", msg)
			s.st.lastError = msg
		}
	}

	s.st.running = s.runningPredicateLocked()
	if s.st.running {
		monitor.Running.Set(1)
	} else {
		monitor.Running.Set(0)
	}
}

// runningPredicateLocked recomputes the running flag from first principles:
// a launch config exists, web is alive, and backend/database are alive
// whenever the config requires them. Never cached independently.
func (s *Supervisor) runningPredicateLocked() bool {
	cfg := s.st.cfg
	if cfg == nil {
		return false
	}
	if s.st.web == nil {
		return false
	}
	if cfg.BackendRequired() && s.st.backend == nil {
		return false
	}
	if cfg.DatabaseRequired() && s.st.database == nil {
		return false
	}
	return true
}

// pollExitsLocked polls each live handle non-blockingly. Exited processes
// are logged as warnings with the process name as source and removed from
// state. Returns the exit descriptions.
func (s *Supervisor) pollExitsLocked() []string {
	var exited []string

	check := func(name string, p *Process) {
		if *p == nil {
			return
		}
		st, done := (*p).Exited()
		if !done {
			return
		}
		desc := st.Describe(name)
		s.eventLocked("warn", name, desc)
		s.logger.Warn("sidecar exited", "sidecar", name, "exit_code", st.Code)
		exited = append(exited, desc)
		*p = nil
	}

	check("web", &s.st.web)
	check("backend", &s.st.backend)
	check("database", &s.st.database)
	return exited
}

// restartMissingLocked respawns every currently-missing required sidecar in
// order web, backend, database. A failure aborts the remaining restarts but
// leaves already-running siblings alone.
func (s *Supervisor) restartMissingLocked() error {
	cfg := s.st.cfg
	if cfg == nil {
		return nil
	}

	ctx := context.Background()
	var restarted []string

	if s.st.web == nil {
		s.eventLocked("warn", "watchdog", "Restarting web sidecar")
		h, err := s.spawner.StartWeb(cfg)
		if err != nil {
			return err
		}
		s.st.web = h
		if !s.probe(ctx, cfg.WebPort, restartReadyTimeout) {
			h.Kill()
			s.st.web = nil
			return &ReadinessTimeoutError{Sidecars: []string{"web"}, Restart: true}
		}
		restarted = append(restarted, "web")
	}

	if cfg.BackendRequired() && s.st.backend == nil {
		s.eventLocked("warn", "watchdog", "Restarting backend sidecar")
		h, err := s.spawner.StartBackend(cfg)
		if err != nil {
			return err
		}
		s.st.backend = h
		if !s.probe(ctx, cfg.BackendPort, restartReadyTimeout) {
			h.Kill()
			s.st.backend = nil
			return &ReadinessTimeoutError{Sidecars: []string{"backend"}, Restart: true}
		}
		restarted = append(restarted, "backend")
	}

	// The database has no readiness wait, only a successful spawn check.
	if cfg.DatabaseRequired() && s.st.database == nil {
		s.eventLocked("warn", "watchdog", "Restarting database sidecar")
		h, err := s.spawner.StartDatabase(cfg)
		if err != nil {
			return err
		}
		s.st.database = h
		restarted = append(restarted, "database")
	}

	if len(restarted) > 0 {
		s.st.restartCount++
		s.st.lastRestartMs = s.now().UnixMilli()
		for _, name := range restarted {
			monitor.RestartsTotal.WithLabelValues(name).Inc()
		}
		s.eventLocked("info", "watchdog", "Recovered sidecars: "+strings.Join(restarted, ", "))
		s.logger.Info("sidecars recovered", "sidecars", restarted, "restart_count", s.st.restartCount)
	}
	return nil
}
