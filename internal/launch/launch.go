// Package launch resolves an immutable launch plan for one supervisor run.
//
// Resolution precedence per field is: start-request field, then environment
// variable, then profile field, then hard-coded default. Ports are the
// exception — they come from the profile's port block only.
package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/projectqa/sidecard/internal/profile"
	"github.com/projectqa/sidecard/internal/runtime"
)

// Default ports for the three sidecars.
const (
	DefaultWebPort      = 3000
	DefaultBackendPort  = 8080
	DefaultDatabasePort = 27017
)

// Environment variables consumed during resolution.
const (
	EnvWorkspaceRoot = "PQA_WORKSPACE_ROOT"
	EnvRuntimeMode   = "APP_RUNTIME_MODE"
	EnvSessionID     = "DESKTOP_SESSION_ID"
	EnvDatabaseBin   = "MONGOD_BIN"
	EnvBackendBin    = "PYTHON_BIN"
	EnvProfilePath   = "RUNTIME_PROFILE_PATH"
)

// ConfigurationError reports an invalid or missing workspace layout. It is
// fatal to the start attempt; no process is spawned after it.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Request carries the optional overrides of a start call. All fields are
// optional; zero values defer to environment, profile, or defaults.
type Request struct {
	Mode        string `json:"mode,omitempty"`
	ProfilePath string `json:"profile_path,omitempty"`
	WebDev      bool   `json:"web_dev,omitempty"`
	DatabaseBin string `json:"mongo_bin,omitempty"`
	BackendBin  string `json:"python_bin,omitempty"`
}

// Config is the immutable plan for one run. A new start always produces a
// fresh Config; it is never mutated afterwards.
type Config struct {
	Mode         runtime.Mode
	WebPort      int
	BackendPort  int
	DatabasePort int
	BackendURL   string
	SessionID    string
	ProfilePath  string // empty when no profile is active
	WebDev       bool
	DatabaseBin  string // empty means the database sidecar is not required
	BackendBin   string
	WebDir       string
	BackendDir   string
	DataDir      string // empty when the profile sets none
}

// BackendRequired reports whether the backend sidecar must run locally.
func (c *Config) BackendRequired() bool {
	return c.Mode == runtime.LocalFullstack
}

// DatabaseRequired reports whether the database sidecar must run locally.
// The binary's presence in the config, not just the mode, gates requirement.
func (c *Config) DatabaseRequired() bool {
	return c.Mode == runtime.LocalFullstack && c.DatabaseBin != ""
}

// Planner resolves launch configs. The zero value uses the real environment
// and clock; tests inject both.
type Planner struct {
	Env func(string) string // nil → os.Getenv
	Now func() time.Time    // nil → time.Now

	// DefaultProfile is the daemon-level profile path used when neither the
	// request nor the environment names one.
	DefaultProfile string
}

func (p *Planner) env(key string) string {
	if p.Env != nil {
		return p.Env(key)
	}
	return os.Getenv(key)
}

func (p *Planner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ProfilePath resolves the active profile file path for a request: the
// request field wins, then the environment passthrough, then the planner's
// configured default. Empty means no profile is active.
func (p *Planner) ProfilePath(req Request) string {
	if path := strings.TrimSpace(req.ProfilePath); path != "" {
		return path
	}
	if path := strings.TrimSpace(p.env(EnvProfilePath)); path != "" {
		return path
	}
	return strings.TrimSpace(p.DefaultProfile)
}

// Resolve builds the launch config from a request and an already-loaded
// profile. It validates the workspace layout — the one check performed before
// any process is spawned — and fails with a ConfigurationError when the web
// or backend directories are missing.
func (p *Planner) Resolve(req Request, prof *profile.Profile) (*Config, error) {
	if prof == nil {
		prof = &profile.Profile{}
	}

	modeRaw := strings.TrimSpace(req.Mode)
	if modeRaw == "" {
		modeRaw = strings.TrimSpace(p.env(EnvRuntimeMode))
	}
	if modeRaw == "" {
		modeRaw = prof.Mode
	}
	mode := runtime.ParseMode(modeRaw)

	webPort := DefaultWebPort
	backendPort := DefaultBackendPort
	databasePort := DefaultDatabasePort
	if ports := prof.LocalPorts; ports != nil {
		if ports.Web > 0 {
			webPort = ports.Web
		}
		if ports.Backend > 0 {
			backendPort = ports.Backend
		}
		if ports.Database > 0 {
			databasePort = ports.Database
		}
	}

	root := strings.TrimSpace(p.env(EnvWorkspaceRoot))
	if root == "" {
		if cwd, err := os.Getwd(); err == nil {
			root = cwd
		} else {
			root = "."
		}
	}
	webDir := filepath.Join(root, "web")
	backendDir := filepath.Join(root, "backend")
	if !isDir(webDir) || !isDir(backendDir) {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("workspace root not valid: web=%s backend=%s", webDir, backendDir),
		}
	}

	backendURL := fmt.Sprintf("http://127.0.0.1:%d", backendPort)
	if mode == runtime.RemoteSlim {
		backendURL = strings.TrimSpace(prof.BackendURL)
		if backendURL == "" {
			backendURL = fmt.Sprintf("http://127.0.0.1:%d", DefaultBackendPort)
		}
	}

	session := strings.TrimSpace(p.env(EnvSessionID))
	if session == "" {
		session = fmt.Sprintf("desktop-%d", p.now().UnixMilli())
	}

	databaseBin := strings.TrimSpace(req.DatabaseBin)
	if databaseBin == "" {
		databaseBin = strings.TrimSpace(p.env(EnvDatabaseBin))
	}

	backendBin := strings.TrimSpace(req.BackendBin)
	if backendBin == "" {
		backendBin = strings.TrimSpace(p.env(EnvBackendBin))
	}
	if backendBin == "" {
		backendBin = "python3"
	}

	return &Config{
		Mode:         mode,
		WebPort:      webPort,
		BackendPort:  backendPort,
		DatabasePort: databasePort,
		BackendURL:   backendURL,
		SessionID:    session,
		ProfilePath:  p.ProfilePath(req),
		WebDev:       req.WebDev,
		DatabaseBin:  databaseBin,
		BackendBin:   backendBin,
		WebDir:       webDir,
		BackendDir:   backendDir,
		DataDir:      strings.TrimSpace(prof.DataDir),
	}, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
