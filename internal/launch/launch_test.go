package launch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectqa/sidecard/internal/profile"
	"github.com/projectqa/sidecard/internal/runtime"
)

// newWorkspace creates a valid workspace root with web/ and backend/ subdirs.
func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, sub := range []string{"web", "backend"} {
		if err := os.Mkdir(filepath.Join(root, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func planner(env map[string]string) *Planner {
	return &Planner{
		Env: func(key string) string { return env[key] },
		Now: func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func TestResolveDefaults(t *testing.T) {
	root := newWorkspace(t)
	p := planner(map[string]string{EnvWorkspaceRoot: root})

	cfg, err := p.Resolve(Request{}, &profile.Profile{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Mode != runtime.LocalFullstack {
		t.Errorf("mode = %v", cfg.Mode)
	}
	if cfg.WebPort != 3000 || cfg.BackendPort != 8080 || cfg.DatabasePort != 27017 {
		t.Errorf("ports = %d/%d/%d", cfg.WebPort, cfg.BackendPort, cfg.DatabasePort)
	}
	if cfg.BackendURL != "http://127.0.0.1:8080" {
		t.Errorf("backendURL = %s", cfg.BackendURL)
	}
	if cfg.SessionID != "desktop-1700000000000" {
		t.Errorf("sessionID = %s", cfg.SessionID)
	}
	if cfg.BackendBin != "python3" {
		t.Errorf("backendBin = %s", cfg.BackendBin)
	}
	if cfg.WebDir != filepath.Join(root, "web") || cfg.BackendDir != filepath.Join(root, "backend") {
		t.Errorf("dirs = %s / %s", cfg.WebDir, cfg.BackendDir)
	}
	if cfg.DatabaseRequired() {
		t.Error("database must not be required without a binary path")
	}
	if !cfg.BackendRequired() {
		t.Error("backend must be required in local fullstack mode")
	}
}

func TestResolveLocalBackendURLOverridesProfile(t *testing.T) {
	p := planner(map[string]string{EnvWorkspaceRoot: newWorkspace(t)})

	// In local fullstack the backend URL is always computed from the backend
	// port, regardless of any profile-supplied URL.
	prof := &profile.Profile{
		BackendURL: "https://remote.example.com",
		LocalPorts: &profile.Ports{Backend: 9191},
	}
	cfg, err := p.Resolve(Request{Mode: "local_fullstack"}, prof)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.BackendURL != "http://127.0.0.1:9191" {
		t.Errorf("backendURL = %s, want computed loopback", cfg.BackendURL)
	}
}

func TestResolveRemoteSlimBackendURL(t *testing.T) {
	p := planner(map[string]string{EnvWorkspaceRoot: newWorkspace(t)})

	prof := &profile.Profile{BackendURL: "https://remote.example.com"}
	cfg, err := p.Resolve(Request{Mode: "remote_slim"}, prof)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.BackendURL != "https://remote.example.com" {
		t.Errorf("backendURL = %s, want profile value", cfg.BackendURL)
	}
	if cfg.BackendRequired() {
		t.Error("backend must not be required in remote slim mode")
	}

	// Without a profile URL the default loopback applies.
	cfg, err = p.Resolve(Request{Mode: "remote_slim"}, &profile.Profile{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.BackendURL != "http://127.0.0.1:8080" {
		t.Errorf("backendURL = %s, want default loopback", cfg.BackendURL)
	}
}

func TestResolveModePrecedence(t *testing.T) {
	env := map[string]string{
		EnvWorkspaceRoot: newWorkspace(t),
		EnvRuntimeMode:   "remote_slim",
	}
	p := planner(env)

	// Request beats environment.
	cfg, err := p.Resolve(Request{Mode: "local_fullstack"}, &profile.Profile{Mode: "remote_slim"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != runtime.LocalFullstack {
		t.Errorf("request mode should win, got %v", cfg.Mode)
	}

	// Environment beats profile.
	cfg, err = p.Resolve(Request{}, &profile.Profile{Mode: "local_fullstack"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != runtime.RemoteSlim {
		t.Errorf("environment mode should win over profile, got %v", cfg.Mode)
	}

	// Profile applies when request and environment are silent.
	delete(env, EnvRuntimeMode)
	cfg, err = p.Resolve(Request{}, &profile.Profile{Mode: "remote_slim"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != runtime.RemoteSlim {
		t.Errorf("profile mode should apply, got %v", cfg.Mode)
	}
}

func TestResolveBinaryOverrides(t *testing.T) {
	env := map[string]string{
		EnvWorkspaceRoot: newWorkspace(t),
		EnvDatabaseBin:   "/opt/db/mongod",
		EnvBackendBin:    "/usr/bin/python3.12",
	}
	p := planner(env)

	cfg, err := p.Resolve(Request{}, &profile.Profile{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DatabaseBin != "/opt/db/mongod" || cfg.BackendBin != "/usr/bin/python3.12" {
		t.Errorf("env binaries not applied: %s / %s", cfg.DatabaseBin, cfg.BackendBin)
	}
	if !cfg.DatabaseRequired() {
		t.Error("database should be required once a binary is configured")
	}

	cfg, err = p.Resolve(Request{DatabaseBin: "/custom/mongod", BackendBin: "/custom/python"}, &profile.Profile{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.DatabaseBin != "/custom/mongod" || cfg.BackendBin != "/custom/python" {
		t.Errorf("request binaries should win: %s / %s", cfg.DatabaseBin, cfg.BackendBin)
	}
}

func TestResolveSessionIDFromEnv(t *testing.T) {
	p := planner(map[string]string{
		EnvWorkspaceRoot: newWorkspace(t),
		EnvSessionID:     "desktop-abc",
	})
	cfg, err := p.Resolve(Request{}, &profile.Profile{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.SessionID != "desktop-abc" {
		t.Errorf("sessionID = %s", cfg.SessionID)
	}
}

func TestResolveInvalidWorkspace(t *testing.T) {
	root := t.TempDir() // neither web/ nor backend/ exists
	p := planner(map[string]string{EnvWorkspaceRoot: root})

	_, err := p.Resolve(Request{}, &profile.Profile{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestResolveDatabasePortDrivesConnection(t *testing.T) {
	p := planner(map[string]string{EnvWorkspaceRoot: newWorkspace(t)})

	prof := &profile.Profile{LocalPorts: &profile.Ports{Web: 4000, Database: 28000}}
	cfg, err := p.Resolve(Request{DatabaseBin: "/opt/db/mongod"}, prof)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.WebPort != 4000 {
		t.Errorf("webPort = %d", cfg.WebPort)
	}
	if cfg.DatabasePort != 28000 {
		t.Errorf("databasePort = %d, want profile value", cfg.DatabasePort)
	}
	if cfg.BackendPort != 8080 {
		t.Errorf("absent backend port should default, got %d", cfg.BackendPort)
	}
}

func TestProfilePathPrecedence(t *testing.T) {
	p := planner(map[string]string{EnvProfilePath: "/env/profile.json"})
	p.DefaultProfile = "/daemon/profile.json"
	if got := p.ProfilePath(Request{ProfilePath: "/req/profile.json"}); got != "/req/profile.json" {
		t.Errorf("request path should win, got %s", got)
	}
	if got := p.ProfilePath(Request{}); got != "/env/profile.json" {
		t.Errorf("env path should apply, got %s", got)
	}
}

func TestProfilePathConfiguredDefault(t *testing.T) {
	p := planner(nil)
	p.DefaultProfile = "/daemon/profile.json"
	if got := p.ProfilePath(Request{}); got != "/daemon/profile.json" {
		t.Errorf("configured default should apply, got %s", got)
	}

	root := newWorkspace(t)
	p.Env = func(key string) string {
		if key == EnvWorkspaceRoot {
			return root
		}
		return ""
	}
	cfg, err := p.Resolve(Request{}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ProfilePath != "/daemon/profile.json" {
		t.Errorf("resolved config should carry the default profile, got %s", cfg.ProfilePath)
	}
}
