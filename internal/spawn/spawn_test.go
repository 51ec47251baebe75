package spawn

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/projectqa/sidecard/internal/launch"
	"github.com/projectqa/sidecard/internal/runtime"
)

func testConfig(t *testing.T) *launch.Config {
	t.Helper()
	return &launch.Config{
		Mode:         runtime.LocalFullstack,
		WebPort:      4000,
		BackendPort:  9000,
		DatabasePort: 28000,
		BackendURL:   "http://127.0.0.1:9000",
		SessionID:    "desktop-1",
		BackendBin:   "python3",
		DatabaseBin:  "/opt/db/mongod",
		WebDir:       filepath.Join(t.TempDir(), "web"),
		BackendDir:   filepath.Join(t.TempDir(), "backend"),
	}
}

func envValue(env []string, key string) (string, bool) {
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestDatabaseCmd(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataDir = t.TempDir()

	cmd := databaseCmd(cfg)
	want := []string{"/opt/db/mongod", "--port", "28000", "--dbpath", filepath.Join(cfg.DataDir, "mongo")}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestDatabaseCmdWithoutDataDir(t *testing.T) {
	cmd := databaseCmd(testConfig(t))
	want := []string{"/opt/db/mongod", "--port", "28000"}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestBackendCmd(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProfilePath = "/tmp/profile.json"

	cmd := backendCmd(cfg)
	want := []string{
		"python3", "scripts/run_backend.py",
		"--host", "127.0.0.1",
		"--port", "9000",
		"--runtime-mode", "desktop_local_fullstack",
	}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.Dir != cfg.BackendDir {
		t.Errorf("dir = %s", cmd.Dir)
	}

	for key, want := range map[string]string{
		"APP_RUNTIME_MODE":     "desktop_local_fullstack",
		"APP_BACKEND_ORIGIN":   "local",
		"DESKTOP_SESSION_ID":   "desktop-1",
		"MONGODB_URI":          "mongodb://127.0.0.1:28000",
		"RUNTIME_PROFILE_PATH": "/tmp/profile.json",
	} {
		got, ok := envValue(cmd.Env, key)
		if !ok || got != want {
			t.Errorf("env %s = %q (present=%v), want %q", key, got, ok, want)
		}
	}
}

func TestWebCmdProduction(t *testing.T) {
	cfg := testConfig(t)
	cfg.ProfilePath = "/tmp/profile.json"

	cmd := webCmd(cfg)
	want := []string{npmBin(), "run", "start:standalone", "--", "--runtime-profile", "/tmp/profile.json"}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
	if cmd.Dir != cfg.WebDir {
		t.Errorf("dir = %s", cmd.Dir)
	}

	for key, want := range map[string]string{
		"PORT":                 "4000",
		"BACKEND_BASE_URL":     "http://127.0.0.1:9000",
		"APP_RUNTIME_MODE":     "desktop_local_fullstack",
		"RUNTIME_PROFILE_PATH": "/tmp/profile.json",
	} {
		got, ok := envValue(cmd.Env, key)
		if !ok || got != want {
			t.Errorf("env %s = %q (present=%v), want %q", key, got, ok, want)
		}
	}
}

func TestWebCmdDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.WebDev = true
	cfg.ProfilePath = "/tmp/profile.json"

	// Dev mode ignores the profile flag; only standalone mode forwards it.
	cmd := webCmd(cfg)
	want := []string{npmBin(), "run", "dev"}
	if !slices.Equal(cmd.Args, want) {
		t.Errorf("args = %v, want %v", cmd.Args, want)
	}
}

func TestHandleLifecycle(t *testing.T) {
	s := &Spawner{}
	h, err := s.start("web", shellCmd(t, "exit 3"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if st, done := h.Exited(); done {
			if st.Code != 3 {
				t.Errorf("exit code = %d, want 3", st.Code)
			}
			if got := st.Describe("web"); got != "web exited with code 3" {
				t.Errorf("describe = %q", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never reported exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleKill(t *testing.T) {
	s := &Spawner{}
	h, err := s.start("backend", shellCmd(t, "sleep 60"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, done := h.Exited(); done {
		t.Fatal("process exited prematurely")
	}

	h.Kill()

	st, done := h.Exited()
	if !done {
		t.Fatal("killed process must report exited")
	}
	if got := st.Describe("backend"); got != "backend exited" {
		t.Errorf("describe after kill = %q", got)
	}
}

func TestHandleTail(t *testing.T) {
	s := &Spawner{}
	h, err := s.start("web", shellCmd(t, "echo one; echo two"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for {
		if _, done := h.Exited(); done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	lines := h.Tail(10)
	if !slices.Equal(lines, []string{"one", "two"}) {
		t.Errorf("tail = %v", lines)
	}
}

func TestSpawnErrorCarriesSidecar(t *testing.T) {
	s := &Spawner{}
	_, err := s.start("database", shellMissing(t))
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if spawnErr.Sidecar != "database" {
		t.Errorf("sidecar = %s", spawnErr.Sidecar)
	}
	if spawnErr.Unwrap() == nil {
		t.Error("underlying OS error missing")
	}
	if !strings.Contains(spawnErr.Error(), "database sidecar") {
		t.Errorf("message = %q", spawnErr.Error())
	}
}

func shellCmd(t *testing.T, script string) *exec.Cmd {
	t.Helper()
	return exec.Command("/bin/sh", "-c", script)
}

func shellMissing(t *testing.T) *exec.Cmd {
	t.Helper()
	return exec.Command(filepath.Join(t.TempDir(), "definitely-missing-binary"))
}

func TestRingCapsLines(t *testing.T) {
	r := newOutputRing(3)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(r, "line %d\n", i)
	}
	if got := r.Tail(10); !slices.Equal(got, []string{"line 7", "line 8", "line 9"}) {
		t.Errorf("tail = %v", got)
	}
}
