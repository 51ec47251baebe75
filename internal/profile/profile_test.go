package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	p, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if p == nil || p.Mode != "" || p.LocalPorts != nil {
		t.Errorf("expected empty profile, got %+v", p)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	p, err := Load("   ")
	if err != nil {
		t.Errorf("blank path should not error: %v", err)
	}
	if p.DataDir != "" {
		t.Errorf("expected empty profile, got %+v", p)
	}
}

func TestLoadFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	raw := `{
		"mode": "remote_slim",
		"backendUrl": "https://backend.example.com",
		"localPorts": {"web": 4000, "backend": 9000},
		"dataDir": "~/qa-data"
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Mode != "remote_slim" {
		t.Errorf("mode = %q", p.Mode)
	}
	if p.BackendURL != "https://backend.example.com" {
		t.Errorf("backendUrl = %q", p.BackendURL)
	}
	if p.LocalPorts == nil || p.LocalPorts.Web != 4000 || p.LocalPorts.Backend != 9000 {
		t.Errorf("localPorts = %+v", p.LocalPorts)
	}
	if p.LocalPorts.Database != 0 {
		t.Errorf("absent database port should be zero, got %d", p.LocalPorts.Database)
	}
	if p.DataDir != "~/qa-data" {
		t.Errorf("dataDir = %q", p.DataDir)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err == nil {
		t.Error("expected parse error")
	}
	if p.Mode != "" {
		t.Errorf("expected empty profile on parse failure, got %+v", p)
	}
}
