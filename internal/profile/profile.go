// Package profile reads the persisted runtime profile consumed by the
// supervisor. The file format is owned by the desktop product, not by this
// package; only the handful of fields below are consumed.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Ports is the optional per-sidecar port block.
type Ports struct {
	Web      int `json:"web,omitempty"`
	Backend  int `json:"backend,omitempty"`
	Database int `json:"database,omitempty"`
}

// Profile is the subset of the runtime profile the supervisor reads.
type Profile struct {
	Mode       string `json:"mode,omitempty"`
	BackendURL string `json:"backendUrl,omitempty"`
	LocalPorts *Ports `json:"localPorts,omitempty"`
	DataDir    string `json:"dataDir,omitempty"`
}

// Load reads a profile from path. A missing, unreadable, or unparseable file
// yields an empty profile — launching must not fail because the profile is
// absent. The error reports what went wrong for diagnostic logging; callers
// act on the profile either way.
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return &Profile{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &Profile{}, fmt.Errorf("reading profile: %w", err)
	}

	p := &Profile{}
	if err := json.Unmarshal(data, p); err != nil {
		return &Profile{}, fmt.Errorf("parsing profile: %w", err)
	}
	return p, nil
}
