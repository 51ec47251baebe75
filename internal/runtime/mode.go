// Package runtime defines the closed set of runtime modes the desktop shell
// can launch its sidecars in.
package runtime

import "strings"

// Mode selects which sidecars run locally.
type Mode int

const (
	// LocalFullstack runs web, backend, and (when configured) the database
	// locally. This is the safe default for any unrecognized input.
	LocalFullstack Mode = iota

	// RemoteSlim runs only the web sidecar locally; the backend is remote.
	RemoteSlim
)

// ParseMode maps a raw mode string to a Mode. It is total: unknown or empty
// input yields LocalFullstack.
func ParseMode(raw string) Mode {
	switch strings.TrimSpace(raw) {
	case "desktop_remote_slim", "remote_slim":
		return RemoteSlim
	default:
		return LocalFullstack
	}
}

// String renders the mode for status reporting.
func (m Mode) String() string {
	if m == RemoteSlim {
		return "remote_slim"
	}
	return "local_fullstack"
}

// ChildString renders the mode as passed to child processes via arguments and
// the APP_RUNTIME_MODE variable. It deliberately differs from String: children
// expect the desktop-prefixed form.
func (m Mode) ChildString() string {
	if m == RemoteSlim {
		return "desktop_remote_slim"
	}
	return "desktop_local_fullstack"
}
