// Package eventlog provides the bounded, persisted record of supervisor
// activity surfaced through the diagnostics operation.
//
// Events append in order within a run. The buffer holds at most MaxEvents
// entries (oldest evicted first) and is mirrored to disk as a JSON array on
// every append. Persistence is fire-and-forget: losing a diagnostic line is
// not a correctness issue, so file errors are deliberately ignored.
package eventlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MaxEvents caps both the in-memory buffer and the persisted file.
const MaxEvents = 200

// dotDir is the fallback data directory under the user's home.
const dotDir = ".project-qa-assistant"

// Event is a single diagnostic record.
type Event struct {
	TsMs    int64  `json:"ts_ms"`
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Log is the supervisor's event buffer plus its backing file.
//
// The supervisor mutates it only from within its own locked region, but Log
// carries its own mutex so auxiliary writers (the profile watcher) stay safe.
type Log struct {
	mu     sync.Mutex
	events []Event
	path   string
}

// New creates an empty, unresolved log. Events appended before the first
// Resolve call are kept in memory and merged once a path is known.
func New() *Log {
	return &Log{}
}

// DefaultPath computes the diagnostics file location for a data directory
// hint. An empty hint falls back to a dot-directory under the user's home, or
// under the working directory when no home resolves.
func DefaultPath(dataDirHint string) string {
	var root string
	if trimmed := strings.TrimSpace(dataDirHint); trimmed != "" {
		root = expandTilde(trimmed)
	} else if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, dotDir)
	} else if cwd, err := os.Getwd(); err == nil {
		root = filepath.Join(cwd, dotDir)
	} else {
		root = dotDir
	}
	return filepath.Join(root, "runtime", "runtime-events.json")
}

func expandTilde(raw string) string {
	if raw == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if rest, ok := strings.CutPrefix(raw, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return raw
}

// Resolve points the log at the diagnostics file for the given data directory
// hint. On a path change, previously persisted events are loaded and any
// events accumulated in memory before the path was known are appended after
// them. An empty hint keeps the current path (resolving the default on first
// use).
func (l *Log) Resolve(dataDirHint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolveLocked(dataDirHint)
}

func (l *Log) resolveLocked(dataDirHint string) {
	next := l.path
	if strings.TrimSpace(dataDirHint) != "" {
		next = DefaultPath(dataDirHint)
	} else if next == "" {
		next = DefaultPath("")
	}

	if next != l.path {
		loaded := loadEvents(next)
		loaded = append(loaded, l.events...)
		if len(loaded) > MaxEvents {
			loaded = loaded[len(loaded)-MaxEvents:]
		}
		l.events = loaded
		l.path = next
		l.persistLocked()
		return
	}

	if len(l.events) == 0 {
		l.events = loadEvents(l.path)
	}
}

// Append records an event and mirrors the buffer to disk.
func (l *Log) Append(level, source, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resolveLocked("")
	l.events = append(l.events, Event{
		TsMs:    time.Now().UnixMilli(),
		Level:   strings.ToLower(strings.TrimSpace(level)),
		Source:  strings.ToLower(strings.TrimSpace(source)),
		Message: message,
	})
	if len(l.events) > MaxEvents {
		l.events = l.events[len(l.events)-MaxEvents:]
	}
	l.persistLocked()
}

// Recent returns the most recent n events, oldest first. It returns all
// events when fewer than n exist.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || len(l.events) == 0 {
		return []Event{}
	}
	start := 0
	if len(l.events) > n {
		start = len(l.events) - n
	}
	out := make([]Event, len(l.events)-start)
	copy(out, l.events[start:])
	return out
}

// Len reports the number of buffered events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Path returns the resolved diagnostics file path, or "" before first resolve.
func (l *Log) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func loadEvents(path string) []Event {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil
	}
	if len(events) > MaxEvents {
		events = events[len(events)-MaxEvents:]
	}
	return events
}

// persistLocked mirrors the buffer to the backing file. Best effort: all file
// errors are dropped. Caller must hold l.mu.
func (l *Log) persistLocked() {
	if l.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return
	}
	events := l.events
	if events == nil {
		events = []Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, l.path)
}
