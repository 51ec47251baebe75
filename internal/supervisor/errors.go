package supervisor

import "strings"

// ReadinessTimeoutError reports that one or more sidecars never opened their
// port within the readiness deadline. On initial start this triggers a full
// teardown; on a watchdog restart partial failure is tolerated.
type ReadinessTimeoutError struct {
	Sidecars []string
	Restart  bool // true when the wait followed a watchdog restart
}

func (e *ReadinessTimeoutError) Error() string {
	when := "in time"
	if e.Restart {
		when = "after restart"
	}
	return strings.Join(e.Sidecars, " and ") + " did not become ready " + when
}
