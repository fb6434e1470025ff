package persona

import "strings"

// Status is the persona lifecycle state recorded in the shared session
// document. Anything outside the enumeration normalizes to idle at the
// deserialization boundary.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// Statuses returns every permitted status value.
func Statuses() []Status {
	return []Status{StatusIdle, StatusWorking, StatusWaiting, StatusDone, StatusBlocked}
}

// StatusStrings returns the permitted statuses as plain strings.
func StatusStrings() []string {
	statuses := Statuses()
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

// ParseStatus returns the status for value and whether it was one of
// the permitted values. Unknown values come back as StatusIdle.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range Statuses() {
		if candidate == status {
			return status, true
		}
	}
	return StatusIdle, false
}
