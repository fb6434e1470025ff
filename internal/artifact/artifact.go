// Package artifact manages the per-persona response files: the most
// recent response body and an opaque identifier that changes on every
// write. Readers detect progress by identifier inequality or body
// mtime movement, never by file absence.
package artifact

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"personamux/internal/fsutil"
	"personamux/internal/persona"
)

// DefaultContextBudget bounds how much of a response body gets inlined
// when another persona embeds it as context.
const DefaultContextBudget = 12000

const truncationMarker = "\n\n...(truncated)"

type Files struct {
	paths fsutil.Paths
}

func NewFiles(paths fsutil.Paths) *Files {
	return &Files{paths: paths}
}

// Write overwrites the persona's response body and identifier. An empty
// id gets a fresh UUID so consecutive writes never share an identifier.
func (f *Files) Write(key persona.Key, body, id string) error {
	if id == "" {
		id = uuid.NewString()
	}
	bodyPath := f.paths.ResponseBodyFile(string(key))
	if err := fsutil.WriteFileAtomic(bodyPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write response body for %s: %w", key, err)
	}
	idPath := f.paths.ResponseIDFile(string(key))
	if err := fsutil.WriteFileAtomic(idPath, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write response id for %s: %w", key, err)
	}
	return nil
}

// Read returns the persona's last response body, or a placeholder when
// none was recorded yet.
func (f *Files) Read(key persona.Key) string {
	raw, err := os.ReadFile(f.paths.ResponseBodyFile(string(key)))
	if err != nil {
		return fmt.Sprintf("(no saved response for %s)", key)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Sprintf("(no saved response for %s)", key)
	}
	return text
}

// ReadBounded is Read truncated to maxChars with a visible marker.
func (f *Files) ReadBounded(key persona.Key, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultContextBudget
	}
	text := f.Read(key)
	if len(text) <= maxChars {
		return text
	}
	return strings.TrimRight(text[:maxChars], " \t\n") + truncationMarker
}

// ID returns the current response identifier, or "" when absent.
func (f *Files) ID(key persona.Key) string {
	raw, err := os.ReadFile(f.paths.ResponseIDFile(string(key)))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Snapshot captures the persona's current identifier and body mtime for
// later change detection.
type Snapshot struct {
	Persona persona.Key
	ID      string
	MTime   time.Time
	HasFile bool
}

func (f *Files) Snapshot(key persona.Key) Snapshot {
	snapshot := Snapshot{Persona: key, ID: f.ID(key)}
	if info, err := os.Stat(f.paths.ResponseBodyFile(string(key))); err == nil {
		snapshot.MTime = info.ModTime()
		snapshot.HasFile = true
	}
	return snapshot
}

// Changed reports whether the persona's artifact moved past the
// snapshot: a different non-empty identifier, a newly created body
// file, or an mtime change.
func (f *Files) Changed(snapshot Snapshot) bool {
	currentID := f.ID(snapshot.Persona)
	if currentID != "" && currentID != snapshot.ID {
		return true
	}
	info, err := os.Stat(f.paths.ResponseBodyFile(string(snapshot.Persona)))
	if err != nil {
		return false
	}
	if !snapshot.HasFile {
		return true
	}
	return !info.ModTime().Equal(snapshot.MTime)
}

// Dir returns the shared responses directory (for watchers).
func (f *Files) Dir() string {
	return f.paths.ResponsesDir()
}
