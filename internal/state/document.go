// Package state implements the lock-guarded, crash-safe session
// document shared by every persona process.
package state

import (
	"time"

	"personamux/internal/persona"
)

// CurrentVersion is the session document schema version. Older
// documents are normalized forward on read; the migration is one-way
// and idempotent.
const CurrentVersion = 3

const SessionName = "personamux"

// Record is one persona's entry in the session document. Field order
// keeps the marshaled keys sorted for stable diffs.
type Record struct {
	DisplayName string         `json:"displayName"`
	InputReady  bool           `json:"inputReady"`
	Message     string         `json:"message"`
	PaneID      string         `json:"paneId"`
	Status      persona.Status `json:"status"`
	UpdatedAt   string         `json:"updatedAt"`
}

// Document is the versioned session state, one per coordination root.
type Document struct {
	CreatedAt   string                 `json:"createdAt"`
	Personas    map[persona.Key]Record `json:"personas"`
	RepoRoot    string                 `json:"repoRoot"`
	SessionName string                 `json:"sessionName"`
	Version     int                    `json:"version"`
}

// NowISO is the timestamp format used everywhere in the document:
// second-resolution UTC with a Z suffix.
func NowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// NewDocument returns a fully populated document for repoRoot with
// every persona idle.
func NewDocument(repoRoot string) Document {
	now := NowISO()
	doc := Document{
		CreatedAt:   now,
		Personas:    make(map[persona.Key]Record, len(persona.Keys())),
		RepoRoot:    repoRoot,
		SessionName: SessionName,
		Version:     CurrentVersion,
	}
	for _, key := range persona.Keys() {
		doc.Personas[key] = Record{
			DisplayName: persona.DisplayName(key),
			Status:      persona.StatusIdle,
			UpdatedAt:   now,
		}
	}
	return doc
}

// Normalize rewrites doc into the current schema: every persona key
// present, invalid statuses reset to idle, version bumped. The result
// is independent of doc's version, and normalizing twice yields the
// same document.
func Normalize(repoRoot string, doc Document) Document {
	now := NowISO()
	normalized := Document{
		CreatedAt:   doc.CreatedAt,
		Personas:    make(map[persona.Key]Record, len(persona.Keys())),
		RepoRoot:    repoRoot,
		SessionName: SessionName,
		Version:     CurrentVersion,
	}
	if normalized.CreatedAt == "" {
		normalized.CreatedAt = now
	}

	for _, key := range persona.Keys() {
		existing := doc.Personas[key]

		status, ok := persona.ParseStatus(string(existing.Status))
		if !ok {
			status = persona.StatusIdle
		}
		displayName := existing.DisplayName
		if displayName == "" {
			displayName = persona.DisplayName(key)
		}
		updatedAt := existing.UpdatedAt
		if updatedAt == "" {
			updatedAt = now
		}

		normalized.Personas[key] = Record{
			DisplayName: displayName,
			InputReady:  existing.InputReady,
			Message:     existing.Message,
			PaneID:      existing.PaneID,
			Status:      status,
			UpdatedAt:   updatedAt,
		}
	}
	return normalized
}

// Equal reports whether two documents carry the same state.
func Equal(a, b Document) bool {
	if a.CreatedAt != b.CreatedAt || a.RepoRoot != b.RepoRoot ||
		a.SessionName != b.SessionName || a.Version != b.Version {
		return false
	}
	if len(a.Personas) != len(b.Personas) {
		return false
	}
	for key, recordA := range a.Personas {
		recordB, ok := b.Personas[key]
		if !ok || recordA != recordB {
			return false
		}
	}
	return true
}
