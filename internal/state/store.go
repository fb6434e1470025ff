package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"personamux/internal/fsutil"
	"personamux/internal/logging"
	"personamux/internal/persona"
)

// Store reads and writes the session document under an exclusive
// cross-process lock. The lock lives on a companion path, not the data
// file, so a reader never blocks on a half-written document.
type Store struct {
	path     string
	lockPath string
	repoRoot string
	logger   *logging.Logger
}

func NewStore(paths fsutil.Paths, logger *logging.Logger) *Store {
	return &Store{
		path:     paths.SessionFile(),
		lockPath: paths.SessionLockFile(),
		repoRoot: paths.RepoRoot,
		logger:   logger,
	}
}

// Lock acquires the store's cross-process lock. Callers must Release.
func (s *Store) Lock() (*fsutil.FileLock, error) {
	return fsutil.AcquireLock(s.lockPath)
}

// Read loads the raw document under the cross-process lock. A missing
// or empty file yields a zero document; an unparsable file is renamed
// aside with a timestamped suffix and also yields a zero document, so
// corruption costs one update instead of all forward progress. Callers
// normalize.
func (s *Store) Read() (Document, error) {
	lock, err := s.Lock()
	if err != nil {
		return Document{}, err
	}
	defer lock.Release()
	return s.read()
}

// read is the lockless load used inside an already-locked cycle.
func (s *Store) read() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("read session file %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Document{}, nil
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.quarantine(err)
		return Document{}, nil
	}
	return doc, nil
}

func (s *Store) quarantine(cause error) {
	suffix := strings.ReplaceAll(NowISO(), ":", "")
	corruptPath := s.path + ".corrupt-" + suffix
	if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
		s.logWarn("quarantine failed", map[string]string{
			"path":  s.path,
			"error": renameErr.Error(),
		})
		return
	}
	s.logWarn("session file quarantined", map[string]string{
		"path":       s.path,
		"quarantine": corruptPath,
		"error":      cause.Error(),
	})
}

// Write persists doc with the crash-safe write sequence. The document
// is pretty-printed with sorted keys for stable diffs.
func (s *Store) Write(doc Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session document: %w", err)
	}
	raw = append(raw, '\n')
	return fsutil.WriteFileAtomic(s.path, raw, 0o644)
}

// ReadNormalized loads and normalizes one document under the lock.
func (s *Store) ReadNormalized() (Document, error) {
	doc, err := s.Read()
	if err != nil {
		return Document{}, err
	}
	return Normalize(s.repoRoot, doc), nil
}

// WriteIfChanged normalizes doc and persists it only when it differs
// from what is on disk. The compare and write run under the lock as
// one unit; callers holding a stale snapshot still lose to whoever
// wrote last, so prefer Update for read-modify-write cycles.
func (s *Store) WriteIfChanged(doc Document) error {
	lock, err := s.Lock()
	if err != nil {
		return err
	}
	defer lock.Release()

	existing, err := s.read()
	if err != nil {
		return err
	}
	normalized := Normalize(s.repoRoot, doc)
	if Equal(Normalize(s.repoRoot, existing), normalized) && !isZero(existing) {
		return nil
	}
	return s.Write(normalized)
}

// Update runs one read-modify-write cycle under the lock: acquire,
// read, normalize, mutate, write, release. The lock window bounds the
// cycle only, never the caller's whole operation.
func (s *Store) Update(mutate func(doc *Document)) (Document, error) {
	lock, err := s.Lock()
	if err != nil {
		return Document{}, err
	}
	defer lock.Release()

	doc, err := s.read()
	if err != nil {
		return Document{}, err
	}
	normalized := Normalize(s.repoRoot, doc)
	if mutate != nil {
		mutate(&normalized)
	}
	normalized = Normalize(s.repoRoot, normalized)
	if err := s.Write(normalized); err != nil {
		return Document{}, err
	}
	return normalized, nil
}

// EnsureInitialized writes a fresh document when none exists, and
// rewrites an existing one only when normalization changes it.
func (s *Store) EnsureInitialized() (Document, error) {
	return s.UpdateIfChanged(nil)
}

// UpdateIfChanged is Update with a write skipped when the mutation and
// normalization leave the on-disk document untouched.
func (s *Store) UpdateIfChanged(mutate func(doc *Document)) (Document, error) {
	lock, err := s.Lock()
	if err != nil {
		return Document{}, err
	}
	defer lock.Release()

	existing, err := s.read()
	if err != nil {
		return Document{}, err
	}
	normalized := Normalize(s.repoRoot, existing)
	if mutate != nil {
		mutate(&normalized)
	}
	normalized = Normalize(s.repoRoot, normalized)
	if !isZero(existing) && Equal(Normalize(s.repoRoot, existing), normalized) {
		return normalized, nil
	}
	if err := s.Write(normalized); err != nil {
		return Document{}, err
	}
	return normalized, nil
}

// SetStatus records a persona status change with a fresh timestamp.
// An empty message leaves the existing annotation alone.
func (s *Store) SetStatus(key persona.Key, status persona.Status, message string) error {
	_, err := s.Update(func(doc *Document) {
		record := doc.Personas[key]
		record.Status = status
		record.UpdatedAt = NowISO()
		if message != "" {
			record.Message = message
		}
		doc.Personas[key] = record
	})
	return err
}

// SetInputReady flips the persona's input-ready synchronization flag.
func (s *Store) SetInputReady(key persona.Key, ready bool) error {
	_, err := s.Update(func(doc *Document) {
		record := doc.Personas[key]
		record.InputReady = ready
		record.UpdatedAt = NowISO()
		doc.Personas[key] = record
	})
	return err
}

// SetPaneID records the external pane locator for a persona.
func (s *Store) SetPaneID(key persona.Key, paneID string) error {
	_, err := s.Update(func(doc *Document) {
		record := doc.Personas[key]
		record.PaneID = paneID
		record.UpdatedAt = NowISO()
		doc.Personas[key] = record
	})
	return err
}

// PaneID returns the recorded pane locator for a persona, or "".
func (s *Store) PaneID(key persona.Key) (string, error) {
	doc, err := s.ReadNormalized()
	if err != nil {
		return "", err
	}
	return doc.Personas[key].PaneID, nil
}

func (s *Store) logWarn(message string, fields map[string]string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, fields)
}

func isZero(doc Document) bool {
	return doc.Version == 0 && len(doc.Personas) == 0 && doc.CreatedAt == ""
}
