// Package fsutil provides the shared on-disk layout plus the low-level
// file primitives (atomic writes, advisory locks) the coordination
// layer is built on.
package fsutil

import "path/filepath"

const SharedDirName = ".personamux"

// Paths resolves every well-known location under a coordination root.
type Paths struct {
	RepoRoot string
}

func NewPaths(repoRoot string) Paths {
	return Paths{RepoRoot: repoRoot}
}

func (p Paths) SharedDir() string {
	return filepath.Join(p.RepoRoot, SharedDirName)
}

func (p Paths) SessionFile() string {
	return filepath.Join(p.SharedDir(), "session.json")
}

func (p Paths) SessionLockFile() string {
	return p.SessionFile() + ".lock"
}

func (p Paths) ResponsesDir() string {
	return filepath.Join(p.SharedDir(), "responses")
}

func (p Paths) ResponseBodyFile(persona string) string {
	return filepath.Join(p.ResponsesDir(), persona+".last.txt")
}

func (p Paths) ResponseIDFile(persona string) string {
	return filepath.Join(p.ResponsesDir(), persona+".last.id")
}

func (p Paths) HistoryFile(persona string) string {
	return filepath.Join(p.SharedDir(), "history", persona+".txt")
}

func (p Paths) BrokerSocket() string {
	return filepath.Join(p.SharedDir(), "broker.sock")
}

func (p Paths) BrokerPIDFile() string {
	return filepath.Join(p.SharedDir(), "broker.pid")
}

func (p Paths) BrokerLogFile() string {
	return filepath.Join(p.SharedDir(), "broker.log")
}

func (p Paths) SessionMarkerFile() string {
	return filepath.Join(p.SharedDir(), "assistant.session")
}

func (p Paths) AssistantConfigDir() string {
	return filepath.Join(p.SharedDir(), "assistant")
}

func (p Paths) ConfigFile() string {
	return filepath.Join(p.SharedDir(), "config.yaml")
}
