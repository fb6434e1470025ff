// Package coordinator implements the lifecycle operations behind the
// CLI: bringing up the broker and the four-pane workspace, reporting
// and mutating persona status, and the blocking ask round trip.
package coordinator

import (
	"fmt"
	"io"
	"os"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/config"
	"personamux/internal/fsutil"
	"personamux/internal/logging"
	"personamux/internal/state"
	"personamux/internal/tmux"
)

type Options struct {
	RepoRoot string
	Config   config.Config
	Tmux     *tmux.Client
	Spawner  Spawner
	Logger   *logging.Logger
	Stdout   io.Writer
}

type Coordinator struct {
	repoRoot  string
	paths     fsutil.Paths
	cfg       config.Config
	store     *state.Store
	artifacts *artifact.Files
	tmux      *tmux.Client
	spawner   Spawner
	logger    *logging.Logger
	stdout    io.Writer
}

func New(options Options) *Coordinator {
	paths := fsutil.NewPaths(options.RepoRoot)
	tmuxClient := options.Tmux
	if tmuxClient == nil {
		tmuxClient = tmux.NewClient()
	}
	spawner := options.Spawner
	if spawner == nil {
		spawner = execSpawner{}
	}
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Coordinator{
		repoRoot:  options.RepoRoot,
		paths:     paths,
		cfg:       options.Config,
		store:     state.NewStore(paths, options.Logger),
		artifacts: artifact.NewFiles(paths),
		tmux:      tmuxClient,
		spawner:   spawner,
		logger:    options.Logger,
		stdout:    stdout,
	}
}

// Store exposes the session store for callers that layer extra waits
// on top of the lifecycle operations.
func (c *Coordinator) Store() *state.Store { return c.store }

// AssistantConfigDir resolves where the external assistant keeps its
// own state: the configured override when present, otherwise a
// directory under the shared dir so all panes reuse one conversation.
func (c *Coordinator) AssistantConfigDir() string {
	if c.cfg.Assistant.ConfigDir != "" {
		return c.cfg.Assistant.ConfigDir
	}
	return c.paths.AssistantConfigDir()
}

func (c *Coordinator) printf(format string, args ...any) {
	fmt.Fprintf(c.stdout, format+"\n", args...)
}

func (c *Coordinator) pollInterval() time.Duration {
	return c.cfg.Timeouts.Poll.Std()
}
