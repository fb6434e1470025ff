package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"personamux/internal/fsutil"
	"personamux/internal/persona"
	"personamux/internal/state"
)

type StartOptions struct {
	Detach bool
	LogDir string
}

var sharedFileTemplates = map[string]string{
	"WORK_CONTEXT.md": "# Work Context\n\n" +
		"## Current goal\n- TBD\n\n" +
		"## Current constraints\n- Linux-only\n- tmux panes\n\n" +
		"## Notes\n- TBD\n",
	"DECISIONS.md": "# Decisions\n\n" +
		"| Date | Decision | Rationale | Owner |\n" +
		"|------|----------|-----------|-------|\n",
	"HANDOFF.md": "# Handoff\n\n" +
		"## From\n- Persona: TBD\n\n" +
		"## To\n- Persona: TBD\n\n" +
		"## What changed\n- TBD\n\n" +
		"## Next steps\n- TBD\n",
}

// Start brings the whole workspace up: shared files, session state,
// broker, the 2x2 tmux grid with one REPL per persona. Calling it
// while the session is already running attaches instead of rebuilding.
func (c *Coordinator) Start(options StartOptions) error {
	if err := c.tmux.Available(); err != nil {
		return err
	}
	if err := c.seedSharedFiles(); err != nil {
		return err
	}
	if _, err := c.store.EnsureInitialized(); err != nil {
		return err
	}

	configDir := c.AssistantConfigDir()
	if err := c.EnsureBroker(configDir); err != nil {
		return err
	}

	running, err := c.tmux.HasSession(state.SessionName)
	if err != nil {
		return err
	}
	if running {
		if options.Detach {
			c.printf("tmux session %q is already running. Attach with: tmux attach -t %s",
				state.SessionName, state.SessionName)
			return nil
		}
		c.focusPane(persona.PM)
		return c.tmux.Attach(state.SessionName)
	}

	if err := c.tmux.NewSession(state.SessionName, c.repoRoot); err != nil {
		return err
	}
	c.configureSession()

	paneIDs, err := c.tmux.QuadLayout(state.SessionName, c.repoRoot)
	if err != nil {
		return err
	}
	order := persona.LayoutOrder()
	paneByPersona := make(map[persona.Key]string, len(order))
	for i, key := range order {
		paneByPersona[key] = paneIDs[i]
	}

	if options.LogDir != "" {
		if err := fsutil.EnsureDir(options.LogDir); err != nil {
			return err
		}
		for key, target := range paneByPersona {
			logPath := filepath.Join(options.LogDir, string(key)+".log")
			if err := c.tmux.PipePane(target, "cat >> "+logPath); err != nil {
				c.logWarn("pipe-pane failed", err)
			}
		}
	}

	if _, err := c.store.Update(func(doc *state.Document) {
		for key, paneID := range paneByPersona {
			record := doc.Personas[key]
			record.PaneID = paneID
			doc.Personas[key] = record
		}
	}); err != nil {
		return err
	}

	for _, key := range order {
		target := paneByPersona[key]
		if err := c.tmux.SetPaneTitle(target, persona.DisplayName(key)); err != nil {
			return err
		}
		launch := fmt.Sprintf("clear; cd %s && personamux-repl --persona %s --repo-root %s",
			c.repoRoot, key, c.repoRoot)
		if err := c.tmux.SendLine(target, launch); err != nil {
			return err
		}
	}

	if err := c.tmux.SelectPane(paneByPersona[persona.PM]); err != nil {
		c.logWarn("focus pm pane failed", err)
	}

	if options.Detach {
		c.printf("Started tmux session %q. Attach with: tmux attach -t %s",
			state.SessionName, state.SessionName)
		return nil
	}
	return c.tmux.Attach(state.SessionName)
}

// Stop tears the workspace down: broker first, then the tmux session.
func (c *Coordinator) Stop() error {
	c.StopBroker()

	running, err := c.tmux.HasSession(state.SessionName)
	if err != nil {
		return err
	}
	if !running {
		c.printf("tmux session %q is not running.", state.SessionName)
		return nil
	}
	if err := c.tmux.KillSession(state.SessionName); err != nil {
		return err
	}
	c.printf("Stopped tmux session %q.", state.SessionName)
	return nil
}

func (c *Coordinator) seedSharedFiles() error {
	if err := fsutil.EnsureDir(c.paths.SharedDir()); err != nil {
		return err
	}
	for name, content := range sharedFileTemplates {
		path := filepath.Join(c.paths.SharedDir(), name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) configureSession() {
	if err := c.tmux.SetSessionOption(state.SessionName, "history-limit",
		strconv.Itoa(c.cfg.Tmux.HistoryLimit)); err != nil {
		c.logWarn("set history-limit failed", err)
	}
	mouse := "off"
	if c.cfg.Tmux.Mouse != nil && *c.cfg.Tmux.Mouse {
		mouse = "on"
	}
	if err := c.tmux.SetSessionOption(state.SessionName, "mouse", mouse); err != nil {
		c.logWarn("set mouse failed", err)
	}
}

func (c *Coordinator) focusPane(key persona.Key) {
	paneID, err := c.store.PaneID(key)
	if err != nil || paneID == "" {
		paneID = state.SessionName + ":0.0"
	}
	if err := c.tmux.SelectPane(paneID); err != nil {
		c.logWarn("focus pane failed", err)
	}
}
