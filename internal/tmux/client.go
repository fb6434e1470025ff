// Package tmux wraps the tmux binary behind a small client so the
// coordinator can build and drive the four-pane workspace without
// shelling out directly. Pane injection uses literal send-keys, so
// prompt text never passes through key-name interpretation.
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(args []string, input []byte) ([]byte, error)
}

// Client executes tmux commands.
type Client struct {
	runner CommandRunner
}

// NewClient returns a tmux client using the default command runner.
func NewClient() *Client {
	return &Client{runner: execRunner{}}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

// Available reports whether the tmux binary answers at all.
func (c *Client) Available() error {
	_, err := c.runWithOutput([]string{"-V"}, nil)
	return err
}

// HasSession reports whether the named session exists. A non-zero exit
// from has-session means absent, not broken.
func (c *Client) HasSession(name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run([]string{"has-session", "-t", name}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

// NewSession creates a detached session rooted at dir.
func (c *Client) NewSession(name, dir string) error {
	args := []string{"new-session", "-d", "-s", name}
	if strings.TrimSpace(dir) != "" {
		args = append(args, "-c", dir)
	}
	return c.run(args, nil)
}

// KillSession terminates a tmux session.
func (c *Client) KillSession(name string) error {
	return c.run([]string{"kill-session", "-t", name}, nil)
}

// SetSessionOption sets a session-scoped option, e.g. history-limit.
func (c *Client) SetSessionOption(session, option, value string) error {
	return c.run([]string{"set-option", "-t", session, option, value}, nil)
}

// SplitWindow splits target; horizontal chooses -h over -v.
func (c *Client) SplitWindow(target, dir string, horizontal bool) error {
	axis := "-v"
	if horizontal {
		axis = "-h"
	}
	args := []string{"split-window", axis, "-t", target}
	if strings.TrimSpace(dir) != "" {
		args = append(args, "-c", dir)
	}
	return c.run(args, nil)
}

// SelectPane focuses the target pane.
func (c *Client) SelectPane(target string) error {
	return c.run([]string{"select-pane", "-t", target}, nil)
}

// SelectLayout applies a named layout to the target window.
func (c *Client) SelectLayout(target, layout string) error {
	return c.run([]string{"select-layout", "-t", target, layout}, nil)
}

// SetPaneTitle labels a pane via select-pane -T.
func (c *Client) SetPaneTitle(target, title string) error {
	return c.run([]string{"select-pane", "-t", target, "-T", title}, nil)
}

// ListPaneIDs returns the stable pane ids of the target window in
// tmux's own order.
func (c *Client) ListPaneIDs(target string) ([]string, error) {
	output, err := c.runWithOutput([]string{"list-panes", "-t", target, "-F", "#{pane_id}"}, nil)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil, nil
	}
	ids := strings.Split(trimmed, "\n")
	for i, id := range ids {
		ids[i] = strings.TrimRight(id, "\r")
	}
	return ids, nil
}

// SendLine types text into the target pane literally and presses
// Enter. The -l flag keeps tmux from treating the text as key names.
func (c *Client) SendLine(target, text string) error {
	if err := c.run([]string{"send-keys", "-t", target, "-l", text}, nil); err != nil {
		return err
	}
	return c.run([]string{"send-keys", "-t", target, "Enter"}, nil)
}

// PipePane mirrors pane output into command, typically a file append.
func (c *Client) PipePane(target, command string) error {
	return c.run([]string{"pipe-pane", "-t", target, "-o", command}, nil)
}

// Attach replaces the caller's terminal with the session. It inherits
// stdio, so it bypasses the CommandRunner.
func (c *Client) Attach(name string) error {
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux attach-session failed: %w", err)
	}
	return nil
}

func (c *Client) run(args []string, input []byte) error {
	_, err := c.runWithOutput(args, input)
	return err
}

func (c *Client) runWithOutput(args []string, input []byte) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(args, input)
	if err != nil {
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

type execRunner struct{}

func (execRunner) Run(args []string, input []byte) ([]byte, error) {
	cmd := exec.Command("tmux", args...)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}
