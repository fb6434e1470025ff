// Package assistant wraps the external assistant CLI behind a small
// runner: argv construction, continuation tracking, and the one
// automatic retry when a stale continuation is detected.
package assistant

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"personamux/internal/logging"
)

// AgentCallEnvVar is set in the assistant subprocess environment so
// coordination commands the assistant itself runs can tell they are
// nested and must not schedule further agent work.
const AgentCallEnvVar = "PERSONAMUX_AGENT_CALL"

// CommandRunner executes the assistant binary and returns its combined
// stdout/stderr plus exit code. Injected so tests never spawn anything.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (output string, exitCode int, err error)
}

// Options configure a Runner.
type Options struct {
	Command    string // assistant binary, defaults to "copilot"
	RepoRoot   string
	ConfigDir  string
	MarkerFile string // continuation marker path
	Runner     CommandRunner
	Logger     *logging.Logger
}

// Result is one invocation outcome, passed through verbatim.
type Result struct {
	ExitCode int
	Output   string
}

type Runner struct {
	command    string
	repoRoot   string
	configDir  string
	markerFile string
	runner     CommandRunner
	logger     *logging.Logger
}

func NewRunner(options Options) *Runner {
	command := options.Command
	if command == "" {
		command = "copilot"
	}
	runner := options.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &Runner{
		command:    command,
		repoRoot:   options.RepoRoot,
		configDir:  options.ConfigDir,
		markerFile: options.MarkerFile,
		runner:     runner,
		logger:     options.Logger,
	}
}

// ContinuationSet reports whether the marker requests continuation of
// the prior conversation.
func (r *Runner) ContinuationSet() bool {
	_, err := os.Stat(r.markerFile)
	return err == nil
}

func (r *Runner) setContinuation() {
	_ = os.WriteFile(r.markerFile, []byte("started\n"), 0o644)
}

func (r *Runner) clearContinuation() {
	_ = os.Remove(r.markerFile)
}

// Run invokes the assistant with prompt. When the continuation marker
// is set the invocation resumes the prior conversation; if that fails
// and the output says there is nothing to resume, the marker is
// cleared and the invocation retried once from scratch. On the first
// success the marker is set so later invocations continue the session.
// Callers are expected to hold the broker's invocation lock.
func (r *Runner) Run(ctx context.Context, prompt string) (Result, error) {
	useContinue := r.ContinuationSet()

	output, exitCode, err := r.invoke(ctx, prompt, useContinue)
	if err != nil {
		return Result{}, err
	}

	if useContinue && exitCode != 0 && looksLikeNoSession(output) {
		r.clearContinuation()
		r.logInfo("continuation expired, retrying without it")
		output, exitCode, err = r.invoke(ctx, prompt, false)
		if err != nil {
			return Result{}, err
		}
	}

	if exitCode == 0 && !r.ContinuationSet() {
		r.setContinuation()
	}
	return Result{ExitCode: exitCode, Output: output}, nil
}

func (r *Runner) invoke(ctx context.Context, prompt string, useContinue bool) (string, int, error) {
	argv := []string{r.command}
	if useContinue {
		argv = append(argv, "--continue")
	}
	argv = append(argv,
		"--config-dir", r.configDir,
		"--add-dir", r.repoRoot,
		"-p", prompt,
	)
	return r.runner.Run(ctx, r.repoRoot, argv)
}

func (r *Runner) logInfo(message string) {
	if r.logger == nil {
		return
	}
	r.logger.Info(message, nil)
}

// looksLikeNoSession matches the tool's human-readable "no session to
// continue" failure. This is a documented heuristic against wording,
// not a contract: the lower-cased output must mention a session, a
// continue, and a negation.
func looksLikeNoSession(output string) bool {
	text := strings.ToLower(output)
	if !strings.Contains(text, "session") || !strings.Contains(text, "continue") {
		return false
	}
	return strings.Contains(text, "no") || strings.Contains(text, "not")
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, argv []string) (string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), AgentCallEnvVar+"=1")
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(output), exitErr.ExitCode(), nil
		}
		return string(output), -1, err
	}
	return string(output), 0, nil
}
