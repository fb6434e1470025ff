// Package repl is the per-pane input loop. Every pane of the tmux
// workspace runs one instance; prompt lines go to the broker, directed
// segments go to peer panes through the scheduler, and coordination
// commands run locally without touching the assistant.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/assistant"
	"personamux/internal/broker"
	"personamux/internal/config"
	"personamux/internal/directive"
	"personamux/internal/fsutil"
	"personamux/internal/logging"
	"personamux/internal/persona"
	"personamux/internal/schedule"
	"personamux/internal/state"
	"personamux/internal/tmux"
	"personamux/internal/ui"
)

// LineReader supplies input lines. io.EOF ends the loop.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// CommandExecutor runs a local coordination command with the pane's
// stdio attached.
type CommandExecutor interface {
	Exec(argv []string) error
}

type Options struct {
	Persona    persona.Key
	RepoRoot   string
	SocketPath string // broker socket, defaults to the repo's shared dir
	Config     config.Config
	Reader     LineReader
	Executor   CommandExecutor
	Tmux       *tmux.Client
	Logger     *logging.Logger
	Stdout     io.Writer
	Stderr     io.Writer
}

type REPL struct {
	persona   persona.Key
	repoRoot  string
	socket    string
	paths     fsutil.Paths
	cfg       config.Config
	store     *state.Store
	artifacts *artifact.Files
	reader    LineReader
	executor  CommandExecutor
	tmux      *tmux.Client
	logger    *logging.Logger
	stdout    io.Writer
	stderr    io.Writer
}

func New(options Options) *REPL {
	paths := fsutil.NewPaths(options.RepoRoot)
	reader := options.Reader
	if reader == nil {
		reader = NewStdinReader(paths.HistoryFile(string(options.Persona)))
	}
	executor := options.Executor
	if executor == nil {
		executor = execExecutor{}
	}
	tmuxClient := options.Tmux
	if tmuxClient == nil {
		tmuxClient = tmux.NewClient()
	}
	stdout := options.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	socket := options.SocketPath
	if socket == "" {
		socket = paths.BrokerSocket()
	}
	return &REPL{
		persona:   options.Persona,
		repoRoot:  options.RepoRoot,
		socket:    socket,
		paths:     paths,
		cfg:       options.Config,
		store:     state.NewStore(paths, options.Logger),
		artifacts: artifact.NewFiles(paths),
		reader:    reader,
		executor:  executor,
		tmux:      tmuxClient,
		logger:    options.Logger,
		stdout:    stdout,
		stderr:    stderr,
	}
}

// Run drives the loop until exit/quit or end of input. Input-ready is
// raised only while the loop is actually blocked on ReadLine; every
// other moment the pane is busy and injection must wait.
func (r *REPL) Run() error {
	r.printBanner()
	for {
		r.setInputReady(true)
		line, err := r.reader.ReadLine(ui.Prompt(r.persona))
		r.setInputReady(false)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		r.handleLine(line)
	}
}

// handleLine classifies one input line: ">" shortcut, local
// coordination command, or assistant prompt.
func (r *REPL) handleLine(line string) {
	argv, err := TranslateShortcut(line)
	if err != nil {
		r.printError("parse error: " + err.Error())
		return
	}
	if argv == nil {
		argv, err = TranslateAlias(line)
		if err != nil {
			r.printError("parse error: " + err.Error())
			return
		}
	}
	if argv != nil {
		r.runLocal(argv)
		return
	}
	r.promptLine(line)
}

// runLocal executes a coordination argv. A wait is wrapped in the
// waiting status with input-ready lowered, and its "--" follow-up line
// runs afterwards as a fresh input line.
func (r *REPL) runLocal(argv []string) {
	argv, then := SplitThen(argv)
	fmt.Fprintf(r.stdout, "%s %s\n", ui.LocalPrefix(), JoinTokens(argv))

	isWait := len(argv) > 1 && argv[1] == "wait"
	if isWait {
		r.setInputReady(false)
		r.setStatus(persona.StatusWaiting)
	}
	if err := r.executor.Exec(argv); err != nil {
		r.printError(err.Error())
	}
	if isWait {
		r.setInputReady(true)
		r.setStatus(persona.StatusIdle)
		if followup := strings.TrimSpace(JoinTokens(then)); followup != "" {
			r.handleLine(followup)
		}
	}
}

// promptLine runs the assistant path: validate markers, split off
// directed segments, expand the head's context, submit it serialized
// through the broker, then dispatch the segments. The persona rolls
// back to idle on every exit.
func (r *REPL) promptLine(line string) {
	r.setStatus(persona.StatusWorking)
	defer func() {
		r.setInputReady(true)
		r.setStatus(persona.StatusIdle)
	}()

	if err := directive.Validate(line); err != nil {
		r.printError(err.Error())
		return
	}
	head, segments, err := directive.Parse(line)
	if err != nil {
		r.printError(err.Error())
		return
	}

	head = strings.TrimSpace(head)
	if head != "" {
		expanded, err := directive.ExpandContext(head, r.artifacts, r.cfg.Assistant.ContextBudget)
		if err != nil {
			r.printError(err.Error())
			return
		}
		if !r.submitPrompt(expanded) {
			return
		}
	}

	if len(segments) == 0 || os.Getenv(assistant.AgentCallEnvVar) == "1" {
		return
	}
	scheduler := schedule.New(schedule.Options{
		Origin:  r.persona,
		Timeout: r.cfg.Timeouts.Agent.Std(),
		Poll:    r.cfg.Timeouts.Poll.Std(),
		Self:    r,
		Peers:   r,
		Tracker: r.artifacts,
		Logger:  r.logger,
	})
	if err := scheduler.Run(scheduler.BuildRequests(segments)); err != nil {
		r.printError(err.Error())
	}
}

// submitPrompt sends one serialized broker round trip and prints the
// assistant output verbatim.
func (r *REPL) submitPrompt(text string) bool {
	prompt := fmt.Sprintf("[%s] %s", r.persona, text)
	response, err := broker.Prompt(r.socket, prompt, string(r.persona), "")
	if err != nil {
		r.printError("broker error: " + err.Error())
		r.printError("expected socket at: " + r.socket)
		return false
	}
	if !response.OK {
		r.printError("broker error: " + response.Error)
		return false
	}
	if response.Output != "" {
		fmt.Fprint(r.stdout, response.Output)
		if !strings.HasSuffix(response.Output, "\n") {
			fmt.Fprintln(r.stdout)
		}
	}
	return true
}

// DispatchSelf handles a directed segment addressed to this persona:
// same path as a head prompt, context expanded locally.
func (r *REPL) DispatchSelf(segment string) error {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return nil
	}
	expanded, err := directive.ExpandContext(segment, r.artifacts, r.cfg.Assistant.ContextBudget)
	if err != nil {
		return err
	}
	if !r.submitPrompt(expanded) {
		return fmt.Errorf("prompt submission failed")
	}
	return nil
}

// AwaitInputReady blocks until the peer's loop is parked on its
// prompt.
func (r *REPL) AwaitInputReady(key persona.Key, timeout, poll time.Duration) bool {
	ready, err := r.store.Wait(func(doc state.Document) bool {
		return doc.Personas[key].InputReady
	}, timeout, poll)
	if err != nil {
		r.printError(err.Error())
		return false
	}
	return ready
}

// Inject types a directed segment into the peer's pane.
func (r *REPL) Inject(key persona.Key, text string) error {
	paneID, err := r.store.PaneID(key)
	if err != nil {
		return err
	}
	if paneID == "" {
		return fmt.Errorf("no pane found for persona %q", key)
	}
	return r.tmux.SendLine(paneID, strings.TrimSpace(text))
}

func (r *REPL) printBanner() {
	fmt.Fprintln(r.stdout, ui.Header(fmt.Sprintf("=== %s ===", persona.DisplayName(r.persona))))
	fmt.Fprintf(r.stdout, "Persona: %s\nRepo: %s\n", r.persona, r.repoRoot)
	fmt.Fprintln(r.stdout, ui.Tip("Type anything to send it to the assistant."))
	fmt.Fprintln(r.stdout, ui.Tip("'>...' runs 'personamux ...' locally (e.g. >status, >waitfor pm)."))
	fmt.Fprintln(r.stdout, ui.Tip("Chain after waits with: >waitfor pm -- <prompt or command>"))
	fmt.Fprintln(r.stdout, ui.Tip("Include another pane's context with {{ctx:impl}}; direct with {{agent:impl}}."))
	fmt.Fprintln(r.stdout, ui.Tip("Switch panes with Ctrl-b o; 'exit' closes this pane."))
	fmt.Fprintln(r.stdout)
}

func (r *REPL) printError(message string) {
	fmt.Fprintln(r.stderr, ui.Error(message))
}

func (r *REPL) setStatus(status persona.Status) {
	if err := r.store.SetStatus(r.persona, status, ""); err != nil {
		r.logWarn("set status failed", err)
	}
}

func (r *REPL) setInputReady(ready bool) {
	if err := r.store.SetInputReady(r.persona, ready); err != nil {
		r.logWarn("set input ready failed", err)
	}
}

func (r *REPL) logWarn(message string, cause error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message, map[string]string{"error": cause.Error()})
}

// StdinReader reads lines from standard input, echoing the prompt and
// appending each accepted line to the persona's history file.
type StdinReader struct {
	scanner     *bufio.Scanner
	historyPath string
}

func NewStdinReader(historyPath string) *StdinReader {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &StdinReader{scanner: scanner, historyPath: historyPath}
}

func (s *StdinReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := s.scanner.Text()
	s.appendHistory(line)
	return line, nil
}

func (s *StdinReader) appendHistory(line string) {
	if s.historyPath == "" || strings.TrimSpace(line) == "" {
		return
	}
	if err := fsutil.EnsureDir(filepath.Dir(s.historyPath)); err != nil {
		return
	}
	file, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line + "\n")
}

type execExecutor struct{}

func (execExecutor) Exec(argv []string) error {
	if len(argv) == 0 {
		return nil
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
