package repl

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"personamux/internal/artifact"
	"personamux/internal/assistant"
	"personamux/internal/broker"
	"personamux/internal/config"
	"personamux/internal/fsutil"
	"personamux/internal/persona"
	"personamux/internal/tmux"
)

type scriptReader struct {
	lines []string
}

func (s *scriptReader) ReadLine(prompt string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type recordingExecutor struct {
	argvs [][]string
}

func (r *recordingExecutor) Exec(argv []string) error {
	r.argvs = append(r.argvs, append([]string(nil), argv...))
	return nil
}

type nullTmuxRunner struct {
	calls [][]string
}

func (n *nullTmuxRunner) Run(args []string, input []byte) ([]byte, error) {
	n.calls = append(n.calls, append([]string(nil), args...))
	return nil, nil
}

type echoAssistant struct{}

func (echoAssistant) Run(ctx context.Context, dir string, argv []string) (string, int, error) {
	return "echo: " + argv[len(argv)-1] + "\n", 0, nil
}

func startTestBroker(t *testing.T, repoRoot string) string {
	t.Helper()
	paths := fsutil.NewPaths(repoRoot)
	if err := fsutil.EnsureDir(paths.ResponsesDir()); err != nil {
		t.Fatalf("ensure responses dir: %v", err)
	}
	server := broker.NewServer(broker.ServerOptions{
		SocketPath:         paths.BrokerSocket(),
		RepoRoot:           repoRoot,
		AssistantConfigDir: paths.AssistantConfigDir(),
		Assistant: assistant.NewRunner(assistant.Options{
			RepoRoot:   repoRoot,
			ConfigDir:  paths.AssistantConfigDir(),
			MarkerFile: paths.SessionMarkerFile(),
			Runner:     echoAssistant{},
		}),
		Artifacts: artifact.NewFiles(paths),
	})
	if err := server.Listen(); err != nil {
		t.Fatalf("broker listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return paths.BrokerSocket()
}

func newTestREPL(t *testing.T, repoRoot string, key persona.Key, lines ...string) (*REPL, *recordingExecutor, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	if err := fsutil.EnsureDir(fsutil.NewPaths(repoRoot).SharedDir()); err != nil {
		t.Fatalf("ensure shared dir: %v", err)
	}
	executor := &recordingExecutor{}
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	r := New(Options{
		Persona:  key,
		RepoRoot: repoRoot,
		Config:   config.Defaults(),
		Reader:   &scriptReader{lines: lines},
		Executor: executor,
		Tmux:     tmux.NewClientWithRunner(&nullTmuxRunner{}),
		Stdout:   stdout,
		Stderr:   stderr,
	})
	return r, executor, stdout, stderr
}

func TestRunExitsOnExitCommand(t *testing.T) {
	r, _, _, _ := newTestREPL(t, t.TempDir(), persona.PM, "exit")
	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	doc, err := r.store.ReadNormalized()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if doc.Personas[persona.PM].InputReady {
		t.Fatal("input ready should be lowered on exit")
	}
}

func TestRunExecutesShortcutLocally(t *testing.T) {
	r, executor, stdout, _ := newTestREPL(t, t.TempDir(), persona.PM, ">status", "exit")
	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(executor.argvs) != 1 {
		t.Fatalf("argvs = %v", executor.argvs)
	}
	want := []string{"personamux", "status"}
	if strings.Join(executor.argvs[0], " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v, want %v", executor.argvs[0], want)
	}
	if !strings.Contains(stdout.String(), "personamux status") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunWaitChainsFollowup(t *testing.T) {
	r, executor, _, _ := newTestREPL(t, t.TempDir(), persona.PM,
		">waitfor impl -- >status", "exit")
	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(executor.argvs) != 2 {
		t.Fatalf("argvs = %v", executor.argvs)
	}
	if executor.argvs[0][1] != "wait" {
		t.Fatalf("first argv = %v", executor.argvs[0])
	}
	if executor.argvs[1][1] != "status" {
		t.Fatalf("followup argv = %v", executor.argvs[1])
	}
	doc, err := r.store.ReadNormalized()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if doc.Personas[persona.PM].Status != persona.StatusIdle {
		t.Fatalf("status = %s, want idle after wait", doc.Personas[persona.PM].Status)
	}
}

func TestRunSubmitsPromptThroughBroker(t *testing.T) {
	repoRoot := t.TempDir()
	startTestBroker(t, repoRoot)
	r, _, stdout, stderr := newTestREPL(t, repoRoot, persona.PM, "explain the plan", "exit")

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "echo: [pm] explain the plan") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	doc, err := r.store.ReadNormalized()
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if doc.Personas[persona.PM].Status != persona.StatusIdle {
		t.Fatalf("status = %s, want idle", doc.Personas[persona.PM].Status)
	}
}

func TestRunHonorsExplicitSocketPath(t *testing.T) {
	brokerRoot := t.TempDir()
	socket := startTestBroker(t, brokerRoot)

	repoRoot := t.TempDir()
	if err := fsutil.EnsureDir(fsutil.NewPaths(repoRoot).SharedDir()); err != nil {
		t.Fatalf("ensure shared dir: %v", err)
	}
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	r := New(Options{
		Persona:    persona.PM,
		RepoRoot:   repoRoot,
		SocketPath: socket,
		Config:     config.Defaults(),
		Reader:     &scriptReader{lines: []string{"explain the plan", "exit"}},
		Executor:   &recordingExecutor{},
		Tmux:       tmux.NewClientWithRunner(&nullTmuxRunner{}),
		Stdout:     stdout,
		Stderr:     stderr,
	})

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "echo: [pm] explain the plan") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunRejectsInvalidMarkerBeforeSubmitting(t *testing.T) {
	// No broker running: validation must fail before any socket use.
	r, _, _, stderr := newTestREPL(t, t.TempDir(), persona.PM, "ping {{agent:ghost}} hello", "exit")
	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(stderr.String(), "ghost") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunDispatchesSelfDirectedSegment(t *testing.T) {
	repoRoot := t.TempDir()
	startTestBroker(t, repoRoot)
	r, _, stdout, stderr := newTestREPL(t, repoRoot, persona.PM,
		"{{agent:pm}} summarize the day", "exit")

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "echo: [pm] summarize the day") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunSkipsDirectedSegmentsDuringAgentCall(t *testing.T) {
	repoRoot := t.TempDir()
	startTestBroker(t, repoRoot)
	t.Setenv(assistant.AgentCallEnvVar, "1")
	r, _, stdout, _ := newTestREPL(t, repoRoot, persona.PM,
		"head text {{agent:impl}} do not dispatch", "exit")

	if err := r.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "echo: [pm] head text") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	// The impl segment would block forever waiting for a pane; its
	// absence from stdout means it was skipped.
	if strings.Contains(stdout.String(), "do not dispatch") {
		t.Fatalf("segment leaked: %q", stdout.String())
	}
}
