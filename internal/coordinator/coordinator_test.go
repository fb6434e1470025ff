package coordinator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/assistant"
	"personamux/internal/broker"
	"personamux/internal/config"
	"personamux/internal/fsutil"
	"personamux/internal/persona"
	"personamux/internal/tmux"
)

type fakeTmuxRunner struct {
	calls [][]string
}

func (f *fakeTmuxRunner) Run(args []string, input []byte) ([]byte, error) {
	f.calls = append(f.calls, append([]string(nil), args...))
	return nil, nil
}

type fakeSpawner struct {
	argv    []string
	started bool
	start   func()
}

func (f *fakeSpawner) StartDetached(argv []string, dir, logPath string) (int, error) {
	f.argv = append([]string(nil), argv...)
	f.started = true
	if f.start != nil {
		f.start()
	}
	return os.Getpid(), nil
}

type echoAssistant struct{}

func (echoAssistant) Run(ctx context.Context, dir string, argv []string) (string, int, error) {
	return "echo: " + argv[len(argv)-1], 0, nil
}

func newTestCoordinator(t *testing.T, repoRoot string) (*Coordinator, *fakeTmuxRunner, *fakeSpawner, *bytes.Buffer) {
	t.Helper()
	runner := &fakeTmuxRunner{}
	spawner := &fakeSpawner{}
	stdout := &bytes.Buffer{}
	c := New(Options{
		RepoRoot: repoRoot,
		Config:   config.Defaults(),
		Tmux:     tmux.NewClientWithRunner(runner),
		Spawner:  spawner,
		Stdout:   stdout,
	})
	if err := fsutil.EnsureDir(c.paths.SharedDir()); err != nil {
		t.Fatalf("ensure shared dir: %v", err)
	}
	return c, runner, spawner, stdout
}

// startTestBroker runs a real broker on the repo's socket with a fake
// assistant, and tears it down with the test.
func startTestBroker(t *testing.T, repoRoot, configDir string) {
	t.Helper()
	paths := fsutil.NewPaths(repoRoot)
	if err := fsutil.EnsureDir(paths.ResponsesDir()); err != nil {
		t.Fatalf("ensure responses dir: %v", err)
	}
	server := broker.NewServer(broker.ServerOptions{
		SocketPath:         paths.BrokerSocket(),
		RepoRoot:           repoRoot,
		AssistantConfigDir: configDir,
		Assistant: assistant.NewRunner(assistant.Options{
			RepoRoot:   repoRoot,
			ConfigDir:  configDir,
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
}

func TestSetStatusAndStatusRoundTrip(t *testing.T) {
	repoRoot := t.TempDir()
	c, _, _, stdout := newTestCoordinator(t, repoRoot)

	message := "reviewing the diff"
	if err := c.SetStatus("review", "working", &message); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "review => working") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	stdout.Reset()
	if err := c.Status(); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, `"status": "working"`) || !strings.Contains(out, "reviewing the diff") {
		t.Fatalf("status output missing fields: %s", out)
	}
}

func TestSetStatusRejectsUnknownInputs(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, t.TempDir())
	if err := c.SetStatus("ghost", "idle", nil); err == nil {
		t.Fatal("expected unknown persona error")
	}
	if err := c.SetStatus("pm", "sleeping", nil); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestWaitReachesStatus(t *testing.T) {
	c, _, _, stdout := newTestCoordinator(t, t.TempDir())
	if _, err := c.store.EnsureInitialized(); err != nil {
		t.Fatalf("init: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = c.store.SetStatus(persona.Docs, persona.StatusDone, "")
	}()
	if err := c.Wait("docs", []string{"done", "blocked"}, 2*time.Second, 10*time.Millisecond); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "docs reached status") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestWaitTimesOut(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, t.TempDir())
	if _, err := c.store.EnsureInitialized(); err != nil {
		t.Fatalf("init: %v", err)
	}
	err := c.Wait("impl", []string{"done"}, 50*time.Millisecond, 10*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out waiting for impl") {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestEnsureBrokerReusesMatchingBroker(t *testing.T) {
	repoRoot := t.TempDir()
	c, _, spawner, _ := newTestCoordinator(t, repoRoot)
	configDir := c.AssistantConfigDir()
	startTestBroker(t, repoRoot, configDir)

	if err := c.EnsureBroker(configDir); err != nil {
		t.Fatalf("EnsureBroker() error = %v", err)
	}
	if spawner.started {
		t.Fatal("matching broker should not be respawned")
	}
}

func TestEnsureBrokerSpawnsWhenAbsent(t *testing.T) {
	repoRoot := t.TempDir()
	c, _, spawner, _ := newTestCoordinator(t, repoRoot)
	configDir := c.AssistantConfigDir()
	spawner.start = func() {
		startTestBroker(t, repoRoot, configDir)
	}

	if err := c.EnsureBroker(configDir); err != nil {
		t.Fatalf("EnsureBroker() error = %v", err)
	}
	if !spawner.started {
		t.Fatal("expected broker spawn")
	}
	if len(spawner.argv) == 0 || spawner.argv[0] != "personamux-broker" {
		t.Fatalf("spawn argv = %v", spawner.argv)
	}
}

func TestAskPrintsResponseAndRollsBackStatus(t *testing.T) {
	repoRoot := t.TempDir()
	c, _, _, stdout := newTestCoordinator(t, repoRoot)
	configDir := c.AssistantConfigDir()
	if err := fsutil.EnsureDir(configDir); err != nil {
		t.Fatalf("ensure config dir: %v", err)
	}
	startTestBroker(t, repoRoot, configDir)

	err := c.Ask(AskOptions{
		Persona: "impl",
		Prompt:  "write the parser",
		Timeout: 5 * time.Second,
		Poll:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "echo: [impl] write the parser") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	doc, readErr := c.store.ReadNormalized()
	if readErr != nil {
		t.Fatalf("read state: %v", readErr)
	}
	if doc.Personas[persona.Impl].Status != persona.StatusIdle {
		t.Fatalf("impl status = %s, want idle", doc.Personas[persona.Impl].Status)
	}
}

func TestAskRejectsUnknownPersona(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t, t.TempDir())
	if err := c.Ask(AskOptions{Persona: "ghost", Prompt: "hi"}); err == nil {
		t.Fatal("expected unknown persona error")
	}
}

func TestSeedSharedFilesIsIdempotent(t *testing.T) {
	repoRoot := t.TempDir()
	c, _, _, _ := newTestCoordinator(t, repoRoot)

	if err := c.seedSharedFiles(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	marker := filepath.Join(c.paths.SharedDir(), "WORK_CONTEXT.md")
	if err := os.WriteFile(marker, []byte("edited by hand\n"), 0o644); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := c.seedSharedFiles(); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "edited by hand\n" {
		t.Fatal("reseed clobbered an existing shared file")
	}
	for name := range sharedFileTemplates {
		if _, err := os.Stat(filepath.Join(c.paths.SharedDir(), name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}
}
