package artifact

import (
	"strings"
	"testing"
	"time"

	"personamux/internal/fsutil"
	"personamux/internal/persona"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	return NewFiles(fsutil.NewPaths(t.TempDir()))
}

func TestReadMissingBodyReturnsPlaceholder(t *testing.T) {
	files := newTestFiles(t)
	got := files.Read(persona.PM)
	if !strings.Contains(got, "no saved response for pm") {
		t.Fatalf("unexpected placeholder: %q", got)
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	files := newTestFiles(t)
	if err := files.Write(persona.Impl, "the answer\n", "req-1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := files.Read(persona.Impl); got != "the answer" {
		t.Fatalf("read: %q", got)
	}
	if got := files.ID(persona.Impl); got != "req-1" {
		t.Fatalf("id: %q", got)
	}
}

func TestWriteGeneratesIDWhenEmpty(t *testing.T) {
	files := newTestFiles(t)
	if err := files.Write(persona.Docs, "one", ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := files.ID(persona.Docs)
	if first == "" {
		t.Fatal("expected generated id")
	}
	if err := files.Write(persona.Docs, "two", ""); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if files.ID(persona.Docs) == first {
		t.Fatal("consecutive writes must not share an id")
	}
}

func TestReadBoundedTruncates(t *testing.T) {
	files := newTestFiles(t)
	long := strings.Repeat("x", 500)
	if err := files.Write(persona.Review, long, ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := files.ReadBounded(persona.Review, 100)
	if !strings.HasSuffix(got, "...(truncated)") {
		t.Fatalf("missing truncation marker: %q", got)
	}
	if len(got) >= len(long) {
		t.Fatalf("not truncated: %d chars", len(got))
	}

	short := files.ReadBounded(persona.Review, 1000)
	if strings.Contains(short, "truncated") {
		t.Fatalf("short read should not truncate: %q", short)
	}
}

func TestSnapshotDetectsIDChange(t *testing.T) {
	files := newTestFiles(t)
	if err := files.Write(persona.PM, "before", "id-a"); err != nil {
		t.Fatalf("write: %v", err)
	}
	snapshot := files.Snapshot(persona.PM)
	if files.Changed(snapshot) {
		t.Fatal("nothing changed yet")
	}
	if err := files.Write(persona.PM, "after", "id-b"); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !files.Changed(snapshot) {
		t.Fatal("id change not detected")
	}
}

func TestSnapshotDetectsFirstWrite(t *testing.T) {
	files := newTestFiles(t)
	snapshot := files.Snapshot(persona.Impl)
	if files.Changed(snapshot) {
		t.Fatal("no artifact exists yet")
	}
	if err := files.Write(persona.Impl, "first", ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !files.Changed(snapshot) {
		t.Fatal("first write not detected")
	}
}

func TestAwaiterObservesWrite(t *testing.T) {
	files := newTestFiles(t)
	awaiter := NewAwaiter(files, nil)
	snapshot := files.Snapshot(persona.Docs)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = files.Write(persona.Docs, "done", "")
	}()

	if !awaiter.Await(snapshot, 5*time.Second, 20*time.Millisecond) {
		t.Fatal("await should have observed the write")
	}
}

func TestAwaiterTimesOut(t *testing.T) {
	files := newTestFiles(t)
	awaiter := NewAwaiter(files, nil)
	snapshot := files.Snapshot(persona.Docs)

	start := time.Now()
	if awaiter.Await(snapshot, 100*time.Millisecond, 20*time.Millisecond) {
		t.Fatal("nothing was written")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("returned before deadline")
	}
}
