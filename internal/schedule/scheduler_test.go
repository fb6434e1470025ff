package schedule

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/directive"
	"personamux/internal/persona"
)

type fakeTracker struct {
	mu       sync.Mutex
	versions map[persona.Key]int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{versions: make(map[persona.Key]int)}
}

func (t *fakeTracker) bump(key persona.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[key]++
}

func (t *fakeTracker) Snapshot(key persona.Key) artifact.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return artifact.Snapshot{Persona: key, ID: fmt.Sprintf("v%d", t.versions[key]), HasFile: true}
}

func (t *fakeTracker) Changed(snapshot artifact.Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("v%d", t.versions[snapshot.Persona]) != snapshot.ID
}

type fakePeers struct {
	tracker  *fakeTracker
	ready    map[persona.Key]bool
	injected []string
	answer   bool // bump the artifact right after injection
}

func (p *fakePeers) AwaitInputReady(key persona.Key, timeout, poll time.Duration) bool {
	if p.ready == nil {
		return true
	}
	return p.ready[key]
}

func (p *fakePeers) Inject(key persona.Key, text string) error {
	p.injected = append(p.injected, string(key)+":"+text)
	if p.answer {
		p.tracker.bump(key)
	}
	return nil
}

type fakeSelf struct {
	segments []string
	err      error
}

func (s *fakeSelf) DispatchSelf(segment string) error {
	s.segments = append(s.segments, segment)
	return s.err
}

func newTestScheduler(tracker *fakeTracker, peers *fakePeers, self *fakeSelf) *Scheduler {
	return New(Options{
		Origin:  persona.PM,
		Timeout: time.Second,
		Poll:    time.Millisecond,
		Self:    self,
		Peers:   peers,
		Tracker: tracker,
	})
}

func TestRunInjectsPeerRequest(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, answer: true}
	scheduler := newTestScheduler(tracker, peers, &fakeSelf{})

	requests := scheduler.BuildRequests([]directive.Segment{
		{Persona: persona.Impl, Text: "write the parser"},
	})
	if err := scheduler.Run(requests); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(peers.injected) != 1 || peers.injected[0] != "impl:write the parser" {
		t.Fatalf("injected = %v", peers.injected)
	}
}

func TestRunDispatchesOwnPersonaViaSelf(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, answer: true}
	self := &fakeSelf{}
	scheduler := newTestScheduler(tracker, peers, self)

	requests := scheduler.BuildRequests([]directive.Segment{
		{Persona: persona.PM, Text: "summarize progress"},
	})
	if err := scheduler.Run(requests); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(self.segments) != 1 || self.segments[0] != "summarize progress" {
		t.Fatalf("self segments = %v", self.segments)
	}
	if len(peers.injected) != 0 {
		t.Fatalf("unexpected injections: %v", peers.injected)
	}
}

func TestRunOrdersRequestsToSamePersona(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, answer: true}
	scheduler := newTestScheduler(tracker, peers, &fakeSelf{})

	requests := scheduler.BuildRequests([]directive.Segment{
		{Persona: persona.Impl, Text: "first"},
		{Persona: persona.Impl, Text: "second"},
	})
	if err := scheduler.Run(requests); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"impl:first", "impl:second"}
	if len(peers.injected) != 2 || peers.injected[0] != want[0] || peers.injected[1] != want[1] {
		t.Fatalf("injected = %v, want %v", peers.injected, want)
	}
}

func TestRunHoldsDependentUntilDependencyFinishes(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, answer: true}
	scheduler := newTestScheduler(tracker, peers, &fakeSelf{})

	requests := scheduler.BuildRequests([]directive.Segment{
		{Persona: persona.Review, Text: "audit the diff"},
		{Persona: persona.Impl, Text: "apply fixes from {{last:review}}"},
	})
	if err := scheduler.Run(requests); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(peers.injected) != 2 {
		t.Fatalf("injected = %v", peers.injected)
	}
	if !strings.HasPrefix(peers.injected[0], "review:") || !strings.HasPrefix(peers.injected[1], "impl:") {
		t.Fatalf("dependency ran out of order: %v", peers.injected)
	}
}

func TestRunDropsExpiredRequest(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, answer: true}
	scheduler := newTestScheduler(tracker, peers, &fakeSelf{})

	requests := []Request{
		{Index: 0, Persona: persona.Impl, Segment: "too late", Deadline: time.Now().Add(-time.Second)},
		{Index: 1, Persona: persona.Review, Segment: "still fine", Deadline: time.Now().Add(time.Second)},
	}
	err := scheduler.Run(requests)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Run() error = %v, want timeout", err)
	}
	if len(peers.injected) != 1 || peers.injected[0] != "review:still fine" {
		t.Fatalf("injected = %v", peers.injected)
	}
}

func TestRunReportsUnreadyPeer(t *testing.T) {
	tracker := newFakeTracker()
	peers := &fakePeers{tracker: tracker, ready: map[persona.Key]bool{persona.Docs: false}}
	scheduler := newTestScheduler(tracker, peers, &fakeSelf{})

	requests := scheduler.BuildRequests([]directive.Segment{
		{Persona: persona.Docs, Text: "update the changelog"},
	})
	err := scheduler.Run(requests)
	if err == nil || !strings.Contains(err.Error(), "input ready") {
		t.Fatalf("Run() error = %v, want input-ready timeout", err)
	}
	if len(peers.injected) != 0 {
		t.Fatalf("unexpected injections: %v", peers.injected)
	}
}
