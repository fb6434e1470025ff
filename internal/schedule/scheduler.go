// Package schedule runs the directed segments of one input line:
// resolving cross-persona dependencies, enforcing index order, and
// dropping requests whose deadline passes before they can start. The
// loop is single-threaded and cooperative; all cross-process signals
// arrive through the state store and the response artifacts, observed
// by bounded polling.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"personamux/internal/artifact"
	"personamux/internal/directive"
	"personamux/internal/logging"
	"personamux/internal/persona"
)

// Request is one directed prompt submission, scheduler-local and never
// persisted. It is destroyed once dispatched or timed out.
type Request struct {
	Index    int
	Persona  persona.Key
	Segment  string
	Deps     map[persona.Key]bool
	Deadline time.Time
}

// SelfDispatcher runs a segment addressed to the issuing persona
// itself: expansion plus a blocking broker round trip.
type SelfDispatcher interface {
	DispatchSelf(segment string) error
}

// PeerInjector delivers a segment to another persona's input surface.
// Injection counts as delivered only after the peer's input-ready
// signal was observed.
type PeerInjector interface {
	AwaitInputReady(key persona.Key, timeout, poll time.Duration) bool
	Inject(key persona.Key, text string) error
}

// Tracker observes response-artifact movement. *artifact.Files
// satisfies it.
type Tracker interface {
	Snapshot(key persona.Key) artifact.Snapshot
	Changed(snapshot artifact.Snapshot) bool
}

type Options struct {
	Origin  persona.Key
	Timeout time.Duration // per-line budget, becomes each request's deadline
	Poll    time.Duration
	Self    SelfDispatcher
	Peers   PeerInjector
	Tracker Tracker
	Logger  *logging.Logger
}

type Scheduler struct {
	origin  persona.Key
	timeout time.Duration
	poll    time.Duration
	self    SelfDispatcher
	peers   PeerInjector
	tracker Tracker
	logger  *logging.Logger
}

const (
	DefaultTimeout = 120 * time.Second
	DefaultPoll    = 500 * time.Millisecond
)

func New(options Options) *Scheduler {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	poll := options.Poll
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Scheduler{
		origin:  options.Origin,
		timeout: timeout,
		poll:    poll,
		self:    options.Self,
		peers:   options.Peers,
		tracker: options.Tracker,
		logger:  options.Logger,
	}
}

// BuildRequests turns parsed segments into requests sharing one
// deadline. Dependency edges come from embedded context markers.
func (s *Scheduler) BuildRequests(segments []directive.Segment) []Request {
	deadline := time.Now().Add(s.timeout)
	requests := make([]Request, 0, len(segments))
	for index, segment := range segments {
		requests = append(requests, Request{
			Index:    index,
			Persona:  segment.Persona,
			Segment:  segment.Text,
			Deps:     directive.Dependencies(segment.Text),
			Deadline: deadline,
		})
	}
	return requests
}

// Run drives the requests to completion. A request that cannot start
// before its deadline is dropped with an error; its siblings keep
// going. The returned error joins every drop and dispatch failure.
func (s *Scheduler) Run(requests []Request) error {
	if len(requests) == 0 {
		return nil
	}

	pending := append([]Request(nil), requests...)
	active := make(map[persona.Key]bool)
	snapshots := make(map[persona.Key]artifact.Snapshot)
	for _, request := range pending {
		if _, ok := snapshots[request.Persona]; !ok {
			snapshots[request.Persona] = s.tracker.Snapshot(request.Persona)
		}
	}

	var failures []error
	for len(pending) > 0 || len(active) > 0 {
		now := time.Now()

		// Expired requests drop without touching their siblings.
		remaining := pending[:0]
		for _, request := range pending {
			if now.After(request.Deadline) {
				failures = append(failures, fmt.Errorf("timed out waiting to start %s request", request.Persona))
				s.logWarn("request dropped at deadline", request.Persona)
				continue
			}
			remaining = append(remaining, request)
		}
		pending = remaining

		// An artifact change means the peer finished its request.
		for key := range active {
			if s.tracker.Changed(snapshots[key]) {
				delete(active, key)
				snapshots[key] = s.tracker.Snapshot(key)
			}
		}

		startedAny := false
		next := pending[:0]
		for _, request := range pending {
			if active[request.Persona] || s.blocked(request, pending, active) {
				next = append(next, request)
				continue
			}
			if err := s.dispatch(request, active, snapshots); err != nil {
				failures = append(failures, err)
			}
			startedAny = true
		}
		pending = next

		if len(pending) == 0 && len(active) == 0 {
			break
		}
		if !startedAny {
			time.Sleep(s.poll)
		}
	}
	return errors.Join(failures...)
}

// blocked applies the ordering rules: an earlier not-yet-dispatched
// request that shares this request's target, or that targets one of
// its dependencies, must start first; and no dependency may be active.
func (s *Scheduler) blocked(request Request, pending []Request, active map[persona.Key]bool) bool {
	for _, other := range pending {
		if other.Index >= request.Index {
			continue
		}
		if other.Persona == request.Persona {
			return true
		}
		if request.Deps[other.Persona] {
			return true
		}
	}
	for dep := range request.Deps {
		if active[dep] {
			return true
		}
	}
	return false
}

func (s *Scheduler) dispatch(request Request, active map[persona.Key]bool, snapshots map[persona.Key]artifact.Snapshot) error {
	if request.Persona == s.origin {
		// Own-persona requests block the loop until the broker answers;
		// that is the serialized path and needs no active tracking.
		if err := s.self.DispatchSelf(request.Segment); err != nil {
			return fmt.Errorf("dispatch to %s: %w", request.Persona, err)
		}
		snapshots[request.Persona] = s.tracker.Snapshot(request.Persona)
		return nil
	}

	readyBudget := time.Until(request.Deadline)
	if !s.peers.AwaitInputReady(request.Persona, readyBudget, s.poll) {
		return fmt.Errorf("timed out waiting for %s input ready", request.Persona)
	}
	if err := s.peers.Inject(request.Persona, request.Segment); err != nil {
		return fmt.Errorf("inject into %s: %w", request.Persona, err)
	}
	active[request.Persona] = true
	return nil
}

func (s *Scheduler) logWarn(message string, key persona.Key) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(message, map[string]string{"persona": string(key)})
}
