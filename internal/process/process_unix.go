//go:build !windows

// Package process stops the detached broker by pid: SIGTERM first,
// a bounded wait for exit, then SIGKILL. Pid files are the only
// handle the coordinator keeps on the broker across its own restarts.
package process

import (
	"context"
	"errors"
	"syscall"
	"time"
)

var ErrNotRunning = errors.New("process not running")

const (
	defaultStopTimeout = 5 * time.Second
	alivePollInterval  = 50 * time.Millisecond
)

// Alive reports whether pid exists. EPERM still means alive, just not
// ours to signal.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// Stop terminates pid. A process that is already gone returns
// ErrNotRunning so callers can treat it as stale-state cleanup rather
// than failure.
func Stop(ctx context.Context, pid int) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	if !Alive(pid) {
		return ErrNotRunning
	}
	termErr := syscall.Kill(pid, syscall.SIGTERM)
	if errors.Is(termErr, syscall.ESRCH) {
		termErr = nil
	}
	if termErr != nil {
		return termErr
	}
	if waitForExit(ctx, pid) == nil {
		return nil
	}
	killErr := syscall.Kill(pid, syscall.SIGKILL)
	if errors.Is(killErr, syscall.ESRCH) {
		killErr = nil
	}
	if killErr != nil {
		return killErr
	}
	return waitForExit(ctx, pid)
}

func waitForExit(ctx context.Context, pid int) error {
	timeout := defaultStopTimeout
	if ctx != nil {
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ctx.Err()
			}
			if remaining < timeout {
				timeout = remaining
			}
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		if !Alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(alivePollInterval):
			}
			continue
		}
		time.Sleep(alivePollInterval)
	}
}
