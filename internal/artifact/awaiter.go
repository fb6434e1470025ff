package artifact

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"personamux/internal/fsutil"
	"personamux/internal/logging"
)

const defaultAwaitPoll = 500 * time.Millisecond

// Awaiter blocks until a persona's response artifact changes. It
// watches the responses directory with fsnotify and re-checks the
// snapshot on every event, with a periodic poll as the fallback for
// filesystems that drop events. The wait is bounded by timeout only;
// there is no out-of-band cancellation because the waiting process may
// not be the one that could cancel it.
type Awaiter struct {
	files  *Files
	logger *logging.Logger
}

func NewAwaiter(files *Files, logger *logging.Logger) *Awaiter {
	return &Awaiter{files: files, logger: logger}
}

// Await returns true as soon as the snapshot's artifact changes, false
// when timeout elapses first. A zero timeout means no deadline; a zero
// poll interval uses the default.
func (a *Awaiter) Await(snapshot Snapshot, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = defaultAwaitPoll
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	events := a.watch()
	if events != nil {
		defer events.Close()
	}

	for {
		if a.files.Changed(snapshot) {
			return true
		}
		remaining := poll
		if !deadline.IsZero() {
			untilDeadline := time.Until(deadline)
			if untilDeadline <= 0 {
				return false
			}
			if untilDeadline < remaining {
				remaining = untilDeadline
			}
		}
		if events == nil {
			time.Sleep(remaining)
			continue
		}
		select {
		case <-events.Events:
		case <-events.Errors:
		case <-time.After(remaining):
		}
	}
}

func (a *Awaiter) watch() *fsnotify.Watcher {
	if err := fsutil.EnsureDir(a.files.Dir()); err != nil {
		a.logWarn("create responses dir failed", err)
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logWarn("fsnotify unavailable, polling only", err)
		return nil
	}
	if err := watcher.Add(a.files.Dir()); err != nil {
		a.logWarn("watch responses dir failed, polling only", err)
		watcher.Close()
		return nil
	}
	return watcher
}

func (a *Awaiter) logWarn(message string, cause error) {
	if a.logger == nil {
		return
	}
	a.logger.Warn(message, map[string]string{"error": cause.Error()})
}
