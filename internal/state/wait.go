package state

import (
	"time"
)

const DefaultPollInterval = 500 * time.Millisecond

// Wait polls the normalized document until predicate returns true.
// Each poll takes the lock for one read only. A zero timeout means no
// deadline; a zero poll interval uses the default. Returns false when
// the deadline elapses first. There is no cross-process wakeup
// primitive here, so bounded polling is the coordination mechanism.
func (s *Store) Wait(predicate func(Document) bool, timeout, poll time.Duration) (bool, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		doc, err := s.ReadNormalized()
		if err != nil {
			return false, err
		}
		if predicate(doc) {
			return true, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(poll)
	}
}
