// Package schedule paces fixed-period loops against absolute deadlines so
// that variable per-iteration work does not accumulate as drift.
package schedule

import (
	"context"
	"time"
)

type Schedule struct {
	period time.Duration
	next   time.Time
	now    func() time.Time
}

// New starts a schedule whose first deadline is one period from now.
func New(period time.Duration) *Schedule {
	s := &Schedule{period: period, now: time.Now}
	s.next = s.now()
	return s
}

func (s *Schedule) Period() time.Duration {
	return s.period
}

// Wait sleeps until the next deadline. If the deadline has already passed it
// returns immediately; if the loop has fallen more than a whole period
// behind, the schedule restarts from now rather than running a burst of
// back-to-back iterations to catch up.
func (s *Schedule) Wait(ctx context.Context) error {
	s.next = s.next.Add(s.period)
	now := s.now()
	d := s.next.Sub(now)
	if d <= 0 {
		if -d >= s.period {
			s.next = now
		}
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
