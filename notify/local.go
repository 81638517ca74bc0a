package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reading-tracker/logger"
)

type timer interface{ Stop() bool }

type armed struct {
	gen    uint64
	timers map[int]timer
}

// LocalScheduler fires reminders from in-process timers, one per (reminder, weekday).
// Each timer re-arms itself for the following week after firing.
type LocalScheduler struct {
	mu      sync.Mutex
	gen     uint64
	armed   map[string]*armed
	deliver func(Message)
	logger  *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) timer
}

// NewLocalScheduler returns a scheduler handing due prompts to deliver. A nil
// deliver logs the prompt.
func NewLocalScheduler(deliver func(Message), log *slog.Logger) *LocalScheduler {
	if log == nil {
		log = logger.Discard()
	}
	s := &LocalScheduler{
		armed:  make(map[string]*armed),
		logger: log,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	if deliver == nil {
		deliver = func(m Message) {
			log.Info(m.Title, "reminder_id", m.ReminderID, "body", m.Body)
		}
	}
	s.deliver = deliver
	return s
}

// Schedule replaces any timers for reminderID with one per day in daysOfWeek.
func (s *LocalScheduler) Schedule(_ context.Context, reminderID, bookTitle, at string, daysOfWeek []int) error {
	if len(daysOfWeek) == 0 {
		return fmt.Errorf("reminder %s has no days", reminderID)
	}
	now := s.now()
	next := make(map[int]time.Time, len(daysOfWeek))
	for _, d := range daysOfWeek {
		t, err := NextOccurrence(now, at, d)
		if err != nil {
			return err
		}
		next[d] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(reminderID)
	s.gen++
	a := &armed{gen: s.gen, timers: make(map[int]timer, len(next))}
	s.armed[reminderID] = a
	msg := NewMessage(reminderID, bookTitle)
	for d, t := range next {
		s.armLocked(a, reminderID, d, t.Sub(now), msg)
		s.logger.Debug("reminder armed", "reminder_id", reminderID, "weekday", d, "at", t)
	}
	return nil
}

func (s *LocalScheduler) armLocked(a *armed, id string, day int, wait time.Duration, msg Message) {
	var fire func()
	fire = func() {
		s.mu.Lock()
		cur, ok := s.armed[id]
		if !ok || cur.gen != a.gen {
			s.mu.Unlock()
			return
		}
		a.timers[day] = s.afterFunc(week, fire)
		s.mu.Unlock()
		s.deliver(msg)
	}
	a.timers[day] = s.afterFunc(wait, fire)
}

// Cancel stops every timer of reminderID. Unknown ids are ignored.
func (s *LocalScheduler) Cancel(_ context.Context, reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(reminderID)
	return nil
}

// Stop cancels everything.
func (s *LocalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.armed {
		s.stopLocked(id)
	}
}

// Pending reports how many weekday timers are armed for reminderID.
func (s *LocalScheduler) Pending(reminderID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.armed[reminderID]; ok {
		return len(a.timers)
	}
	return 0
}

func (s *LocalScheduler) stopLocked(id string) {
	if a, ok := s.armed[id]; ok {
		for _, t := range a.timers {
			t.Stop()
		}
		delete(s.armed, id)
	}
}
