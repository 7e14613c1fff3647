// Package reminder finds attendance that needs a nudge and sends it through a Notifier.
// Sweeps only read attendance state; they never change it.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"trainingattend/internal/attendance"
	"trainingattend/internal/metrics"
	"trainingattend/internal/notify"
)

const (
	DefaultLookahead = 24 * time.Hour
	DefaultLookback  = 7 * 24 * time.Hour
)

// Result summarizes one sweep. Skipped counts recipients without a usable address.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Sweeper runs the session and declaration reminder sweeps. Delivery is at-least-once:
// nothing is recorded after a send, so running a sweep twice over the same window sends
// the reminders twice.
type Sweeper struct {
	source      attendance.ReminderSource
	people      attendance.Directory
	notifier    notify.Notifier
	sendTimeout time.Duration
	logger      *log.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(source attendance.ReminderSource, people attendance.Directory, notifier notify.Notifier) *Sweeper {
	return &Sweeper{
		source:      source,
		people:      people,
		notifier:    notifier,
		sendTimeout: 10 * time.Second,
		logger:      log.Default(),
	}
}

// WithLogger replaces the sweeper logger.
func (s *Sweeper) WithLogger(l *log.Logger) *Sweeper {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithSendTimeout bounds each individual send.
func (s *Sweeper) WithSendTimeout(d time.Duration) *Sweeper {
	if d > 0 {
		s.sendTimeout = d
	}
	return s
}

// RunSessionReminders notifies everyone registered for a scheduled session that starts
// within [now, now+lookahead]. Canceled records are skipped as a matter of policy; every
// other status is reminded. Nothing records a sent reminder, so a caller that runs more
// often than lookahead reminds the same people again.
func (s *Sweeper) RunSessionReminders(ctx context.Context, now time.Time, lookahead time.Duration) (Result, error) {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	defer observe("sessions", time.Now())

	var res Result
	sessions, err := s.source.SessionsStartingBetween(ctx, now, now.Add(lookahead))
	if err != nil {
		return res, fmt.Errorf("load upcoming sessions: %w", err)
	}
	for _, sess := range sessions {
		records, err := s.source.SessionAttendance(ctx, sess.ID)
		if err != nil {
			return res, fmt.Errorf("load attendance for session %s: %w", sess.ID, err)
		}
		for _, rec := range records {
			if rec.Status == attendance.StatusCanceled {
				continue
			}
			s.deliver(ctx, &res, rec.PersonID, notify.TemplateTrainingReminder, func(p attendance.Person) notify.Data {
				return attendance.SessionTemplateData(sess, p)
			})
		}
	}
	s.logger.Printf("[reminder] session reminders for %d sessions: sent=%d failed=%d skipped=%d",
		len(sessions), res.Sent, res.Failed, res.Skipped)
	return res, nil
}

// RunDeclarationReminders notifies people who attended within [now-lookback, now] and have
// not submitted a declaration. A declaration flagged non-compliant still counts as submitted.
func (s *Sweeper) RunDeclarationReminders(ctx context.Context, now time.Time, lookback time.Duration) (Result, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	defer observe("declarations", time.Now())

	var res Result
	views, err := s.source.AttendedWithoutDeclaration(ctx, now.Add(-lookback), now)
	if err != nil {
		return res, fmt.Errorf("load undeclared attendance: %w", err)
	}
	for _, v := range views {
		if v.Declaration != nil {
			continue
		}
		sess := v.Session
		s.deliver(ctx, &res, v.PersonID, notify.TemplateDeclarationReminder, func(p attendance.Person) notify.Data {
			data := notify.Data{"userName": p.DisplayName(), "attendanceId": v.ID}
			if sess != nil {
				data["trainingTitle"] = sess.Title
				data["trainingDate"] = sess.StartsAt.UTC().Format("Monday, 2 January 2006")
			}
			return data
		})
	}
	s.logger.Printf("[reminder] declaration reminders for %d attendances: sent=%d failed=%d skipped=%d",
		len(views), res.Sent, res.Failed, res.Skipped)
	return res, nil
}

// deliver resolves the recipient and sends one notification under its own timeout. Nothing
// here aborts the sweep.
func (s *Sweeper) deliver(ctx context.Context, res *Result, personID, template string, data func(attendance.Person) notify.Data) {
	p, err := s.people.Person(ctx, personID)
	if errors.Is(err, attendance.ErrNoRows) {
		res.Skipped++
		return
	}
	if err != nil {
		res.Failed++
		s.logger.Printf("[reminder] %s: lookup person %s: %v", template, personID, err)
		return
	}
	if p.Email == "" {
		res.Skipped++
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if err := s.notifier.Send(sendCtx, p.Email, template, data(p)); err != nil {
		res.Failed++
		metrics.Notifications.WithLabelValues(template, metrics.ResultFailed).Inc()
		s.logger.Printf("[reminder] %s to %s failed: %v", template, p.Email, err)
		return
	}
	res.Sent++
	metrics.Notifications.WithLabelValues(template, metrics.ResultSent).Inc()
}

func observe(sweep string, start time.Time) {
	metrics.SweepDuration.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}
