package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule configures the cron runner.
type Schedule struct {
	SessionSpec     string
	DeclarationSpec string
	Lookahead       time.Duration
	Lookback        time.Duration
	// RunTimeout bounds one sweep run.
	RunTimeout time.Duration
}

// Runner triggers the sweeps on cron schedules. A run that is still in progress when its
// next tick fires makes that tick a no-op.
type Runner struct {
	cron    *cron.Cron
	sweeper *Sweeper
	sched   Schedule
	now     func() time.Time
	logger  *log.Logger
}

// NewRunner registers both sweeps. An empty spec disables that sweep.
func NewRunner(sweeper *Sweeper, sched Schedule, now func() time.Time, logger *log.Logger) (*Runner, error) {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	if sched.RunTimeout <= 0 {
		sched.RunTimeout = 10 * time.Minute
	}
	r := &Runner{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		sweeper: sweeper,
		sched:   sched,
		now:     now,
		logger:  logger,
	}
	if sched.SessionSpec != "" {
		if _, err := r.cron.AddFunc(sched.SessionSpec, r.runSessions); err != nil {
			return nil, fmt.Errorf("schedule session reminders %q: %w", sched.SessionSpec, err)
		}
	}
	if sched.DeclarationSpec != "" {
		if _, err := r.cron.AddFunc(sched.DeclarationSpec, r.runDeclarations); err != nil {
			return nil, fmt.Errorf("schedule declaration reminders %q: %w", sched.DeclarationSpec, err)
		}
	}
	return r, nil
}

// Start begins the schedule in its own goroutine.
func (r *Runner) Start() {
	r.logger.Printf("[reminder] started sessions=%q declarations=%q", r.sched.SessionSpec, r.sched.DeclarationSpec)
	r.cron.Start()
}

// Stop halts the schedule and waits for running sweeps, or for ctx.
func (r *Runner) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (r *Runner) runSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), r.sched.RunTimeout)
	defer cancel()
	if _, err := r.sweeper.RunSessionReminders(ctx, r.now(), r.sched.Lookahead); err != nil {
		r.logger.Printf("[reminder] session sweep: %v", err)
	}
}

func (r *Runner) runDeclarations() {
	ctx, cancel := context.WithTimeout(context.Background(), r.sched.RunTimeout)
	defer cancel()
	if _, err := r.sweeper.RunDeclarationReminders(ctx, r.now(), r.sched.Lookback); err != nil {
		r.logger.Printf("[reminder] declaration sweep: %v", err)
	}
}
