// Package activity keeps idle sessions looking attended. Every session gets one
// recurring task, at an interval drawn once from [MinInterval, MaxInterval], that
// performs a single small pointer move or scroll per firing.
package activity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

const (
	MinInterval   = 5 * time.Minute
	MaxInterval   = 10 * time.Minute
	ActionTimeout = 10 * time.Second

	// area the pointer wanders in, independent of the session viewport
	areaWidth  = 1280
	areaHeight = 720
)

// Action is one kind of simulated interaction.
type Action int

const (
	ActionMouseMove Action = iota
	ActionScroll
)

// Actions lists every kind PickAction can return.
var Actions = []Action{ActionMouseMove, ActionScroll}

func (a Action) String() string {
	switch a {
	case ActionMouseMove:
		return "mouse_move"
	case ActionScroll:
		return "scroll"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Target is what the simulator drives; browser.Page satisfies it.
type Target interface {
	MouseMove(ctx context.Context, x, y float64) error
	Scroll(ctx context.Context, dx, dy float64) error
}

// DrawInterval returns a uniformly distributed interval in [MinInterval, MaxInterval].
func DrawInterval(r *rand.Rand) time.Duration {
	return MinInterval + time.Duration(r.Int64N(int64(MaxInterval-MinInterval)+1))
}

// PickAction chooses one of Actions uniformly.
func PickAction(r *rand.Rand) Action {
	return Actions[r.IntN(len(Actions))]
}

// Scheduler runs the activity tasks of all sessions on one cron instance.
type Scheduler struct {
	cron *cronlib.Cron

	mu      sync.Mutex
	rng     *rand.Rand
	running bool
}

// NewScheduler creates a scheduler. r may be nil for a randomly seeded source.
func NewScheduler(r *rand.Rand) *Scheduler {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cronlib.New(
			cronlib.WithLogger(logger),
			cronlib.WithChain(cronlib.Recover(logger), cronlib.SkipIfStillRunning(logger)),
		),
		rng: r,
	}
}

// Start begins firing scheduled tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	L_debug("activity: scheduler started")
}

// Stop stops the scheduler and waits, bounded by ctx, for running actions to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		L_debug("activity: scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of scheduled tasks.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Schedule attaches a recurring task to target. onDead, which may be nil, runs
// once if the task cancels itself because an action failed.
func (s *Scheduler) Schedule(sessionID string, target Target, onDead func()) *Task {
	s.mu.Lock()
	interval := DrawInterval(s.rng)
	seed1, seed2 := s.rng.Uint64(), s.rng.Uint64()
	s.mu.Unlock()

	t := &Task{
		sched:     s,
		sessionID: sessionID,
		target:    target,
		interval:  interval,
		onDead:    onDead,
		rng:       rand.New(rand.NewPCG(seed1, seed2)),
	}
	t.entry = s.cron.Schedule(cronlib.Every(interval), t)
	L_debug("activity: scheduled", "session", sessionID, "interval", interval)
	return t
}

// Task is the recurring activity of one session.
type Task struct {
	sched     *Scheduler
	sessionID string
	target    Target
	interval  time.Duration
	onDead    func()
	entry     cronlib.EntryID

	mu        sync.Mutex
	rng       *rand.Rand
	cancelled bool
	fires     int
}

// Interval returns the interval drawn for this task.
func (t *Task) Interval() time.Duration {
	return t.interval
}

// Fires returns how many actions completed.
func (t *Task) Fires() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fires
}

// Cancelled reports whether the task was cancelled.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Cancel removes the task from the scheduler. Safe to call more than once.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) cancel() bool {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	t.mu.Unlock()
	t.sched.cron.Remove(t.entry)
	return true
}

// Run performs one action. It implements cron.Job and never panics or returns an
// error: a failed action cancels the task and reports through onDead.
func (t *Task) Run() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	action := PickAction(t.rng)
	x := float64(100 + t.rng.IntN(areaWidth-200))
	y := float64(100 + t.rng.IntN(areaHeight-200))
	delta := float64(50 + t.rng.IntN(201))
	if t.rng.IntN(2) == 0 {
		delta = -delta
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ActionTimeout)
	defer cancel()

	var err error
	switch action {
	case ActionMouseMove:
		err = t.target.MouseMove(ctx, x, y)
	case ActionScroll:
		err = t.target.Scroll(ctx, 0, delta)
	}

	if err != nil {
		if t.cancel() {
			L_debug("activity: action failed, task cancelled", "session", t.sessionID, "action", action, "error", err)
			if t.onDead != nil {
				t.onDead()
			}
		}
		return
	}

	t.mu.Lock()
	t.fires++
	t.mu.Unlock()
	L_trace("activity: fired", "session", t.sessionID, "action", action)
}

// cronLogger routes robfig/cron's logging into ours.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	L_trace("activity: cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	L_error("activity: cron "+msg, append(keysAndValues, "error", err)...)
}
