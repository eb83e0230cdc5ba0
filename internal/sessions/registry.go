// Package sessions is the in-memory source of truth for live browser sessions.
// The Registry creates sessions through a Factory, keeps them alive with the
// activity simulator, routes message sends to the automation engine and, in
// recovery mode, mirrors every session into the journal.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roelfdiedericks/wabridge/internal/activity"
	"github.com/roelfdiedericks/wabridge/internal/automation"
	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/cookies"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	"github.com/roelfdiedericks/wabridge/internal/journal"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

// Factory creates the browser side of a session. On failure it may return
// partial handles, which the registry releases.
type Factory interface {
	Create(ctx context.Context, id string, fp fingerprint.Descriptor, cookie string) (browser.Handles, error)
}

// Sender runs the message flow on a page; *automation.Engine implements it.
type Sender interface {
	Send(ctx context.Context, page browser.Page, req automation.Request) error
}

// Scheduler attaches keep-alive activity to a page; *activity.Scheduler implements it.
type Scheduler interface {
	Schedule(sessionID string, target activity.Target, onDead func()) *activity.Task
}

// Options configures a Registry. Journal nil means recovery mode is off and no
// journal I/O happens.
type Options struct {
	Factory  Factory
	Engine   Sender
	Activity Scheduler
	Journal  journal.Store

	MaxSessions        int           // 0 = unlimited
	RemoveProfiles     bool          // delete profile directories on destroy
	DestroyTimeout     time.Duration // bound on releasing one session's handles
	RestoreParallelism int

	// Registerer receives the registry's collectors; nil skips registration.
	Registerer prometheus.Registerer
}

// CreateParams describes a session to create. ID and Fingerprint are set when
// recreating from the journal; otherwise they are generated.
type CreateParams struct {
	Cookie       string
	ID           string
	Fingerprint  *fingerprint.Descriptor
	CreatedAt    time.Time
	LastActivity time.Time
}

// DestroyResult separates removal from the registry, which always happens, from
// the best-effort release of browser resources.
type DestroyResult struct {
	Removed       bool    `json:"removed"`
	ReleaseErrors []error `json:"-"`
}

// RestoreReport summarizes RestoreAll.
type RestoreReport struct {
	Restored []string          `json:"restored"`
	Dropped  map[string]string `json:"dropped"` // id -> reason
}

// Registry owns every live session.
type Registry struct {
	opts    Options
	metrics *metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]struct{}
	closed   bool

	// journalMu orders journal writes against removal: persist only writes
	// sessions that are still registered, and forget runs after it.
	journalMu sync.Mutex
}

// New creates a registry.
func New(opts Options) (*Registry, error) {
	if opts.Factory == nil || opts.Engine == nil {
		return nil, errors.New("sessions: factory and engine are required")
	}
	if opts.DestroyTimeout <= 0 {
		opts.DestroyTimeout = 15 * time.Second
	}
	if opts.RestoreParallelism <= 0 {
		opts.RestoreParallelism = 4
	}
	r := &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
		pending:  make(map[string]struct{}),
	}
	r.metrics = newMetrics(func() float64 { return float64(r.Len()) })
	if opts.Registerer != nil {
		if err := r.metrics.register(opts.Registerer); err != nil {
			return nil, fmt.Errorf("sessions: register metrics: %w", err)
		}
	}
	return r, nil
}

// Recovery reports whether the registry mirrors sessions into a journal.
func (r *Registry) Recovery() bool {
	return r.opts.Journal != nil
}

// Create launches a new session and returns its id. A failed creation leaves
// nothing behind: partial handles, profile directory and reservation are all
// released before the error is returned.
func (r *Registry) Create(ctx context.Context, p CreateParams) (string, error) {
	if len(cookies.Parse(p.Cookie)) == 0 {
		return "", fmt.Errorf("%w: cookie string contains no cookies", ErrInvalidInput)
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := r.reserve(id); err != nil {
		return "", err
	}

	var fp fingerprint.Descriptor
	if p.Fingerprint != nil {
		fp = *p.Fingerprint
	} else {
		fp = fingerprint.Generate()
	}

	L_info("sessions: creating", "session", id, "platform", fp.Platform, "version", fp.BrowserVersion)
	start := time.Now()
	handles, err := r.opts.Factory.Create(ctx, id, fp, p.Cookie)
	if err != nil {
		r.rollback(id, handles)
		r.metrics.createFailed.Inc()
		L_warn("sessions: create failed", "session", id, "error", err)
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Fingerprint:  fp,
		cookie:       p.Cookie,
		handles:      handles,
		lastActivity: now,
	}
	if !p.CreatedAt.IsZero() {
		s.CreatedAt = p.CreatedAt
	}
	if !p.LastActivity.IsZero() {
		s.lastActivity = p.LastActivity
	}

	// the task is attached before publishing so a concurrent Destroy always sees it
	if r.opts.Activity != nil {
		task := r.opts.Activity.Schedule(id, handles.Page(), func() {
			L_info("sessions: activity stopped, page unreachable", "session", id)
			s.detachTask()
		})
		s.mu.Lock()
		s.task = task
		s.mu.Unlock()
	}

	r.mu.Lock()
	delete(r.pending, id)
	if r.closed {
		r.mu.Unlock()
		if t := s.takeTask(); t != nil {
			t.Cancel()
		}
		r.releaseHandles(id, handles, true)
		return "", ErrRegistryClosed
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.created.Inc()
	r.persist(ctx, s)
	L_elapsed(start, "sessions: created", "session", id)
	return id, nil
}

func (r *Registry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if _, ok := r.pending[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if r.opts.MaxSessions > 0 && len(r.sessions)+len(r.pending) >= r.opts.MaxSessions {
		return fmt.Errorf("%w: %d sessions", ErrCapacity, r.opts.MaxSessions)
	}
	r.pending[id] = struct{}{}
	return nil
}

// rollback undoes a failed creation. The profile is always removed: a session
// that never existed has nothing worth keeping.
func (r *Registry) rollback(id string, handles browser.Handles) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
	if handles != nil {
		r.releaseHandles(id, handles, true)
	}
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns a snapshot of the live session ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the live sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Destroy removes a session and releases its resources. Removal always succeeds
// for a present id; release failures are reported in the result, not as an error.
func (r *Registry) Destroy(ctx context.Context, id string) (DestroyResult, error) {
	s, ok := r.remove(id, nil)
	if !ok {
		return DestroyResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	errs := r.teardown(ctx, s)
	r.metrics.destroyed.Inc()
	L_info("sessions: destroyed", "session", id, "releaseErrors", len(errs))
	return DestroyResult{Removed: true, ReleaseErrors: errs}, nil
}

// remove deletes id from the map. When want is set, only that exact session is
// removed, so a crash handler cannot evict a newer session with a reused id.
func (r *Registry) remove(id string, want *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || (want != nil && s != want) {
		return nil, false
	}
	delete(r.sessions, id)
	return s, true
}

// teardown stops activity, releases the handles and drops the journal entry of a
// session that is no longer in the map.
func (r *Registry) teardown(ctx context.Context, s *Session) []error {
	if t := s.takeTask(); t != nil {
		t.Cancel()
	}
	errs := r.releaseHandles(s.ID, s.handles, r.opts.RemoveProfiles)
	r.forget(ctx, s.ID)
	return errs
}

// releaseHandles releases h bounded by DestroyTimeout. A release that overruns is
// left to finish in the background and reported as an error.
func (r *Registry) releaseHandles(id string, h browser.Handles, removeProfile bool) []error {
	done := make(chan []error, 1)
	go func() {
		done <- h.Release(removeProfile)
	}()

	timer := time.NewTimer(r.opts.DestroyTimeout)
	defer timer.Stop()

	var errs []error
	select {
	case errs = <-done:
	case <-timer.C:
		errs = []error{fmt.Errorf("sessions: release of %s timed out after %s", id, r.opts.DestroyTimeout)}
	}
	for _, err := range errs {
		L_warn("sessions: release step failed", "session", id, "error", err)
	}
	r.metrics.releaseErrors.Add(float64(len(errs)))
	return errs
}

// SendMessage delivers req through the session's page. A closed-browser failure
// evicts the session and returns ErrBrowserCrash; an automation failure comes
// back as *automation.StepError.
func (r *Registry) SendMessage(ctx context.Context, id string, req automation.Request) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRegistryClosed
	}

	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.touch()
	r.persist(ctx, s)

	start := time.Now()
	page := s.Page()
	if page == nil {
		err = browser.Classify(errors.New("page has been closed"))
	} else {
		err = r.opts.Engine.Send(ctx, page, req)
	}
	r.observeSend(start, err)

	if err == nil {
		L_info("sessions: message sent", "session", id, "took", time.Since(start).Round(time.Millisecond))
		return nil
	}
	if browser.IsClosed(err) {
		if _, ok := r.remove(id, s); ok {
			r.teardown(ctx, s)
			r.metrics.crashed.Inc()
			L_warn("sessions: browser crashed, session evicted", "session", id, "error", err)
		}
		return fmt.Errorf("%w: session %s: %w", ErrBrowserCrash, id, err)
	}
	return err
}

func (r *Registry) observeSend(start time.Time, err error) {
	result := "success"
	var se *automation.StepError
	switch {
	case err == nil:
	case browser.IsClosed(err):
		result = "crash"
	case errors.As(err, &se):
		result = "step_failure"
		r.metrics.stepFailures.WithLabelValues(se.Name).Inc()
	default:
		result = "error"
	}
	r.metrics.sendDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// DestroyAll destroys every session in parallel and, in recovery mode, clears the
// journal. It returns how many sessions were removed.
func (r *Registry) DestroyAll(ctx context.Context) int {
	ids := r.IDs()
	var removed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := r.Destroy(gctx, id); err == nil {
				removed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if j := r.opts.Journal; j != nil {
		if err := j.Clear(ctx); err != nil {
			L_warn("sessions: journal clear failed", "error", err)
		}
	}
	L_info("sessions: destroyed all", "count", removed.Load())
	return int(removed.Load())
}

// RestoreAll recreates the sessions recorded in the journal with their original
// id and fingerprint. Unusable entries and failed recreations are dropped from
// the journal and not retried.
func (r *Registry) RestoreAll(ctx context.Context) RestoreReport {
	report := RestoreReport{Dropped: make(map[string]string)}
	j := r.opts.Journal
	if j == nil {
		return report
	}

	records, err := j.Load(ctx)
	if err != nil {
		L_error("sessions: journal load failed, nothing restored", "error", err)
		return report
	}
	L_info("sessions: restoring", "entries", len(records))

	var mu sync.Mutex
	drop := func(id, reason string) {
		mu.Lock()
		report.Dropped[id] = reason
		mu.Unlock()
		r.metrics.restored.WithLabelValues("dropped").Inc()
		r.forget(ctx, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.RestoreParallelism)
	for key, rec := range records {
		if rec.SessionID == "" {
			rec.SessionID = key
		}
		if err := rec.Recoverable(); err != nil {
			L_warn("sessions: dropping journal entry", "session", key, "error", err)
			drop(key, err.Error())
			continue
		}
		g.Go(func() error {
			_, err := r.Create(gctx, CreateParams{
				Cookie:       rec.CookieString,
				ID:           rec.SessionID,
				Fingerprint:  rec.Fingerprint,
				CreatedAt:    rec.CreatedAt,
				LastActivity: rec.LastActivity,
			})
			if err != nil {
				L_warn("sessions: restore failed", "session", rec.SessionID, "error", err)
				drop(rec.SessionID, err.Error())
				return nil
			}
			mu.Lock()
			report.Restored = append(report.Restored, rec.SessionID)
			mu.Unlock()
			r.metrics.restored.WithLabelValues("restored").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Restored)
	L_info("sessions: restore finished", "restored", len(report.Restored), "dropped", len(report.Dropped))
	return report
}

// Close stops accepting creates and sends. Destroy and DestroyAll keep working so
// shutdown can still tear sessions down.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *Registry) persist(ctx context.Context, s *Session) {
	j := r.opts.Journal
	if j == nil {
		return
	}
	r.journalMu.Lock()
	defer r.journalMu.Unlock()

	r.mu.RLock()
	live := r.sessions[s.ID] == s
	r.mu.RUnlock()
	if !live {
		return
	}
	if err := j.Put(ctx, s.record()); err != nil {
		L_warn("sessions: journal write failed", "session", s.ID, "error", err)
	}
}

func (r *Registry) forget(ctx context.Context, id string) {
	j := r.opts.Journal
	if j == nil {
		return
	}
	r.journalMu.Lock()
	defer r.journalMu.Unlock()
	// teardown must not be skipped because the caller's context ended
	if err := j.Delete(context.WithoutCancel(ctx), id); err != nil {
		L_warn("sessions: journal delete failed", "session", id, "error", err)
	}
}
