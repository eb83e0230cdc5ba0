package sessions

import (
	"sync"
	"time"

	"github.com/roelfdiedericks/wabridge/internal/activity"
	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	"github.com/roelfdiedericks/wabridge/internal/journal"
)

// Session is one live browser identity. It exclusively owns its handles and
// activity task until the registry tears it down.
type Session struct {
	ID          string
	CreatedAt   time.Time
	Fingerprint fingerprint.Descriptor

	cookie  string
	handles browser.Handles

	mu           sync.Mutex
	lastActivity time.Time
	task         *activity.Task
}

// Info is the listing view of a session.
type Info struct {
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Detail is the single-session view.
type Detail struct {
	Info
	ProfileDir       string                 `json:"profileDir"`
	Fingerprint      fingerprint.Descriptor `json:"fingerprint"`
	ActivityInterval string                 `json:"activityInterval,omitempty"`
	ActivityAlive    bool                   `json:"activityAlive"`
}

// Page returns the session's live page.
func (s *Session) Page() browser.Page {
	return s.handles.Page()
}

// LastActivity returns the time of the last send attempt, or creation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Info() Info {
	return Info{SessionID: s.ID, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity()}
}

func (s *Session) Detail() Detail {
	d := Detail{
		Info:        s.Info(),
		ProfileDir:  s.handles.ProfileDir(),
		Fingerprint: s.Fingerprint,
	}
	s.mu.Lock()
	if s.task != nil {
		d.ActivityInterval = s.task.Interval().String()
		d.ActivityAlive = !s.task.Cancelled()
	}
	s.mu.Unlock()
	return d
}

func (s *Session) touch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
	return s.lastActivity
}

// detachTask clears the activity handle once the task has cancelled itself.
func (s *Session) detachTask() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil && s.task.Cancelled() {
		s.task = nil
	}
}

// takeTask removes and returns the activity handle.
func (s *Session) takeTask() *activity.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task
	s.task = nil
	return t
}

func (s *Session) record() journal.Record {
	fp := s.Fingerprint
	return journal.Record{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		ProfilePath:  s.handles.ProfileDir(),
		CookieString: s.cookie,
		Fingerprint:  &fp,
	}
}
