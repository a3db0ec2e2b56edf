package session

import (
	"context"
	"sync"
	"time"

	"checkin/internal/logger"
	"checkin/internal/metrics"
	"checkin/internal/model"
)

type entry struct {
	session *Session
	expires time.Time // zero never expires
}

// Registry maps session ids to live sessions for the HTTP layer. Sessions
// past their expiry are logged out by Get, Sweep and RunJanitor.
type Registry struct {
	deps Deps
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]entry
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, now: time.Now, sessions: make(map[string]entry)}
}

// Register stores a new user without creating a session.
func (r *Registry) Register(ctx context.Context, username, password string, role model.Role) (model.User, error) {
	return New(r.deps).Register(ctx, username, password, role)
}

// Login creates and tracks a new session.
func (r *Registry) Login(ctx context.Context, username, password string) (*Session, model.Session, error) {
	s := New(r.deps)
	state, err := s.Login(ctx, username, password)
	if err != nil {
		return nil, model.Session{}, err
	}
	r.track(s, state)
	return s, state, nil
}

// Adopt tracks a session that was logged in elsewhere, e.g. by voice.
func (r *Registry) Adopt(s *Session) {
	if state := s.Current(); state.Authenticated() {
		r.track(s, state)
	}
}

func (r *Registry) track(s *Session, state model.Session) {
	e := entry{session: s}
	if r.deps.SessionTTL > 0 {
		e.expires = r.now().Add(r.deps.SessionTTL)
	}
	r.mu.Lock()
	r.sessions[state.ID] = e
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
}

// SetExpiry aligns the session's expiry with the token issued for it.
func (r *Registry) SetExpiry(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.expires = at
		r.sessions[id] = e
	}
}

// NewSession returns an untracked, logged-out session.
func (r *Registry) NewSession() *Session {
	return New(r.deps)
}

// Get returns the live session with id. An expired session is logged out
// and reported as missing.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if r.expired(e) {
		r.Logout(id)
		return nil, false
	}
	return e.session, true
}

func (r *Registry) expired(e entry) bool {
	return !e.expires.IsZero() && !r.now().Before(e.expires)
}

// Logout ends and forgets the session with id.
func (r *Registry) Logout(id string) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	if ok {
		e.session.Logout()
	}
}

// Sweep logs out every expired session and returns how many it removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var stale []*Session
	for id, e := range r.sessions {
		if r.expired(e) {
			stale = append(stale, e.session)
			delete(r.sessions, id)
		}
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range stale {
		s.Logout()
	}
	if len(stale) > 0 {
		logger.Infof("expired %d sessions", len(stale))
	}
	return len(stale)
}

// RunJanitor sweeps every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close logs every session out.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]entry)
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()
	for _, e := range sessions {
		e.session.Logout()
	}
}
