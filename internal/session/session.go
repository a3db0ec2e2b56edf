// Package session tracks the authenticated user of one client and gates the
// ledger operations that client may run.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"checkin/internal/attendance"
	"checkin/internal/capture"
	"checkin/internal/credentials"
	"checkin/internal/logger"
	"checkin/internal/metrics"
	"checkin/internal/model"
	"checkin/internal/queue"
	"checkin/internal/speech"
)

const (
	publishTimeout  = 2 * time.Second
	snapshotTimeout = 10 * time.Second
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyField         = errors.New("username and password are required")
	ErrDuplicateUsername  = credentials.ErrDuplicateUsername
	ErrInvalidRole        = errors.New("role must be admin or user")
	ErrRecordsUnavailable = errors.New("attendance records unavailable")
)

// Credentials is the user lookup the session authenticates against.
type Credentials interface {
	Lookup(username string) (model.User, bool)
	Add(ctx context.Context, u model.User) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Users       Credentials
	Records     attendance.RecordStore
	Pipeline    *capture.Pipeline // nil disables photos
	Ledger      attendance.Options
	FrameMaxAge time.Duration
	Events      queue.Publisher // optional audit trail
	SessionTTL  time.Duration   // registry expiry; zero never expires
}

// Session is the state of one client between login and logout. It owns
// the client's ledger, its camera handle and its subscription.
type Session struct {
	deps Deps

	mu      sync.Mutex
	state   model.Session
	service *attendance.Service
	camera  *capture.LiveSource
	cancel  context.CancelFunc
}

// New returns a logged-out session.
func New(deps Deps) *Session {
	return &Session{deps: deps}
}

// Register validates and stores a new user. It does not log the user in.
func (s *Session) Register(ctx context.Context, username, password string, role model.Role) (model.User, error) {
	u, err := s.register(ctx, username, password, role)
	switch {
	case err == nil:
		metrics.Registrations.WithLabelValues(metrics.OK).Inc()
		logger.Infof("registered user %s (%s)", u.Username, u.Role)
	case errors.Is(err, ErrEmptyField), errors.Is(err, ErrDuplicateUsername), errors.Is(err, ErrInvalidRole):
		metrics.Registrations.WithLabelValues(metrics.Rejected).Inc()
	default:
		metrics.Registrations.WithLabelValues(metrics.Failed).Inc()
		logger.Errorf("register %q: %v", username, err)
	}
	return u, err
}

func (s *Session) register(ctx context.Context, username, password string, role model.Role) (model.User, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return model.User{}, ErrEmptyField
	}
	if role == "" {
		role = model.RoleUser
	}
	if !role.Valid() {
		return model.User{}, ErrInvalidRole
	}
	u := model.User{Username: username, Password: password, Role: role}
	if err := s.deps.Users.Add(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Login authenticates by exact match, then opens the camera handle and
// starts the ledger subscription. Logging in again replaces the previous
// login.
func (s *Session) Login(ctx context.Context, username, password string) (model.Session, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	u, ok := s.deps.Users.Lookup(username)
	if !ok || u.Password != password {
		metrics.Logins.WithLabelValues(metrics.Rejected).Inc()
		return model.Session{}, ErrInvalidCredentials
	}
	s.Logout()

	ledger := attendance.NewLedger(s.deps.Records, s.deps.Ledger)
	subCtx, cancel := context.WithCancel(context.Background())
	if err := ledger.Subscribe(subCtx, nil); err != nil {
		cancel()
		metrics.Logins.WithLabelValues(metrics.Failed).Inc()
		return model.Session{}, fmt.Errorf("%w: %w", ErrRecordsUnavailable, err)
	}
	// the daily check must see the collection before the first check-in
	waitCtx, done := context.WithTimeout(ctx, snapshotTimeout)
	err := ledger.WaitForPush(waitCtx, 0)
	done()
	if err != nil {
		cancel()
		metrics.Logins.WithLabelValues(metrics.Failed).Inc()
		return model.Session{}, fmt.Errorf("%w: initial snapshot: %w", ErrRecordsUnavailable, err)
	}

	state := model.Session{
		ID:        uuid.NewString(),
		Username:  u.Username,
		Role:      u.Role,
		StartedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.state = state
	s.service = attendance.NewService(ledger, s.deps.Pipeline)
	s.camera = capture.NewLiveSource(s.deps.FrameMaxAge)
	s.cancel = cancel
	s.mu.Unlock()

	metrics.Logins.WithLabelValues(metrics.OK).Inc()
	logger.Infof("user %s logged in (%s)", state.Username, state.Role)
	return state, nil
}

// VoiceLogin transcribes the username clip, then the password clip, then
// logs in.
func (s *Session) VoiceLogin(ctx context.Context, t speech.Transcriber, username, password speech.Clip) (model.Session, error) {
	user, pass, err := speech.Credentials(ctx, t, username, password)
	if err != nil {
		return model.Session{}, err
	}
	return s.Login(ctx, user, pass)
}

// VoiceRegister is Register with spoken username and password.
func (s *Session) VoiceRegister(ctx context.Context, t speech.Transcriber, username, password speech.Clip, role model.Role) (model.User, error) {
	user, pass, err := speech.Credentials(ctx, t, username, password)
	if err != nil {
		return model.User{}, err
	}
	return s.Register(ctx, user, pass, role)
}

// Logout clears the session, stops the subscription and releases the camera.
// It is safe to call when not logged in.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.camera != nil {
		s.camera.Stop()
	}
	if s.state.Authenticated() {
		logger.Infof("user %s logged out", s.state.Username)
	}
	s.state = model.Session{}
	s.service = nil
	s.camera = nil
	s.cancel = nil
}

// Current returns the authenticated identity, zero when logged out.
func (s *Session) Current() model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Camera returns the session's camera handle.
func (s *Session) Camera() (*capture.LiveSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Authenticated() {
		return nil, attendance.ErrNotAuthenticated
	}
	return s.camera, nil
}

// Ledger returns the session's ledger, nil when logged out.
func (s *Session) Ledger() *attendance.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.service == nil {
		return nil
	}
	return s.service.Ledger()
}

func (s *Session) snapshot() (model.Session, *attendance.Service, *capture.LiveSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.service, s.camera
}

// CheckIn records today's attendance for the logged-in user.
func (s *Session) CheckIn(ctx context.Context) (model.AttendanceRecord, error) {
	state, svc, camera := s.snapshot()
	if svc == nil {
		metrics.CheckIns.WithLabelValues(metrics.Rejected).Inc()
		return model.AttendanceRecord{}, attendance.ErrNotAuthenticated
	}
	var src capture.Source
	if camera != nil {
		src = camera
	}
	rec, err := svc.TryRecordAttendance(ctx, state, src)
	if err == nil {
		s.publish(queue.CheckInRecorded, state.Username, rec)
	}
	return rec, err
}

// MyRecords returns the logged-in user's records from the ledger.
func (s *Session) MyRecords() ([]model.AttendanceRecord, error) {
	state, svc, _ := s.snapshot()
	if svc == nil {
		return nil, attendance.ErrNotAuthenticated
	}
	return svc.Ledger().ForUser(state.Username), nil
}

// AllRecords returns every cached record. Admin only.
func (s *Session) AllRecords() ([]model.AttendanceRecord, error) {
	state, svc, _ := s.snapshot()
	if svc == nil {
		return nil, attendance.ErrNotAuthenticated
	}
	if !state.IsAdmin() {
		return nil, attendance.ErrForbidden
	}
	return svc.Ledger().Records(), nil
}

// DeleteRecord removes the record at index from this session's ledger.
func (s *Session) DeleteRecord(index int) (model.AttendanceRecord, error) {
	state, svc, _ := s.snapshot()
	if svc == nil {
		return model.AttendanceRecord{}, attendance.ErrNotAuthenticated
	}
	removed, err := svc.Ledger().DeleteRecord(state, index)
	if err == nil {
		s.publish(queue.LocalDelete, state.Username, removed)
	}
	return removed, err
}

// publish sends an audit event. Failures are logged and never affect the
// operation that produced the event.
func (s *Session) publish(kind, actor string, rec model.AttendanceRecord) {
	if s.deps.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	msg := queue.Message{Type: kind, Actor: actor, At: time.Now().UTC(), Record: rec}
	if err := s.deps.Events.Publish(ctx, msg); err != nil {
		logger.Warningf("audit event %s for %s dropped: %v", kind, actor, err)
	}
}

// String is used in log lines.
func (s *Session) String() string {
	st := s.Current()
	if !st.Authenticated() {
		return "session(anonymous)"
	}
	return fmt.Sprintf("session(%s %s)", st.Username, st.ID)
}
