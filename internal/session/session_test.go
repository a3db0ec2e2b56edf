package session

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/attendance"
	"checkin/internal/capture"
	"checkin/internal/credentials"
	"checkin/internal/model"
	"checkin/internal/objectstore"
	"checkin/internal/queue"
	"checkin/internal/remote"
	"checkin/internal/speech"
)

type fixture struct {
	users   *credentials.Store
	records *remote.Memory
	objects *objectstore.Memory
	deps    Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users, err := credentials.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = users.Close() })

	f := &fixture{
		users:   users,
		records: remote.NewMemory(),
		objects: objectstore.NewMemory(),
	}
	f.deps = Deps{
		Users:    users,
		Records:  f.records,
		Pipeline: capture.NewPipeline(f.objects, "attendance", 80),
		Ledger:   attendance.Options{Location: time.UTC},
	}
	ctx := context.Background()
	require.NoError(t, users.Add(ctx, model.User{Username: "alice", Password: "pw1", Role: model.RoleUser}))
	require.NoError(t, users.Add(ctx, model.User{Username: "root", Password: "toor", Role: model.RoleAdmin}))
	return f
}

func login(t *testing.T, s *Session, user, pass string) model.Session {
	t.Helper()
	state, err := s.Login(context.Background(), user, pass)
	require.NoError(t, err)
	return state
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	s := New(f.deps)
	ctx := context.Background()

	u, err := s.Register(ctx, "  bob ", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.False(t, s.Current().Authenticated(), "register does not log in")

	tests := []struct {
		name     string
		user     string
		pass     string
		role     model.Role
		expected error
	}{
		{"empty username", "", "x", model.RoleUser, ErrEmptyField},
		{"blank password", "carol", "   ", model.RoleUser, ErrEmptyField},
		{"bad role", "carol", "x", "owner", ErrInvalidRole},
		{"duplicate", "alice", "pw2", model.RoleAdmin, ErrDuplicateUsername},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(ctx, tc.user, tc.pass, tc.role)
			assert.ErrorIs(t, err, tc.expected)
		})
	}

	alice, ok := f.users.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "pw1", alice.Password)
	assert.Equal(t, model.RoleUser, alice.Role)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	s := New(f.deps)
	ctx := context.Background()

	_, err := s.Login(ctx, "alice", "PW1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login(ctx, "nobody", "pw1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, s.Current().Authenticated())
	assert.Nil(t, s.Ledger())

	state := login(t, s, "alice", "pw1")
	assert.Equal(t, "alice", state.Username)
	assert.Equal(t, model.RoleUser, state.Role)
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, state, s.Current())
	assert.Equal(t, 1, f.records.Watchers())
}

func TestLoginSeesExistingRecordsBeforeCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := attendance.NewLedger(f.records, f.deps.Ledger).Today()
	_, err := f.records.Append(ctx, model.AttendanceRecord{User: "alice", Date: today, Time: "07:00:00"})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		s := New(f.deps)
		_, err := s.Login(ctx, "alice", "pw1")
		require.NoError(t, err)
		assert.Equal(t, 1, s.Ledger().Pushes(), "login returns after the first snapshot")

		camera, err := s.Camera()
		require.NoError(t, err)
		require.NoError(t, camera.Push(image.NewRGBA(image.Rect(0, 0, 4, 4))))
		_, err = s.CheckIn(ctx)
		require.ErrorIs(t, err, attendance.ErrAlreadyRecordedToday)
		s.Logout()
	}
	assert.Equal(t, 1, f.records.Appends())
	assert.Equal(t, 0, f.objects.Len())
}

type brokenWatch struct{ *remote.Memory }

func (brokenWatch) Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error) {
	// never delivers a snapshot
	return make(chan []model.AttendanceRecord), nil
}

func TestLoginFailsWithoutSnapshot(t *testing.T) {
	f := newFixture(t)
	f.deps.Records = brokenWatch{f.records}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := New(f.deps)
	_, err := s.Login(ctx, "alice", "pw1")
	assert.ErrorIs(t, err, ErrRecordsUnavailable)
	assert.False(t, s.Current().Authenticated())
}

func TestLogoutReleasesResources(t *testing.T) {
	f := newFixture(t)
	s := New(f.deps)
	login(t, s, "alice", "pw1")
	camera, err := s.Camera()
	require.NoError(t, err)
	require.NoError(t, camera.Push(image.NewRGBA(image.Rect(0, 0, 2, 2))))

	s.Logout()
	assert.False(t, s.Current().Authenticated())
	assert.False(t, camera.Active())
	assert.Eventually(t, func() bool { return f.records.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = s.Camera()
	assert.ErrorIs(t, err, attendance.ErrNotAuthenticated)
	// logging out twice is harmless
	s.Logout()
}

func TestCheckInFlow(t *testing.T) {
	f := newFixture(t)
	s := New(f.deps)
	ctx := context.Background()

	_, err := s.CheckIn(ctx)
	assert.ErrorIs(t, err, attendance.ErrNotAuthenticated)
	assert.Equal(t, 0, f.records.Appends())

	login(t, s, "alice", "pw1")
	_, err = s.CheckIn(ctx)
	assert.ErrorIs(t, err, attendance.ErrCaptureFailed)
	assert.Equal(t, 0, f.records.Appends())
	assert.Equal(t, 0, f.objects.Len())

	camera, err := s.Camera()
	require.NoError(t, err)
	require.NoError(t, camera.Push(image.NewRGBA(image.Rect(0, 0, 16, 9))))

	rec, err := s.CheckIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.User)
	assert.NotEmpty(t, rec.ImageRef)

	_, err = s.CheckIn(ctx)
	assert.ErrorIs(t, err, attendance.ErrAlreadyRecordedToday)
	assert.Equal(t, 1, f.records.Appends())

	require.Eventually(t, func() bool {
		mine, err := s.MyRecords()
		return err == nil && len(mine) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := New(f.deps)
	login(t, user, "alice", "pw1")
	camera, err := user.Camera()
	require.NoError(t, err)
	require.NoError(t, camera.Push(image.NewRGBA(image.Rect(0, 0, 4, 4))))
	_, err = user.CheckIn(ctx)
	require.NoError(t, err)

	_, err = user.AllRecords()
	assert.ErrorIs(t, err, attendance.ErrForbidden)
	_, err = user.DeleteRecord(0)
	assert.ErrorIs(t, err, attendance.ErrForbidden)

	admin := New(f.deps)
	login(t, admin, "root", "toor")
	require.Eventually(t, func() bool {
		all, err := admin.AllRecords()
		return err == nil && len(all) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = admin.DeleteRecord(3)
	assert.ErrorIs(t, err, attendance.ErrIndexOutOfRange)
	removed, err := admin.DeleteRecord(0)
	require.NoError(t, err)
	assert.Equal(t, "alice", removed.User)

	all, err := admin.AllRecords()
	require.NoError(t, err)
	assert.Empty(t, all)
	// the other session's view is untouched
	assert.Eventually(t, func() bool {
		mine, err := user.MyRecords()
		return err == nil && len(mine) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAuditEvents(t *testing.T) {
	f := newFixture(t)
	events := queue.NewInMemory(8)
	f.deps.Events = events
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := events.Consume(ctx)
	require.NoError(t, err)

	admin := New(f.deps)
	login(t, admin, "root", "toor")
	camera, err := admin.Camera()
	require.NoError(t, err)
	require.NoError(t, camera.Push(image.NewRGBA(image.Rect(0, 0, 4, 4))))
	rec, err := admin.CheckIn(ctx)
	require.NoError(t, err)

	next := func() queue.Message {
		select {
		case msg := <-ch:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("no audit event")
			return queue.Message{}
		}
	}
	msg := next()
	assert.Equal(t, queue.CheckInRecorded, msg.Type)
	assert.Equal(t, rec.ID, msg.Record.ID)

	require.Eventually(t, func() bool {
		all, err := admin.AllRecords()
		return err == nil && len(all) == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, err = admin.DeleteRecord(0)
	require.NoError(t, err)
	msg = next()
	assert.Equal(t, queue.LocalDelete, msg.Type)
	assert.Equal(t, "root", msg.Actor)
}

func TestRegistryExpiresSessions(t *testing.T) {
	f := newFixture(t)
	f.deps.SessionTTL = time.Hour
	r := NewRegistry(f.deps)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	s1, st1, err := r.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	camera, err := s1.Camera()
	require.NoError(t, err)
	_, st2, err := r.Login(ctx, "root", "toor")
	require.NoError(t, err)
	r.SetExpiry(st2.ID, now.Add(3*time.Hour))
	assert.Equal(t, 2, f.records.Watchers())

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 0, r.Sweep())
	_, ok := r.Get(st1.ID)
	assert.True(t, ok)

	now = now.Add(time.Hour)
	_, ok = r.Get(st1.ID)
	assert.False(t, ok, "expired sessions no longer resolve")
	assert.False(t, camera.Active())
	assert.False(t, s1.Current().Authenticated())

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())
	assert.Eventually(t, func() bool { return f.records.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryJanitor(t *testing.T) {
	f := newFixture(t)
	f.deps.SessionTTL = time.Millisecond
	r := NewRegistry(f.deps)
	_, _, err := r.Login(context.Background(), "alice", "pw1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.RunJanitor(ctx, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return f.records.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type scriptedTranscriber struct {
	results []string
	err     error
	calls   int
}

func (s *scriptedTranscriber) Transcribe(context.Context, speech.Clip) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	out := s.results[0]
	s.results = s.results[1:]
	return out, nil
}

func TestVoiceLoginAndRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := New(f.deps)

	_, err := s.VoiceRegister(ctx, &scriptedTranscriber{results: []string{"dora", "hunter2"}}, speech.Clip{}, speech.Clip{}, model.RoleUser)
	require.NoError(t, err)

	state, err := s.VoiceLogin(ctx, &scriptedTranscriber{results: []string{"dora", "hunter2"}}, speech.Clip{}, speech.Clip{})
	require.NoError(t, err)
	assert.Equal(t, "dora", state.Username)
	s.Logout()

	failing := &scriptedTranscriber{err: errors.Join(speech.ErrRecognition, errors.New("no speech"))}
	_, err = s.VoiceLogin(ctx, failing, speech.Clip{}, speech.Clip{})
	assert.ErrorIs(t, err, speech.ErrRecognition)
	assert.Equal(t, 1, failing.calls, "password is not transcribed after a failed username")
	assert.False(t, s.Current().Authenticated())
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry(f.deps)
	ctx := context.Background()

	_, err := r.Register(ctx, "erin", "pw", model.RoleUser)
	require.NoError(t, err)

	_, _, err = r.Login(ctx, "erin", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, r.Len())

	s1, st1, err := r.Login(ctx, "erin", "pw")
	require.NoError(t, err)
	_, st2, err := r.Login(ctx, "alice", "pw1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(st1.ID)
	require.True(t, ok)
	assert.Same(t, s1, got)

	r.Logout(st1.ID)
	_, ok = r.Get(st1.ID)
	assert.False(t, ok)
	assert.False(t, s1.Current().Authenticated())

	r.Close()
	_, ok = r.Get(st2.ID)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return f.records.Watchers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
