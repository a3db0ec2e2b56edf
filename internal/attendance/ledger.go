package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkin/internal/logger"
	"checkin/internal/metrics"
	"checkin/internal/model"
)

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAlreadyRecordedToday = errors.New("attendance already recorded today")
	ErrCaptureFailed        = errors.New("capture failed")
	ErrForbidden            = errors.New("admin role required")
	ErrIndexOutOfRange      = errors.New("record index out of range")
)

// RecordStore is the remote append-only collection.
type RecordStore interface {
	Append(ctx context.Context, rec model.AttendanceRecord) (string, error)
	Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error)
}

// Options controls how dates and times are stamped on new records.
type Options struct {
	Location   *time.Location
	DateLayout string
	TimeLayout string
	Now        func() time.Time
}

type slot struct {
	user string
	date string
}

// Ledger is one client's cached projection of the remote collection.
//
// The one-record-per-user-per-day rule is checked against the last snapshot
// plus this ledger's own in-flight and unacknowledged appends. Other clients
// appending for the same user are not seen until their record arrives in a
// snapshot, so the rule is best-effort and not a distributed lock.
type Ledger struct {
	store      RecordStore
	loc        *time.Location
	dateLayout string
	timeLayout string
	now        func() time.Time

	mu        sync.Mutex
	records   []model.AttendanceRecord
	pending   map[slot]struct{}
	submitted map[string]slot
	pushes    int
	notify    chan struct{}
}

// NewLedger creates an empty ledger. It holds nothing until Subscribe
// delivers the first snapshot.
func NewLedger(store RecordStore, opts Options) *Ledger {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DateLayout == "" {
		opts.DateLayout = "2/1/2006"
	}
	if opts.TimeLayout == "" {
		opts.TimeLayout = "15:04:05"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store:      store,
		loc:        opts.Location,
		dateLayout: opts.DateLayout,
		timeLayout: opts.TimeLayout,
		now:        opts.Now,
		pending:    make(map[slot]struct{}),
		submitted:  make(map[string]slot),
		notify:     make(chan struct{}),
	}
}

// Stamp formats t as the ledger's (date, time) pair.
func (l *Ledger) Stamp(t time.Time) (string, string) {
	t = t.In(l.loc)
	return t.Format(l.dateLayout), t.Format(l.timeLayout)
}

// Today returns the current calendar day as stamped on records.
func (l *Ledger) Today() string {
	d, _ := l.Stamp(l.now())
	return d
}

// Reservation is a (user, day) slot in the Pending state.
type Reservation struct {
	ledger *Ledger
	slot   slot
	at     time.Time
	clock  string
	done   bool
}

// At is when the slot was reserved.
func (r *Reservation) At() time.Time { return r.at }

// Reserve moves today's slot for user from Empty to Pending.
func (l *Ledger) Reserve(user string) (*Reservation, error) {
	if user == "" {
		return nil, ErrNotAuthenticated
	}
	at := l.now()
	date, clock := l.Stamp(at)
	s := slot{user: user, date: date}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.occupiedLocked(s) {
		return nil, ErrAlreadyRecordedToday
	}
	l.pending[s] = struct{}{}
	return &Reservation{ledger: l, slot: s, at: at, clock: clock}, nil
}

func (l *Ledger) occupiedLocked(s slot) bool {
	if _, ok := l.pending[s]; ok {
		return true
	}
	for _, sub := range l.submitted {
		if sub == s {
			return true
		}
	}
	for _, r := range l.records {
		if r.User == s.user && r.Date == s.date {
			return true
		}
	}
	return false
}

// Commit appends the record. On failure the slot returns to Empty so the
// user can try again.
func (r *Reservation) Commit(ctx context.Context, imageRef string) (model.AttendanceRecord, error) {
	if r.done {
		return model.AttendanceRecord{}, fmt.Errorf("reservation for %s on %s already closed", r.slot.user, r.slot.date)
	}
	rec := model.AttendanceRecord{
		User:     r.slot.user,
		Date:     r.slot.date,
		Time:     r.clock,
		ImageRef: imageRef,
	}
	id, err := r.ledger.store.Append(ctx, rec)

	l := r.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, r.slot)
	r.done = true
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.ID = id
	if !l.containsLocked(id) {
		l.submitted[id] = r.slot
	}
	return rec, nil
}

// Release abandons a reservation that was not committed.
func (r *Reservation) Release() {
	if r == nil || r.done {
		return
	}
	l := r.ledger
	l.mu.Lock()
	delete(l.pending, r.slot)
	r.done = true
	l.mu.Unlock()
}

// TryRecordAttendance reserves today's slot for user and appends a record
// with imageRef in one step.
func (l *Ledger) TryRecordAttendance(ctx context.Context, user, imageRef string) (model.AttendanceRecord, error) {
	res, err := l.Reserve(user)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	return res.Commit(ctx, imageRef)
}

func (l *Ledger) containsLocked(id string) bool {
	for _, r := range l.records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Apply replaces the cache with snap.
func (l *Ledger) Apply(snap []model.AttendanceRecord) {
	records := make([]model.AttendanceRecord, len(snap))
	copy(records, snap)

	l.mu.Lock()
	l.records = records
	for _, r := range records {
		delete(l.submitted, r.ID)
	}
	l.pushes++
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
	metrics.SnapshotPushes.Inc()
}

// Subscribe starts applying snapshots from the store until ctx is done,
// calling onChange with the new cache after each one.
func (l *Ledger) Subscribe(ctx context.Context, onChange func([]model.AttendanceRecord)) error {
	ch, err := l.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to records: %w", err)
	}
	go func() {
		for snap := range ch {
			l.Apply(snap)
			if onChange != nil {
				onChange(l.Records())
			}
		}
	}()
	return nil
}

// WaitForPush blocks until more than n snapshots have been applied.
func (l *Ledger) WaitForPush(ctx context.Context, n int) error {
	for {
		l.mu.Lock()
		if l.pushes > n {
			l.mu.Unlock()
			return nil
		}
		wait := l.notify
		l.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pushes returns how many snapshots have been applied.
func (l *Ledger) Pushes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushes
}

// Records returns a copy of the cache.
func (l *Ledger) Records() []model.AttendanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.AttendanceRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ForUser returns the cached records of user.
func (l *Ledger) ForUser(user string) []model.AttendanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []model.AttendanceRecord{}
	for _, r := range l.records {
		if r.User == user {
			out = append(out, r)
		}
	}
	return out
}

// DeleteRecord removes the record at index from this ledger only. Nothing is
// sent to the remote store, so the record reappears with the next snapshot.
func (l *Ledger) DeleteRecord(sess model.Session, index int) (model.AttendanceRecord, error) {
	if !sess.Authenticated() {
		return model.AttendanceRecord{}, ErrNotAuthenticated
	}
	if !sess.IsAdmin() {
		return model.AttendanceRecord{}, ErrForbidden
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.records) {
		return model.AttendanceRecord{}, ErrIndexOutOfRange
	}
	removed := l.records[index]
	l.records = append(l.records[:index:index], l.records[index+1:]...)
	metrics.LocalDeletes.Inc()
	logger.Warningf("admin %s removed record %s (%s %s) from the local ledger only", sess.Username, removed.ID, removed.User, removed.Date)
	return removed, nil
}
