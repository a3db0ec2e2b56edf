package remote

import (
	"context"
	"sync"

	"checkin/internal/model"
)

// Memory is an in-process record store used in development and tests.
type Memory struct {
	mu       sync.Mutex
	records  []model.AttendanceRecord
	watchers map[chan []model.AttendanceRecord]struct{}
	appends  int
	failWith error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{watchers: make(map[chan []model.AttendanceRecord]struct{})}
}

// Append stores rec under a new key and notifies watchers.
func (m *Memory) Append(ctx context.Context, rec model.AttendanceRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	rec.ID = newKey()
	m.records = append(m.records, rec)
	m.appends++
	m.broadcastLocked()
	return rec.ID, nil
}

// Watch streams snapshots until ctx is done.
func (m *Memory) Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error) {
	ch := make(chan []model.AttendanceRecord, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	offer(ch, m.snapshotLocked())
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// Snapshot returns a copy of the collection in append order.
func (m *Memory) Snapshot(context.Context) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(), nil
}

// Appends returns how many appends succeeded.
func (m *Memory) Appends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appends
}

// FailAppends makes subsequent appends fail with err; nil restores normal
// behaviour.
func (m *Memory) FailAppends(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// Watchers returns the number of live subscriptions.
func (m *Memory) Watchers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *Memory) snapshotLocked() []model.AttendanceRecord {
	out := make([]model.AttendanceRecord, len(m.records))
	copy(out, m.records)
	return out
}

func (m *Memory) broadcastLocked() {
	for ch := range m.watchers {
		offer(ch, m.snapshotLocked())
	}
}
