package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/model"
)

func receive(t *testing.T, ch <-chan []model.AttendanceRecord) []model.AttendanceRecord {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestMemoryWatchDeliversInitialSnapshot(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.Append(ctx, model.AttendanceRecord{User: "alice", Date: "18/10/2026", Time: "09:00:00"})
	require.NoError(t, err)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := m.Watch(wctx)
	require.NoError(t, err)

	snap := receive(t, ch)
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].User)
	assert.NotEmpty(t, snap[0].ID)
}

func TestMemoryAppendBroadcastsFullSet(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := m.Watch(ctx)
	require.NoError(t, err)
	assert.Empty(t, receive(t, ch))

	first, err := m.Append(ctx, model.AttendanceRecord{User: "alice", Date: "d", Time: "t1"})
	require.NoError(t, err)
	second, err := m.Append(ctx, model.AttendanceRecord{User: "bob", Date: "d", Time: "t2"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	var snap []model.AttendanceRecord
	require.Eventually(t, func() bool {
		select {
		case snap = <-ch:
		default:
		}
		return len(snap) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, first, snap[0].ID)
	assert.Equal(t, second, snap[1].ID)
}

func TestMemoryWatchClosesOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Watch(ctx)
	require.NoError(t, err)
	receive(t, ch)
	assert.Equal(t, 1, m.Watchers())

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.Watchers())
}

func TestMemoryFailAppends(t *testing.T) {
	m := NewMemory()
	boom := errors.New("network down")
	m.FailAppends(boom)

	_, err := m.Append(context.Background(), model.AttendanceRecord{User: "alice"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Appends())

	m.FailAppends(nil)
	_, err = m.Append(context.Background(), model.AttendanceRecord{User: "alice"})
	assert.NoError(t, err)
	assert.Equal(t, 1, m.Appends())
}

func TestKeysSortInAppendOrder(t *testing.T) {
	var keys []string
	for i := 0; i < 50; i++ {
		keys = append(keys, newKey())
	}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}
