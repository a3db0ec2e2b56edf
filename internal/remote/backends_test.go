package remote

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/model"
)

type store interface {
	Append(ctx context.Context, rec model.AttendanceRecord) (string, error)
	Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error)
}

// exerciseRoundTrip checks that an appended record comes back through the
// next pushed snapshot with identical fields.
func exerciseRoundTrip(t *testing.T, s store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := s.Watch(ctx)
	require.NoError(t, err)
	initial := receive(t, ch)

	want := model.AttendanceRecord{User: "alice", Date: "18/10/2026", Time: "08:59:01", ImageRef: "https://img/alice-1"}
	id, err := s.Append(ctx, want)
	require.NoError(t, err)

	var got []model.AttendanceRecord
	require.Eventually(t, func() bool {
		select {
		case got = <-ch:
		default:
		}
		return len(got) == len(initial)+1
	}, 5*time.Second, 20*time.Millisecond)

	last := got[len(got)-1]
	assert.Equal(t, id, last.ID)
	want.ID = id
	assert.Equal(t, want, last)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	collection := "test_" + newKey()
	t.Cleanup(func() { client.Del(context.Background(), "checkin:"+collection) })

	exerciseRoundTrip(t, NewRedis(client, collection))
}

func TestPostgresRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	collection := "test_" + time.Now().Format("20060102150405")
	p := NewPostgres(db, collection)
	require.NoError(t, p.EnsureSchema(context.Background()))
	t.Cleanup(func() {
		db.Exec(`DELETE FROM attendance_records WHERE collection = $1`, collection)
	})

	exerciseRoundTrip(t, p)
}
