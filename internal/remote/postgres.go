package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"checkin/internal/logger"
	"checkin/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	id          TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	username    TEXT NOT NULL,
	day         TEXT NOT NULL,
	at          TEXT NOT NULL,
	image_ref   TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_attendance_records_collection ON attendance_records(collection);
`

// Postgres stores records in one table shared by all collections and uses
// LISTEN/NOTIFY for change delivery.
type Postgres struct {
	db         *sql.DB
	collection string
	channel    string
}

// NewPostgres binds a store to collection on a pgx-backed *sql.DB.
func NewPostgres(db *sql.DB, collection string) *Postgres {
	if collection == "" {
		collection = "asistencias"
	}
	return &Postgres{db: db, collection: collection, channel: collection + "_changes"}
}

// EnsureSchema creates the records table if needed.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: create schema: %w", err)
	}
	return nil
}

// Append inserts rec and notifies listeners in the same statement.
func (p *Postgres) Append(ctx context.Context, rec model.AttendanceRecord) (string, error) {
	rec.ID = newKey()
	_, err := p.db.ExecContext(ctx, `
		WITH ins AS (
			INSERT INTO attendance_records (id, collection, username, day, at, image_ref)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		)
		SELECT pg_notify($7, id) FROM ins
	`, rec.ID, p.collection, rec.User, rec.Date, rec.Time, rec.ImageRef, p.channel)
	if err != nil {
		return "", fmt.Errorf("postgres store: append: %w", err)
	}
	return rec.ID, nil
}

// Snapshot reads the whole collection in append order.
func (p *Postgres) Snapshot(ctx context.Context) ([]model.AttendanceRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, username, day, at, image_ref
		FROM attendance_records
		WHERE collection = $1
		ORDER BY id
	`, p.collection)
	if err != nil {
		return nil, fmt.Errorf("postgres store: read collection: %w", err)
	}
	defer rows.Close()
	out := []model.AttendanceRecord{}
	for rows.Next() {
		var rec model.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.User, &rec.Date, &rec.Time, &rec.ImageRef); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Watch holds a dedicated connection in LISTEN mode for the lifetime of ctx.
func (p *Postgres) Watch(ctx context.Context) (<-chan []model.AttendanceRecord, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: acquire listen conn: %w", err)
	}
	listen := "LISTEN " + pgx.Identifier{p.channel}.Sanitize()
	err = conn.Raw(func(driverConn any) error {
		_, err := driverConn.(*stdlib.Conn).Conn().Exec(ctx, listen)
		return err
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres store: listen: %w", err)
	}
	first, err := p.Snapshot(ctx)
	if err != nil {
		p.release(conn)
		return nil, err
	}

	out := make(chan []model.AttendanceRecord, 1)
	offer(out, first)
	go func() {
		defer close(out)
		defer p.release(conn)
		for {
			err := conn.Raw(func(driverConn any) error {
				_, err := driverConn.(*stdlib.Conn).Conn().WaitForNotification(ctx)
				return err
			})
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					logger.Warningf("postgres store: wait for notification: %v", err)
				}
				return
			}
			snap, err := p.Snapshot(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warningf("postgres store: refresh after change failed: %v", err)
				continue
			}
			offer(out, snap)
		}
	}()
	return out, nil
}

// release stops listening before the connection goes back to the pool.
func (p *Postgres) release(conn *sql.Conn) {
	_ = conn.Raw(func(driverConn any) error {
		_, err := driverConn.(*stdlib.Conn).Conn().Exec(context.Background(), "UNLISTEN *")
		return err
	})
	_ = conn.Close()
}
