// Package remote implements the append-only record collection that clients
// subscribe to. Every backend delivers full snapshots, never deltas: a
// watcher receives the current collection on subscribe and again after each
// change.
package remote

import (
	"errors"
	"sort"

	"github.com/google/uuid"

	"checkin/internal/model"
)

var ErrClosed = errors.New("record store closed")

// newKey returns a time-ordered unique key so that sorting by key yields
// append order.
func newKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

func sortByKey(records []model.AttendanceRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

// offer hands snap to a watcher, replacing any snapshot it has not read yet.
func offer(ch chan []model.AttendanceRecord, snap []model.AttendanceRecord) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
