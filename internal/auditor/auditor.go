// Package auditor watches the shared record collection the way a client
// ledger does and reports what the client-side daily check let through.
package auditor

import (
	"context"
	"sync"

	"checkin/internal/attendance"
	"checkin/internal/logger"
	"checkin/internal/metrics"
	"checkin/internal/model"
	"checkin/internal/queue"
)

// Report is the auditor's view after the last snapshot.
type Report struct {
	Total        int
	Today        int
	Duplicates   []attendance.DuplicateSlot
	LocalDeletes int
}

type Auditor struct {
	ledger *attendance.Ledger
	events queue.Queue

	mu       sync.Mutex
	report   Report
	reported map[string]int
}

// New builds an auditor over store. events may be nil.
func New(store attendance.RecordStore, opts attendance.Options, events queue.Queue) *Auditor {
	return &Auditor{
		ledger:   attendance.NewLedger(store, opts),
		events:   events,
		reported: make(map[string]int),
	}
}

// Ledger returns the auditor's read-only ledger.
func (a *Auditor) Ledger() *attendance.Ledger { return a.ledger }

// Run subscribes to the collection and, when configured, the event queue,
// and blocks until ctx is done.
func (a *Auditor) Run(ctx context.Context) error {
	if err := a.ledger.Subscribe(ctx, a.observe); err != nil {
		return err
	}
	if a.events == nil {
		<-ctx.Done()
		return nil
	}
	msgs, err := a.events.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		a.handle(msg)
	}
	return nil
}

func (a *Auditor) observe(records []model.AttendanceRecord) {
	today := attendance.CountOn(records, a.ledger.Today())
	dups := attendance.Duplicates(records)
	metrics.RecordsTotal.Set(float64(len(records)))
	metrics.RecordsToday.Set(float64(today))
	metrics.DuplicateSlots.Set(float64(len(dups)))

	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.Total = len(records)
	a.report.Today = today
	a.report.Duplicates = dups
	for _, d := range dups {
		key := d.User + "|" + d.Date
		if a.reported[key] == len(d.Records) {
			continue
		}
		a.reported[key] = len(d.Records)
		logger.Warningf("%s has %d records on %s", d.User, len(d.Records), d.Date)
	}
}

func (a *Auditor) handle(msg queue.Message) {
	metrics.AuditEvents.WithLabelValues(msg.Type).Inc()
	switch msg.Type {
	case queue.LocalDelete:
		a.mu.Lock()
		a.report.LocalDeletes++
		a.mu.Unlock()
		logger.Warningf("admin %s hid record %s (%s %s) locally; the collection still holds it",
			msg.Actor, msg.Record.ID, msg.Record.User, msg.Record.Date)
	case queue.CheckInRecorded:
		logger.Debugf("check-in %s by %s at %s %s", msg.Record.ID, msg.Actor, msg.Record.Date, msg.Record.Time)
	default:
		logger.Debugf("ignoring audit event %q", msg.Type)
	}
}

// Report returns a copy of the latest report.
func (a *Auditor) Report() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.report
	r.Duplicates = append([]attendance.DuplicateSlot(nil), a.report.Duplicates...)
	return r
}
