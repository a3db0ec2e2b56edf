// Package metrics exposes prometheus collectors for the check-in service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "attempts_total",
		Help:      "Check-in attempts by outcome.",
	}, []string{"outcome"})

	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "uploads_total",
		Help:      "Photo uploads by outcome.",
	}, []string{"outcome"})

	UploadSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "checkin",
		Name:      "upload_duration_seconds",
		Help:      "Time spent uploading check-in photos.",
		Buckets:   prometheus.DefBuckets,
	})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "logins_total",
		Help:      "Login attempts by outcome.",
	}, []string{"outcome"})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "registrations_total",
		Help:      "Registration attempts by outcome.",
	}, []string{"outcome"})

	SnapshotPushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "snapshot_pushes_total",
		Help:      "Full-collection snapshots applied to ledgers.",
	})

	LocalDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "local_deletes_total",
		Help:      "Admin deletions applied to a local ledger only.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "active_sessions",
		Help:      "Logged-in sessions.",
	})

	RecordsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "records",
		Help:      "Records in the remote collection as last observed by the auditor.",
	})

	RecordsToday = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "records_today",
		Help:      "Records dated today as last observed by the auditor.",
	})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	AuditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "audit_events_total",
		Help:      "Audit events consumed by the auditor, by type.",
	}, []string{"type"})

	DuplicateSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "checkin",
		Name:      "duplicate_slots",
		Help:      "(user, date) pairs holding more than one record.",
	})
)

// Outcome label values shared by the counters above.
const (
	OK       = "ok"
	Rejected = "rejected"
	Failed   = "failed"
)
