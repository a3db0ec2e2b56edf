package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkin/internal/capture"
	"checkin/internal/logger"
	"checkin/internal/metrics"
	"checkin/internal/model"
)

// Service runs the capture → upload → append sequence against a ledger.
type Service struct {
	ledger   *Ledger
	pipeline *capture.Pipeline
}

// NewService creates a service. A nil pipeline runs in degraded mode and
// commits records without a photo.
func NewService(ledger *Ledger, pipeline *capture.Pipeline) *Service {
	return &Service{ledger: ledger, pipeline: pipeline}
}

// Ledger returns the ledger the service writes through.
func (s *Service) Ledger() *Ledger { return s.ledger }

// TryRecordAttendance records today's check-in for sess using the current
// frame of src. The daily check runs before anything is captured, so a
// rejected attempt never touches object storage or the record store.
func (s *Service) TryRecordAttendance(ctx context.Context, sess model.Session, src capture.Source) (model.AttendanceRecord, error) {
	rec, err := s.tryRecord(ctx, sess, src)
	switch {
	case err == nil:
		metrics.CheckIns.WithLabelValues(metrics.OK).Inc()
		logger.Infof("check-in recorded for %s on %s at %s", rec.User, rec.Date, rec.Time)
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrAlreadyRecordedToday):
		metrics.CheckIns.WithLabelValues(metrics.Rejected).Inc()
	default:
		metrics.CheckIns.WithLabelValues(metrics.Failed).Inc()
		logger.Warningf("check-in for %q failed: %v", sess.Username, err)
	}
	return rec, err
}

func (s *Service) tryRecord(ctx context.Context, sess model.Session, src capture.Source) (model.AttendanceRecord, error) {
	if !sess.Authenticated() {
		return model.AttendanceRecord{}, ErrNotAuthenticated
	}
	res, err := s.ledger.Reserve(sess.Username)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	defer res.Release()

	var imageRef string
	if s.pipeline != nil {
		blob, err := s.pipeline.CaptureFrame(src)
		if err != nil {
			return model.AttendanceRecord{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}
		start := time.Now()
		imageRef, err = s.pipeline.Upload(ctx, blob, s.pipeline.Key(sess.Username, res.At()))
		metrics.UploadSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Uploads.WithLabelValues(metrics.Failed).Inc()
			return model.AttendanceRecord{}, err
		}
		metrics.Uploads.WithLabelValues(metrics.OK).Inc()
	}
	return res.Commit(ctx, imageRef)
}
