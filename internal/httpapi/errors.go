package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"checkin/internal/attendance"
	"checkin/internal/capture"
	"checkin/internal/logger"
	"checkin/internal/session"
	"checkin/internal/speech"
)

var errSessionGone = errors.New("session expired")

// statusTable is checked in order; wrapped errors match their first entry.
var statusTable = []struct {
	err    error
	status int
}{
	{errSessionGone, http.StatusUnauthorized},
	{attendance.ErrNotAuthenticated, http.StatusUnauthorized},
	{session.ErrInvalidCredentials, http.StatusUnauthorized},
	{attendance.ErrForbidden, http.StatusForbidden},
	{attendance.ErrIndexOutOfRange, http.StatusNotFound},
	{attendance.ErrAlreadyRecordedToday, http.StatusConflict},
	{session.ErrDuplicateUsername, http.StatusConflict},
	{session.ErrEmptyField, http.StatusBadRequest},
	{session.ErrInvalidRole, http.StatusBadRequest},
	{session.ErrRecordsUnavailable, http.StatusServiceUnavailable},
	{capture.ErrInvalidFrame, http.StatusBadRequest},
	{capture.ErrCameraUnavailable, http.StatusConflict},
	{attendance.ErrCaptureFailed, http.StatusUnprocessableEntity},
	{capture.ErrNoFrameAvailable, http.StatusUnprocessableEntity},
	{capture.ErrUploadFailed, http.StatusBadGateway},
	{speech.ErrUnsupported, http.StatusNotImplemented},
	{speech.ErrRecognition, http.StatusUnprocessableEntity},
}

func statusFor(err error) int {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
