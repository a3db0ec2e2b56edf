// Package logger provides leveled logging for the check-in service with a
// console backend, an optional file backend and a small in-memory buffer that
// admins can read over HTTP.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/op/go-logging"
)

const (
	module        = "checkin"
	maxBufferSize = 2048
	timeFormat    = "2006/01/02 15:04:05"
)

// Entry is one buffered log line.
type Entry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

var (
	mu      sync.Mutex
	logger  = logging.MustGetLogger(module)
	logFile *os.File
	buffer  []Entry
)

// Init configures the console backend at level and, when filePath is set, a
// file backend that always records DEBUG.
func Init(level string, filePath string) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}

	console := logging.NewBackendFormatter(
		logging.NewLogBackend(os.Stderr, "", 0),
		logging.MustStringFormatter(`%{time:`+timeFormat+`} %{level:.4s} %{message}`),
	)
	leveled := logging.AddModuleLevel(console)
	leveled.SetLevel(lvl, module)
	backends := []logging.Backend{leveled}

	if filePath != "" {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
			return fmt.Errorf("logger: create log dir: %w", err)
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("logger: open log file: %w", err)
		}
		mu.Lock()
		if logFile != nil {
			_ = logFile.Close()
		}
		logFile = f
		mu.Unlock()

		file := logging.AddModuleLevel(logging.NewBackendFormatter(
			logging.NewLogBackend(f, "", 0),
			logging.MustStringFormatter(`%{time:`+timeFormat+`} %{level} %{shortfile} %{message}`),
		))
		file.SetLevel(logging.DEBUG, module)
		backends = append(backends, file)
	}

	logger.SetBackend(logging.MultiLogger(backends...))
	return nil
}

// Close releases the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
	record(logging.DEBUG, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
	record(logging.INFO, fmt.Sprintf(format, args...))
}

func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
	record(logging.WARNING, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
	record(logging.ERROR, fmt.Sprintf(format, args...))
}

func record(level logging.Level, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if len(buffer) >= maxBufferSize {
		buffer = buffer[1:]
	}
	buffer = append(buffer, Entry{
		Time:    time.Now().Format(timeFormat),
		Level:   level.String(),
		Message: msg,
	})
}

// Recent returns up to n newest entries at or more severe than level,
// newest first.
func Recent(n int, level string) []Entry {
	max, err := logging.LogLevel(level)
	if err != nil {
		max = logging.DEBUG
	}
	mu.Lock()
	defer mu.Unlock()
	out := make([]Entry, 0, n)
	for i := len(buffer) - 1; i >= 0 && len(out) < n; i-- {
		lvl, _ := logging.LogLevel(buffer[i].Level)
		if lvl <= max {
			out = append(out, buffer[i])
		}
	}
	return out
}
