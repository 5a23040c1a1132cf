// Package artifacts writes per-job outputs: the append-only step log used for
// failure forensics, intermediate stage dumps, and the final transcript in
// text, JSON, SRT, and VTT renditions.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StepLog is the append-only per-job log. Every stage writes a line before
// and after it runs so a crashed job shows exactly where it stopped.
type StepLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenStepLog opens (or creates) the job's step log for appending.
func OpenStepLog(dir, jobID string) (*StepLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure artifact dir: %w", err)
	}
	path := filepath.Join(dir, jobID+"_pipeline.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open step log: %w", err)
	}
	return &StepLog{file: file, path: path}, nil
}

// Path returns the log file location.
func (l *StepLog) Path() string {
	return l.path
}

// Step records a timestamped line.
func (l *StepLog) Step(format string, args ...any) {
	l.write(fmt.Sprintf(format, args...))
}

// Failure records a stage failure with its error.
func (l *StepLog) Failure(stage string, err error) {
	l.write(fmt.Sprintf("FAILED %s: %v", stage, err))
}

// Close flushes and closes the log.
func (l *StepLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *StepLog) write(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	line := time.Now().UTC().Format(time.RFC3339) + " " + message + "\n"
	_, _ = l.file.WriteString(line)
}
