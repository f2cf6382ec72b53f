// Package proclock enforces the one-backend-per-host rule with an on-disk
// PID file. Runners write a shared instruction file in a fixed workdir, so
// two backends on the same host would corrupt each other's launches.
package proclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
)

// ErrHeldByLiveProcess is returned when another running backend owns the lock.
var ErrHeldByLiveProcess = errors.New("process lock held by live process")

// Record is the JSON body of the lock file. Field names are part of the
// on-disk contract with external tooling.
type Record struct {
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"startedAt"`
	Port           int       `json:"port"`
	RuntimeVersion string    `json:"runtimeVersion"`
	InstanceID     string    `json:"instanceId"`
}

// Lock is an acquired process lock.
type Lock struct {
	path   string
	record Record
	logger *logger.Logger
}

// Acquire takes the process lock at path. A lock whose PID is no longer
// alive is stale and gets replaced; a live holder is an error.
func Acquire(path string, port int, log *logger.Logger) (*Lock, error) {
	existing, err := readRecord(path)
	switch {
	case err == nil:
		if existing.PID != os.Getpid() && processAlive(existing.PID) {
			return nil, fmt.Errorf("%w: pid %d (started %s)",
				ErrHeldByLiveProcess, existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
		log.Warn("replacing stale process lock",
			zap.String("path", path),
			zap.Int("stale_pid", existing.PID))
	case errors.Is(err, os.ErrNotExist):
	default:
		log.Warn("replacing unreadable process lock",
			zap.String("path", path),
			zap.Error(err))
	}

	record := Record{
		PID:            os.Getpid(),
		StartedAt:      time.Now().UTC(),
		Port:           port,
		RuntimeVersion: runtime.Version(),
		InstanceID:     uuid.New().String(),
	}
	if err := writeRecord(path, record); err != nil {
		return nil, err
	}

	log.Info("process lock acquired",
		zap.String("path", path),
		zap.Int("pid", record.PID),
		zap.String("instance_id", record.InstanceID))

	return &Lock{path: path, record: record, logger: log}, nil
}

// Record returns a copy of the on-disk record.
func (l *Lock) Record() Record {
	return l.record
}

// Release removes the lock file if this instance still owns it.
func (l *Lock) Release() error {
	existing, err := readRecord(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if existing.InstanceID != l.record.InstanceID {
		l.logger.Warn("process lock no longer owned; leaving it in place",
			zap.String("path", l.path),
			zap.String("holder_instance", existing.InstanceID))
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove process lock: %w", err)
	}
	l.logger.Info("process lock released", zap.String("path", l.path))
	return nil
}

func readRecord(path string) (Record, error) {
	var record Record
	data, err := os.ReadFile(path)
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("malformed lock file: %w", err)
	}
	return record, nil
}

// writeRecord writes the lock atomically: temp file, then rename.
func writeRecord(path string, record Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to move lock file into place: %w", err)
	}
	return nil
}

// processAlive reports whether a process with the given pid exists. EPERM
// means the process exists but belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
