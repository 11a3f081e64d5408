package services

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// RunLock is an exclusive file lock for one project's run. It stops two
// processes from applying or rolling back modifiers on the same project at
// the same time.
type RunLock struct {
	projectID string
	lockFile  *os.File
	lockPath  string
	logger    zerolog.Logger
}

// WithRunLock executes fn while holding the project's run lock.
// Returns an error without calling fn when another process holds the lock.
func WithRunLock(lockDir string, projectID string, logger zerolog.Logger, fn func() error) error {
	lock, err := AcquireRunLock(lockDir, projectID, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error().Err(err).Str("project_id", projectID).Msg("failed to release run lock")
		}
	}()

	return fn()
}

// writeLockInfo records the holder for debugging stale locks.
func (l *RunLock) writeLockInfo() error {
	info := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = l.lockFile.Truncate(0)
	_, _ = l.lockFile.Seek(0, 0)
	_, _ = l.lockFile.WriteString(info)
	return l.lockFile.Sync()
}
