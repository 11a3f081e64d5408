//go:build unix

package services

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
)

// AcquireRunLock takes an exclusive lock for a project (Unix implementation).
// Returns an error when another process already holds the lock. flock() is
// advisory, so all writers must go through this path.
func AcquireRunLock(lockDir string, projectID string, logger zerolog.Logger) (*RunLock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockPath := filepath.Join(lockDir, projectID+".lock")

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = lockFile.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("project %s is locked by another process", projectID)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &RunLock{
		projectID: projectID,
		lockFile:  lockFile,
		lockPath:  lockPath,
		logger:    logger,
	}

	if err := lock.writeLockInfo(); err != nil {
		logger.Warn().Err(err).Str("project_id", projectID).Msg("failed to write lock info")
	}

	logger.Debug().Str("project_id", projectID).Int("pid", os.Getpid()).Msg("acquired run lock")

	return lock, nil
}

// Release releases the run lock (Unix implementation).
func (l *RunLock) Release() error {
	if l.lockFile == nil {
		return nil
	}

	if err := syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		l.logger.Warn().Err(err).Str("project_id", l.projectID).Msg("failed to release flock")
	}

	if err := l.lockFile.Close(); err != nil {
		l.logger.Warn().Err(err).Str("project_id", l.projectID).Msg("failed to close lock file")
		return err
	}

	l.logger.Debug().Str("project_id", l.projectID).Int("pid", os.Getpid()).Msg("released run lock")
	l.lockFile = nil

	return nil
}

// IsRunLocked checks whether a project's lock is held by any process without
// taking the lock (Unix implementation).
func IsRunLocked(lockDir string, projectID string) bool {
	lockPath := filepath.Join(lockDir, projectID+".lock")

	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return false
	}

	lockFile, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return err == syscall.EWOULDBLOCK
	}

	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}
