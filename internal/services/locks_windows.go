//go:build windows

package services

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"unsafe"

	"github.com/rs/zerolog"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	lockfileFailImmediately = 0x00000001
	lockfileExclusiveLock   = 0x00000002
	errorLockViolation      = syscall.Errno(33)
)

// AcquireRunLock takes an exclusive lock for a project (Windows
// implementation). Returns an error when another process already holds it.
func AcquireRunLock(lockDir string, projectID string, logger zerolog.Logger) (*RunLock, error) {
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lockPath := filepath.Join(lockDir, projectID+".lock")

	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	handle := syscall.Handle(lockFile.Fd())
	overlapped := syscall.Overlapped{}

	r1, _, err := procLockFileEx.Call(
		uintptr(handle),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		_ = lockFile.Close()
		if err == errorLockViolation {
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

// Release releases the run lock (Windows implementation).
func (l *RunLock) Release() error {
	if l.lockFile == nil {
		return nil
	}

	handle := syscall.Handle(l.lockFile.Fd())
	overlapped := syscall.Overlapped{}

	_, _, err := procUnlockFileEx.Call(
		uintptr(handle),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if err != syscall.Errno(0) {
		l.logger.Warn().Err(err).Str("project_id", l.projectID).Msg("failed to release lock")
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
// taking the lock (Windows implementation).
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

	handle := syscall.Handle(lockFile.Fd())
	overlapped := syscall.Overlapped{}

	r1, _, err := procLockFileEx.Call(
		uintptr(handle),
		uintptr(lockfileExclusiveLock|lockfileFailImmediately),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err == errorLockViolation
	}

	procUnlockFileEx.Call(
		uintptr(handle),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	return false
}
