package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
)

// ResultStore persists execution runs. Runs are keyed by project id; one
// project id holds at most one run document, so re-running a project
// overwrites its results while preserving the original creation time.
type ResultStore interface {
	// Upsert writes a run, preserving CreatedAt when a document with the
	// same project id already exists.
	Upsert(ctx context.Context, run models.ExecutionRun) (models.ExecutionRun, error)

	// FindByExecutionID returns the run that a given execution produced.
	FindByExecutionID(ctx context.Context, executionID string) (*models.ExecutionRun, error)

	// FindByProjectID returns the run for a project id.
	FindByProjectID(ctx context.Context, projectID string) (*models.ExecutionRun, error)

	// ListRuns returns all non-archived runs, newest first.
	ListRuns(ctx context.Context) ([]models.ExecutionRun, error)

	// UpdateRollbackStatus marks matching patient results as rolled back
	// across all non-archived runs of a project. Returns how many results
	// were marked.
	UpdateRollbackStatus(ctx context.Context, projectID string, keys []models.PatientKey, at time.Time) (int, error)

	// Archive soft-deletes a project's run.
	Archive(ctx context.Context, projectID string, at time.Time) error
}

// MemoryStore is an in-process ResultStore used when no database is
// configured, and in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]models.ExecutionRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]models.ExecutionRun),
	}
}

// Upsert writes a run, preserving CreatedAt for existing project ids.
func (s *MemoryStore) Upsert(ctx context.Context, run models.ExecutionRun) (models.ExecutionRun, error) {
	if err := run.Validate(); err != nil {
		return models.ExecutionRun{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.runs[run.ProjectID]; ok {
		run.CreatedAt = existing.CreatedAt
	} else if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	s.runs[run.ProjectID] = run
	return run, nil
}

// FindByExecutionID scans for the run a given execution produced.
func (s *MemoryStore) FindByExecutionID(ctx context.Context, executionID string) (*models.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.ExecutionID == executionID {
			result := run
			return &result, nil
		}
	}
	return nil, lib.NewNotFoundError("execution", executionID)
}

// FindByProjectID returns the run for a project id.
func (s *MemoryStore) FindByProjectID(ctx context.Context, projectID string) (*models.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[projectID]
	if !ok {
		return nil, lib.NewNotFoundError("project", projectID)
	}
	result := run
	return &result, nil
}

// ListRuns returns all non-archived runs, newest first.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]models.ExecutionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]models.ExecutionRun, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Archived {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

// UpdateRollbackStatus marks matching patient results as rolled back.
func (s *MemoryStore) UpdateRollbackStatus(ctx context.Context, projectID string, keys []models.PatientKey, at time.Time) (int, error) {
	keySet := make(map[models.PatientKey]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for id, run := range s.runs {
		if run.Archived {
			continue
		}
		if projectID != "" && run.ProjectID != projectID {
			continue
		}

		changed := false
		results := make([]models.PatientResult, len(run.Results))
		copy(results, run.Results)
		for i, result := range results {
			if _, ok := keySet[result.Key()]; !ok {
				continue
			}
			if result.RollbackStatus == models.RollbackStatusRollbacked {
				continue
			}
			results[i] = models.MarkRollbacked(result, at)
			marked++
			changed = true
		}

		if changed {
			run.Results = results
			run.UpdatedAt = at
			s.runs[id] = run
		}
	}

	return marked, nil
}

// Archive soft-deletes a project's run.
func (s *MemoryStore) Archive(ctx context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[projectID]
	if !ok {
		return lib.NewNotFoundError("project", projectID)
	}

	s.runs[projectID] = models.ArchiveRun(run, at)
	return nil
}
