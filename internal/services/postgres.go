package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
)

// PostgresStore persists runs as JSONB documents in a `runs` table. See
// migrations/001_create_runs.sql for the schema.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects a pool from the configured database settings.
func NewPostgresStore(ctx context.Context, config models.DatabaseConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return &PostgresStore{
		pool:   pool,
		logger: lib.ComponentLogger(logger, "postgres"),
	}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Upsert writes a run, preserving CreatedAt for existing project ids. A
// create that loses a race to a concurrent insert is retried as an update.
func (s *PostgresStore) Upsert(ctx context.Context, run models.ExecutionRun) (models.ExecutionRun, error) {
	if err := run.Validate(); err != nil {
		return models.ExecutionRun{}, err
	}

	now := time.Now().UTC()

	var createdAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT created_at FROM runs WHERE project_id = $1`,
		run.ProjectID,
	).Scan(&createdAt)

	switch {
	case err == nil:
		run.CreatedAt = createdAt
		run.UpdatedAt = now
		return run, s.update(ctx, run)
	case errors.Is(err, pgx.ErrNoRows):
		if run.CreatedAt.IsZero() {
			run.CreatedAt = now
		}
		run.UpdatedAt = now
		if insertErr := s.insert(ctx, run); insertErr != nil {
			if isUniqueViolation(insertErr) {
				// Lost a create race; the winner's created_at stands
				s.logger.Debug().Str("project_id", run.ProjectID).Msg("create conflict, retrying as update")
				return run, s.update(ctx, run)
			}
			return models.ExecutionRun{}, insertErr
		}
		return run, nil
	default:
		return models.ExecutionRun{}, fmt.Errorf("failed to look up run: %w", err)
	}
}

func (s *PostgresStore) insert(ctx context.Context, run models.ExecutionRun) error {
	document, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (project_id, execution_id, archived, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ProjectID, run.ExecutionID, run.Archived, document, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) update(ctx context.Context, run models.ExecutionRun) error {
	document, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs
		 SET execution_id = $2, archived = $3, document = $4, updated_at = $5
		 WHERE project_id = $1`,
		run.ProjectID, run.ExecutionID, run.Archived, document, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lib.NewNotFoundError("project", run.ProjectID)
	}
	return nil
}

func scanRun(row pgx.Row) (*models.ExecutionRun, error) {
	var document []byte
	if err := row.Scan(&document); err != nil {
		return nil, err
	}
	var run models.ExecutionRun
	if err := json.Unmarshal(document, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run document: %w", err)
	}
	return &run, nil
}

// FindByExecutionID returns the run a given execution produced.
func (s *PostgresStore) FindByExecutionID(ctx context.Context, executionID string) (*models.ExecutionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT document FROM runs WHERE execution_id = $1`,
		executionID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lib.NewNotFoundError("execution", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run by execution id: %w", err)
	}
	return run, nil
}

// FindByProjectID returns the run for a project id.
func (s *PostgresStore) FindByProjectID(ctx context.Context, projectID string) (*models.ExecutionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT document FROM runs WHERE project_id = $1`,
		projectID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, lib.NewNotFoundError("project", projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find run by project id: %w", err)
	}
	return run, nil
}

// ListRuns returns all non-archived runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]models.ExecutionRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM runs WHERE archived = FALSE ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ExecutionRun
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		var run models.ExecutionRun
		if err := json.Unmarshal(document, &run); err != nil {
			return nil, fmt.Errorf("failed to decode run document: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// UpdateRollbackStatus marks matching patient results as rolled back across
// the project's non-archived runs. Documents are rewritten whole; rollback
// marking happens after a run completes, so contention is not a concern.
func (s *PostgresStore) UpdateRollbackStatus(ctx context.Context, projectID string, keys []models.PatientKey, at time.Time) (int, error) {
	keySet := make(map[models.PatientKey]struct{}, len(keys))
	for _, key := range keys {
		keySet[key] = struct{}{}
	}

	var candidates []models.ExecutionRun
	if projectID != "" {
		run, err := s.FindByProjectID(ctx, projectID)
		if err != nil {
			if lib.IsNotFound(err) {
				return 0, nil
			}
			return 0, err
		}
		if !run.Archived {
			candidates = append(candidates, *run)
		}
	} else {
		runs, err := s.ListRuns(ctx)
		if err != nil {
			return 0, err
		}
		candidates = runs
	}

	marked := 0
	for _, run := range candidates {
		changed := false
		for i, result := range run.Results {
			if _, ok := keySet[result.Key()]; !ok {
				continue
			}
			if result.RollbackStatus == models.RollbackStatusRollbacked {
				continue
			}
			run.Results[i] = models.MarkRollbacked(result, at)
			marked++
			changed = true
		}

		if changed {
			run.UpdatedAt = at
			if err := s.update(ctx, run); err != nil {
				return marked, err
			}
		}
	}

	return marked, nil
}

// Archive soft-deletes a project's run.
func (s *PostgresStore) Archive(ctx context.Context, projectID string, at time.Time) error {
	run, err := s.FindByProjectID(ctx, projectID)
	if err != nil {
		return err
	}

	archived := models.ArchiveRun(*run, at)
	return s.update(ctx, archived)
}
