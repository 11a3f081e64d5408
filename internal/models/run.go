package models

import (
	"fmt"
	"time"
)

// RunRequest is one submission to the execution orchestrator: a set of
// rules applied to a set of patient cases.
type RunRequest struct {
	ProjectName  string        `json:"project_name"`
	ProjectID    string        `json:"project_id,omitempty"` // generated when empty
	Rules        []int         `json:"rules"`
	AddModifiers bool          `json:"add_modifiers"`
	Patients     []PatientCase `json:"patients"`
	IsRollback   bool          `json:"is_rollback"`
}

// DefaultProjectName is used when a submission carries no project name.
const DefaultProjectName = "Default Project"

// Validate rejects requests that cannot start a run. This is the only
// synchronous failure path; everything else is reported through the run.
func (r RunRequest) Validate() error {
	if len(r.Rules) == 0 {
		return fmt.Errorf("no rules specified in request")
	}
	if len(r.Patients) == 0 {
		return fmt.Errorf("no patients specified in request")
	}
	for i, p := range r.Patients {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("patient %d: %w", i, err)
		}
	}
	return nil
}

// ExecutionRun is the persisted document for one completed run, keyed by
// project id. Immutable once persisted except for rollback-status updates.
type ExecutionRun struct {
	ProjectID   string `json:"id"`
	ProjectName string `json:"project_name"`
	ExecutionID string `json:"execution_id"`

	Rules      []int         `json:"rules"`
	Patients   []PatientCase `json:"patients"`
	IsRollback bool          `json:"is_rollback"`

	Success            bool            `json:"success"`
	Message            string          `json:"message"`
	Results            []PatientResult `json:"results"`
	TotalRulesExecuted int             `json:"total_rules_executed"`
	RulesWithErrors    []int           `json:"rules_with_errors"`

	Archived   bool       `json:"archived,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the identity fields required for persistence.
func (r ExecutionRun) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("execution run missing project id")
	}
	if r.ExecutionID == "" {
		return fmt.Errorf("execution run missing execution id")
	}
	return nil
}

// ArchiveRun marks a run as archived (soft delete).
// Pure function - returns new instance.
func ArchiveRun(r ExecutionRun, at time.Time) ExecutionRun {
	r.Archived = true
	r.ArchivedAt = &at
	r.UpdatedAt = at
	return r
}
