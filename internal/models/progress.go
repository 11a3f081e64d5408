package models

import "time"

// ExecutionStatus defines the execution state of a run or of one rule
// within it.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// IsValidExecutionStatus checks if the status is recognized.
func IsValidExecutionStatus(s ExecutionStatus) bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionError
}

// CanTransitionTo checks if a status transition is valid.
// Valid transitions:
//
//	pending -> running | error
//	running -> completed | error
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionError
	case ExecutionRunning:
		return next == ExecutionCompleted || next == ExecutionError
	default:
		return false // terminal
	}
}

// RuleProgress tracks one rule's progress within an execution.
type RuleProgress struct {
	Status            ExecutionStatus `json:"status"`
	Percentage        float64         `json:"percentage"`
	PatientsProcessed int             `json:"patients_processed"`
	PatientsTotal     int             `json:"total_patients"`
}

// OverallProgress aggregates progress across all rules of an execution.
type OverallProgress struct {
	Percentage        float64 `json:"percentage"`
	PatientsProcessed int     `json:"patients_processed"`
	PatientsTotal     int     `json:"total_patients"`
	CurrentRule       *int    `json:"current_rule"`
	RulesTotal        int     `json:"total_rules"`
	RulesCompleted    int     `json:"rules_completed"`
}

// ProgressState is the pollable snapshot of one execution. Created at
// submission, mutated only by the owning executor, terminal once the status
// is completed or error.
type ProgressState struct {
	ExecutionID  string               `json:"execution_id"`
	ProjectName  string               `json:"project_name"`
	Status       ExecutionStatus      `json:"status"`
	Overall      OverallProgress      `json:"overall"`
	Rules        map[int]RuleProgress `json:"rules"`
	ErrorMessage string               `json:"error_message,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// RulePercentage computes the clamped completion percentage for one rule.
func RulePercentage(processed, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		return 100.0
	}
	if pct < 0 {
		return 0.0
	}
	return pct
}

// OverallPercentage is the unweighted mean of per-rule percentages. Rules
// currently always share one patient set, so the unweighted mean equals the
// weighted one.
func OverallPercentage(rules map[int]RuleProgress) float64 {
	if len(rules) == 0 {
		return 0.0
	}
	var sum float64
	for _, rp := range rules {
		sum += rp.Percentage
	}
	return sum / float64(len(rules))
}

// CloneProgressState deep-copies a snapshot so readers never share the
// tracker's rule map.
func CloneProgressState(p ProgressState) ProgressState {
	rules := make(map[int]RuleProgress, len(p.Rules))
	for id, rp := range p.Rules {
		rules[id] = rp
	}
	p.Rules = rules
	if p.Overall.CurrentRule != nil {
		current := *p.Overall.CurrentRule
		p.Overall.CurrentRule = &current
	}
	return p
}
