package models

import "time"

// OutcomeStatus is the four-way result taxonomy for one rule applied to one
// patient. Values persist as integers for compatibility with existing run
// documents and their consumers.
type OutcomeStatus int

const (
	StatusChangesMade          OutcomeStatus = 1
	StatusConditionMetNoChange OutcomeStatus = 2
	StatusConditionNotMet      OutcomeStatus = 3
	StatusError                OutcomeStatus = 4
)

// IsValidOutcomeStatus checks if the status is one of the four known values.
func IsValidOutcomeStatus(s OutcomeStatus) bool {
	return s >= StatusChangesMade && s <= StatusError
}

func (s OutcomeStatus) String() string {
	switch s {
	case StatusChangesMade:
		return "changes_made"
	case StatusConditionMetNoChange:
		return "condition_met_no_changes"
	case StatusConditionNotMet:
		return "condition_not_met"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// RuleOutcome is the result of applying (or rolling back) one rule against
// one patient case. Exactly one exists per (patient, rule) pair per run.
type RuleOutcome struct {
	RuleID           int           `json:"rule_number,string"`
	PatientID        string        `json:"patientid"`
	AppointmentID    string        `json:"appointmentid"`
	Status           OutcomeStatus `json:"status"`
	Reason           string        `json:"reason"`
	ModifierAssigned string        `json:"modifier_assigned,omitempty"`
}

// RollbackStatusRollbacked marks a persisted patient result whose changes
// were later rolled back.
const RollbackStatusRollbacked = "rollbacked"

// PatientResult aggregates all rule outcomes for one patient within a run,
// with denormalized per-status counts.
type PatientResult struct {
	PatientID       string `json:"patientid"`
	AppointmentID   string `json:"appointmentid"`
	AppointmentDate string `json:"appointment_date"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	DOB             string `json:"dob"`

	ChangesMade          int `json:"status_1_changes_made"`
	ConditionMetNoChange int `json:"status_2_condition_met_no_changes"`
	ConditionNotMet      int `json:"status_3_condition_not_met"`
	Errors               int `json:"status_4_errors"`

	Details []RuleOutcome `json:"details"`

	RollbackStatus string     `json:"rollback_status,omitempty"`
	RollbackedAt   *time.Time `json:"rollbacked_at,omitempty"`
}

// NewPatientResult initializes an empty result from the submitted case.
// Pure function - returns new instance.
func NewPatientResult(p PatientCase) PatientResult {
	return PatientResult{
		PatientID:       p.PatientID,
		AppointmentID:   p.AppointmentID,
		AppointmentDate: p.AppointmentDate,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		DOB:             p.DOB,
		Details:         []RuleOutcome{},
	}
}

// AddOutcome appends a rule outcome and bumps the matching status counter.
// Pure function - returns new instance, does not mutate original.
func AddOutcome(r PatientResult, outcome RuleOutcome) PatientResult {
	details := make([]RuleOutcome, len(r.Details), len(r.Details)+1)
	copy(details, r.Details)
	r.Details = append(details, outcome)

	switch outcome.Status {
	case StatusChangesMade:
		r.ChangesMade++
	case StatusConditionMetNoChange:
		r.ConditionMetNoChange++
	case StatusConditionNotMet:
		r.ConditionNotMet++
	case StatusError:
		r.Errors++
	}
	return r
}

// MarkRollbacked sets the rollback markers on a persisted result.
// Pure function - returns new instance.
func MarkRollbacked(r PatientResult, at time.Time) PatientResult {
	r.RollbackStatus = RollbackStatusRollbacked
	r.RollbackedAt = &at
	return r
}

// PatientKey identifies one (patient, appointment) pair across runs.
type PatientKey struct {
	PatientID     string
	AppointmentID string
}

// Key returns the identity of this result for cross-run matching.
func (r PatientResult) Key() PatientKey {
	return PatientKey{PatientID: r.PatientID, AppointmentID: r.AppointmentID}
}
