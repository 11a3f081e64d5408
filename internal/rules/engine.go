// Package rules contains the billing rule engines. Each engine evaluates one
// charge-entry rule against a single patient appointment: a pure decision
// over remote appointment state, followed by modifier writes when the rule's
// condition holds.
package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/medofficehq/chargerules/internal/models"
)

// CaseProvider supplies appointment state and applies service-line changes.
// The production implementation talks to the athenahealth API; tests supply
// fakes.
type CaseProvider interface {
	// FetchAppointment returns the booked appointment for a patient case,
	// or nil when the remote system has no matching record.
	FetchAppointment(ctx context.Context, patient models.PatientCase) (*models.AppointmentDetail, error)

	// FetchServices returns the service lines recorded on an encounter.
	FetchServices(ctx context.Context, encounterID string) ([]models.ProcedureRecord, error)

	// ApplyModifiers sets the full modifier list on a service line. Extra
	// carries additional form fields, such as a diagnosis rewrite.
	ApplyModifiers(ctx context.Context, encounterID, serviceID string, modifiers []string, extra map[string]string) error

	// RemoveModifiers clears all modifiers from a service line.
	RemoveModifiers(ctx context.Context, encounterID, serviceID string, extra map[string]string) error
}

// Engine is one billing rule. Run evaluates the rule forward; Rollback
// undoes a previous run's changes. Both return exactly one outcome and
// never return an error: failures become error-status outcomes so one
// patient cannot abort a batch.
type Engine interface {
	ID() int
	Name() string
	Run(ctx context.Context, patient models.PatientCase, addModifiers bool) models.RuleOutcome
	Rollback(ctx context.Context, patient models.PatientCase) models.RuleOutcome
}

// Registry maps rule ids to engines.
type Registry struct {
	engines map[int]Engine
}

// NewRegistry builds a registry from the given engines.
func NewRegistry(engines ...Engine) *Registry {
	registry := &Registry{engines: make(map[int]Engine, len(engines))}
	for _, engine := range engines {
		registry.engines[engine.ID()] = engine
	}
	return registry
}

// Get returns the engine for a rule id.
func (r *Registry) Get(id int) (Engine, bool) {
	engine, ok := r.engines[id]
	return engine, ok
}

// IDs returns all registered rule ids in ascending order.
func (r *Registry) IDs() []int {
	ids := make([]int, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RuleInfo describes one registered rule for the listing endpoint.
type RuleInfo struct {
	ID   int    `json:"rule_number"`
	Name string `json:"name"`
}

// List returns descriptions of all registered rules in id order.
func (r *Registry) List() []RuleInfo {
	infos := make([]RuleInfo, 0, len(r.engines))
	for _, id := range r.IDs() {
		infos = append(infos, RuleInfo{ID: id, Name: r.engines[id].Name()})
	}
	return infos
}

// DefaultRegistry returns the registry with all production rules.
func DefaultRegistry(provider CaseProvider) *Registry {
	return NewRegistry(
		NewMissingSlipRule(provider),
		NewLateralityRule(provider),
	)
}

// outcome builds a RuleOutcome for one (rule, patient) pair.
func outcome(ruleID int, patient models.PatientCase, status models.OutcomeStatus, reason string) models.RuleOutcome {
	return models.RuleOutcome{
		RuleID:        ruleID,
		PatientID:     patient.PatientID,
		AppointmentID: patient.AppointmentID,
		Status:        status,
		Reason:        reason,
	}
}

// errorOutcome builds an error-status outcome from a failure.
func errorOutcome(ruleID int, patient models.PatientCase, err error) models.RuleOutcome {
	return outcome(ruleID, patient, models.StatusError, fmt.Sprintf("error: %v", err))
}

// hasModifier checks a modifier list for an exact entry.
func hasModifier(modifiers []string, modifier string) bool {
	for _, m := range modifiers {
		if m == modifier {
			return true
		}
	}
	return false
}
