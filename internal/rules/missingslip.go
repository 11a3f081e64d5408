package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/medofficehq/chargerules/internal/models"
)

// MissingSlipRuleID is the rule number for the E&M+injection modifier rule.
const MissingSlipRuleID = 21

// evalModifier is the modifier this rule attaches.
const evalModifier = "25"

// emCodes are the evaluation-and-management visit codes this rule targets.
var emCodes = map[string]struct{}{
	"99202": {}, "99203": {}, "99204": {}, "99205": {},
	"99212": {}, "99213": {}, "99214": {}, "99215": {},
}

// injectionCodes are the injection/aspiration procedure codes this rule
// targets.
var injectionCodes = map[string]struct{}{
	"20526": {}, "20527": {}, "20550": {}, "20551": {},
	"20552": {}, "20553": {}, "20600": {}, "20604": {},
	"20605": {}, "20610": {}, "20611": {},
}

func isEMCode(code string) bool {
	_, ok := emCodes[code]
	return ok
}

func isInjectionCode(code string) bool {
	_, ok := injectionCodes[code]
	return ok
}

// MissingSlipRule attaches modifier 25 to encounters that are missing their
// charge slip and bill both an E&M visit and an injection procedure.
type MissingSlipRule struct {
	provider CaseProvider
	now      func() time.Time
}

// NewMissingSlipRule creates the rule over a case provider.
func NewMissingSlipRule(provider CaseProvider) *MissingSlipRule {
	return &MissingSlipRule{provider: provider, now: time.Now}
}

func (r *MissingSlipRule) ID() int { return MissingSlipRuleID }

func (r *MissingSlipRule) Name() string {
	return "Missing slip E&M + injection modifier 25"
}

// IsMissingSlip decides whether an appointment is missing its charge slip:
// the visit happened (past date), the encounter is still open, charge entry
// is required, and no claim carries procedures yet. Pure decision over the
// fetched appointment.
func (r *MissingSlipRule) IsMissingSlip(appointment models.AppointmentDetail) bool {
	if appointment.Date != "" {
		if appointmentDate, err := models.ParseAppointmentDate(appointment.Date); err == nil {
			// Compare wall-clock dates: parsed dates sit at UTC midnight, so
			// today's local date is projected into the same representation.
			now := r.now()
			today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, appointmentDate.Location())
			if !appointmentDate.Before(today) {
				return false
			}
		}
	}

	if appointment.EncounterStatus == "CLOSED" {
		return false
	}

	if appointment.ChargeEntryNotRequired {
		return false
	}

	if len(appointment.Claims) == 0 {
		return true
	}

	return !appointment.HasClaimProcedures()
}

// codePresence reports which of the two required code families appear in the
// encounter's service lines.
type codePresence struct {
	HasEM        bool
	HasInjection bool
}

func (p codePresence) Both() bool { return p.HasEM && p.HasInjection }

func checkCodePresence(procedures []models.ProcedureRecord) codePresence {
	var presence codePresence
	for _, procedure := range procedures {
		if isEMCode(procedure.ProcedureCode) {
			presence.HasEM = true
		}
		if isInjectionCode(procedure.ProcedureCode) {
			presence.HasInjection = true
		}
	}
	return presence
}

// notEligibleReason names which code family is missing.
func notEligibleReason(presence codePresence) string {
	switch {
	case presence.HasEM && !presence.HasInjection:
		return "not eligible for modifier: E&M codes present but missing injection codes (requires both 99202-99215 and 20526-20611)"
	case presence.HasInjection && !presence.HasEM:
		return "not eligible for modifier: injection codes present but missing E&M visit codes (requires both 99202-99215 and 20526-20611)"
	default:
		return "not eligible for modifier: missing required procedure codes (requires both E&M codes 99202-99215 and injection codes 20526-20611)"
	}
}

// Run evaluates the rule forward for one patient.
func (r *MissingSlipRule) Run(ctx context.Context, patient models.PatientCase, addModifiers bool) models.RuleOutcome {
	appointment, err := r.provider.FetchAppointment(ctx, patient)
	if err != nil {
		return errorOutcome(MissingSlipRuleID, patient, err)
	}
	if appointment == nil {
		return outcome(MissingSlipRuleID, patient, models.StatusError, "error: no appointment data found")
	}

	if !r.IsMissingSlip(*appointment) {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet, notEligibleReason(codePresence{}))
	}

	if appointment.EncounterID == "" {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet, notEligibleReason(codePresence{}))
	}

	procedures, err := r.provider.FetchServices(ctx, appointment.EncounterID)
	if err != nil {
		return errorOutcome(MissingSlipRuleID, patient, err)
	}

	presence := checkCodePresence(procedures)
	if !presence.Both() {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet, notEligibleReason(presence))
	}

	modifierAdded := false
	if addModifiers {
		for _, procedure := range procedures {
			if !isEMCode(procedure.ProcedureCode) && !isInjectionCode(procedure.ProcedureCode) {
				continue
			}
			if procedure.ServiceID == "" || hasModifier(procedure.Modifiers, evalModifier) {
				continue
			}

			modifiers := append(append([]string{}, procedure.Modifiers...), evalModifier)
			if err := r.provider.ApplyModifiers(ctx, appointment.EncounterID, procedure.ServiceID, modifiers, nil); err != nil {
				return errorOutcome(MissingSlipRuleID, patient, err)
			}
			modifierAdded = true
		}
	}

	if modifierAdded {
		result := outcome(MissingSlipRuleID, patient, models.StatusChangesMade, "modifier 25 added")
		result.ModifierAssigned = evalModifier
		return result
	}
	// Covers both "already present" and "write not requested"
	return outcome(MissingSlipRuleID, patient, models.StatusConditionMetNoChange, "modifier 25 already exists")
}

// Rollback removes modifier 25 from the rule's procedures.
func (r *MissingSlipRule) Rollback(ctx context.Context, patient models.PatientCase) models.RuleOutcome {
	appointment, err := r.provider.FetchAppointment(ctx, patient)
	if err != nil {
		return errorOutcome(MissingSlipRuleID, patient, err)
	}
	if appointment == nil {
		return outcome(MissingSlipRuleID, patient, models.StatusError, "error: no appointment data found")
	}

	if appointment.HasClaimProcedures() {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet,
			"not eligible for rollback: claim already created, cannot modify services")
	}

	if appointment.EncounterID == "" {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet,
			"not eligible for rollback: no modifier 25 found to remove")
	}

	procedures, err := r.provider.FetchServices(ctx, appointment.EncounterID)
	if err != nil {
		return errorOutcome(MissingSlipRuleID, patient, err)
	}

	removed := false
	var lastCode string
	for _, procedure := range procedures {
		if !isEMCode(procedure.ProcedureCode) && !isInjectionCode(procedure.ProcedureCode) {
			continue
		}
		if procedure.ServiceID == "" || !hasModifier(procedure.Modifiers, evalModifier) {
			continue
		}

		if err := r.provider.RemoveModifiers(ctx, appointment.EncounterID, procedure.ServiceID, nil); err != nil {
			return errorOutcome(MissingSlipRuleID, patient, err)
		}
		removed = true
		lastCode = procedure.ProcedureCode
	}

	if !removed {
		return outcome(MissingSlipRuleID, patient, models.StatusConditionNotMet,
			"not eligible for rollback: no modifier 25 found to remove")
	}

	return outcome(MissingSlipRuleID, patient, models.StatusChangesMade,
		fmt.Sprintf("modifier 25 removed from %s", lastCode))
}
