package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/medofficehq/chargerules/internal/models"
)

// LateralityRuleID is the rule number for the diagnosis-derived laterality
// modifier rule.
const LateralityRuleID = 22

// lateralityTargetCodes are the radiology procedure codes this rule inspects.
var lateralityTargetCodes = map[string]struct{}{
	"72170": {}, "72190": {}, "73000": {}, "73010": {}, "73030": {},
	"73060": {}, "73070": {}, "73080": {}, "73110": {}, "73130": {},
	"73140": {}, "73502": {}, "73521": {}, "73522": {}, "73552": {},
	"73562": {}, "73564": {}, "73565": {}, "73590": {}, "73610": {},
	"73630": {}, "73650": {},
}

func isLateralityTarget(code string) bool {
	_, ok := lateralityTargetCodes[code]
	return ok
}

// LateralityRule assigns RT/LT/50 modifiers to target radiology procedures
// based on their musculoskeletal (M-prefixed) diagnosis codes, with
// table-driven special cases for extra modifiers and paired procedures.
type LateralityRule struct {
	provider CaseProvider
}

// NewLateralityRule creates the rule over a case provider.
func NewLateralityRule(provider CaseProvider) *LateralityRule {
	return &LateralityRule{provider: provider}
}

func (r *LateralityRule) ID() int { return LateralityRuleID }

func (r *LateralityRule) Name() string {
	return "Target procedure laterality modifier from diagnosis"
}

// ModifierFromDiagnoses derives the laterality modifier from a procedure's
// diagnoses. The first M-prefixed ICD-10 code whose final digit encodes a
// side wins: 1 is right, 2 is left, 0 is bilateral. Pure decision.
func ModifierFromDiagnoses(diagnoses []models.Diagnosis) (string, bool) {
	for _, diagnosis := range diagnoses {
		code := diagnosis.ICD10Code
		if !strings.HasPrefix(code, "M") {
			continue
		}
		switch {
		case strings.HasSuffix(code, "1"):
			return "RT", true
		case strings.HasSuffix(code, "2"):
			return "LT", true
		case strings.HasSuffix(code, "0"):
			return "50", true
		}
	}
	return "", false
}

// modifiersFor builds the full modifier list to write for one procedure,
// consulting the extra-modifier table.
func modifiersFor(procedureCode, modifier string) []string {
	modifiers := []string{modifier}
	for _, extra := range extraModifiers[procedureCode] {
		if !hasModifier(modifiers, extra) {
			modifiers = append(modifiers, extra)
		}
	}
	return modifiers
}

// findProcedure locates a procedure by code in the encounter's service lines.
func findProcedure(procedures []models.ProcedureRecord, code string) (models.ProcedureRecord, bool) {
	for _, procedure := range procedures {
		if procedure.ProcedureCode == code {
			return procedure, true
		}
	}
	return models.ProcedureRecord{}, false
}

// Run evaluates the rule forward for one patient.
func (r *LateralityRule) Run(ctx context.Context, patient models.PatientCase, addModifiers bool) models.RuleOutcome {
	appointment, err := r.provider.FetchAppointment(ctx, patient)
	if err != nil {
		return errorOutcome(LateralityRuleID, patient, err)
	}
	if appointment == nil {
		return outcome(LateralityRuleID, patient, models.StatusError, "error: no appointment data found")
	}

	if appointment.EncounterID == "" {
		return outcome(LateralityRuleID, patient, models.StatusConditionNotMet, "no target procedure codes found")
	}

	procedures, err := r.provider.FetchServices(ctx, appointment.EncounterID)
	if err != nil {
		return errorOutcome(LateralityRuleID, patient, err)
	}

	targetFound := false
	diagnosisFound := false
	applied := false
	appliedModifier := ""

	for _, procedure := range procedures {
		if !isLateralityTarget(procedure.ProcedureCode) {
			continue
		}
		targetFound = true

		modifier, ok := ModifierFromDiagnoses(procedure.Diagnoses)
		if !ok {
			continue
		}
		diagnosisFound = true
		if appliedModifier == "" {
			appliedModifier = modifier
		}

		if !addModifiers || hasModifier(procedure.Modifiers, modifier) {
			continue
		}

		modifiers := modifiersFor(procedure.ProcedureCode, modifier)
		if err := r.provider.ApplyModifiers(ctx, appointment.EncounterID, procedure.ServiceID, modifiers, nil); err != nil {
			return errorOutcome(LateralityRuleID, patient, err)
		}
		applied = true
		appliedModifier = modifier

		if err := r.applyPairing(ctx, appointment.EncounterID, procedure.ProcedureCode, modifier, procedures); err != nil {
			return errorOutcome(LateralityRuleID, patient, err)
		}
	}

	switch {
	case !targetFound:
		return outcome(LateralityRuleID, patient, models.StatusConditionNotMet, "no target procedure codes found")
	case !diagnosisFound:
		return outcome(LateralityRuleID, patient, models.StatusConditionNotMet, "no matching diagnosis codes found")
	case applied:
		result := outcome(LateralityRuleID, patient, models.StatusChangesMade,
			fmt.Sprintf("modifier %s applied successfully", appliedModifier))
		result.ModifierAssigned = appliedModifier
		return result
	default:
		result := outcome(LateralityRuleID, patient, models.StatusConditionMetNoChange,
			fmt.Sprintf("modifier %s already exists", appliedModifier))
		result.ModifierAssigned = appliedModifier
		return result
	}
}

// applyPairing assigns the opposite laterality modifier to a paired sibling
// procedure and rewrites its diagnosis, per the pairing table. Bilateral
// assignments do not pair.
func (r *LateralityRule) applyPairing(ctx context.Context, encounterID, procedureCode, modifier string, procedures []models.ProcedureRecord) error {
	pair, ok := pairings[procedureCode]
	if !ok {
		return nil
	}

	opposite, ok := oppositeLaterality(modifier)
	if !ok {
		return nil
	}

	sibling, ok := findProcedure(procedures, pair.Sibling)
	if !ok || sibling.ServiceID == "" {
		return nil
	}

	modifiers := modifiersFor(pair.Sibling, opposite)
	extra := map[string]string{"icd10codes": pair.ReplacementDiagnosis}
	return r.provider.ApplyModifiers(ctx, encounterID, sibling.ServiceID, modifiers, extra)
}

// Rollback clears all modifiers from every target procedure. The paired
// sibling's original diagnosis is not retained anywhere, so its rewrite is
// reverted by clearing the field.
func (r *LateralityRule) Rollback(ctx context.Context, patient models.PatientCase) models.RuleOutcome {
	appointment, err := r.provider.FetchAppointment(ctx, patient)
	if err != nil {
		return errorOutcome(LateralityRuleID, patient, err)
	}
	if appointment == nil {
		return outcome(LateralityRuleID, patient, models.StatusError, "error: no appointment data found")
	}

	if appointment.EncounterID == "" {
		return outcome(LateralityRuleID, patient, models.StatusConditionNotMet,
			"not eligible for rollback: no modifiers found to remove")
	}

	procedures, err := r.provider.FetchServices(ctx, appointment.EncounterID)
	if err != nil {
		return errorOutcome(LateralityRuleID, patient, err)
	}

	removed := false
	diagnosisReverted := false
	var lastCode string

	for _, procedure := range procedures {
		if !isLateralityTarget(procedure.ProcedureCode) {
			continue
		}
		if procedure.ServiceID == "" || len(procedure.Modifiers) == 0 {
			continue
		}

		var extra map[string]string
		for _, pair := range pairings {
			if procedure.ProcedureCode == pair.Sibling {
				extra = map[string]string{"icd10codes": ""}
				break
			}
		}

		if err := r.provider.RemoveModifiers(ctx, appointment.EncounterID, procedure.ServiceID, extra); err != nil {
			return errorOutcome(LateralityRuleID, patient, err)
		}
		removed = true
		lastCode = procedure.ProcedureCode
		if extra != nil {
			diagnosisReverted = true
		}
	}

	if !removed {
		return outcome(LateralityRuleID, patient, models.StatusConditionNotMet,
			"not eligible for rollback: no modifiers found to remove")
	}

	reason := fmt.Sprintf("modifiers removed from %s", lastCode)
	if diagnosisReverted {
		reason += " and diagnosis reverted"
	}
	return outcome(LateralityRuleID, patient, models.StatusChangesMade, reason)
}
