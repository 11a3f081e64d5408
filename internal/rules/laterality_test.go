package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medofficehq/chargerules/internal/models"
)

func TestModifierFromDiagnoses(t *testing.T) {
	cases := []struct {
		name      string
		diagnoses []models.Diagnosis
		modifier  string
		found     bool
	}{
		{"right side", []models.Diagnosis{{ICD10Code: "M511"}}, "RT", true},
		{"left side", []models.Diagnosis{{ICD10Code: "M512"}}, "LT", true},
		{"bilateral", []models.Diagnosis{{ICD10Code: "M170"}}, "50", true},
		{"first match wins", []models.Diagnosis{{ICD10Code: "M512"}, {ICD10Code: "M511"}}, "LT", true},
		{"non-M prefix skipped", []models.Diagnosis{{ICD10Code: "S511"}}, "", false},
		{"no side suffix", []models.Diagnosis{{ICD10Code: "M519"}}, "", false},
		{"empty", nil, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			modifier, found := ModifierFromDiagnoses(tc.diagnoses)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.modifier, modifier)
		})
	}
}

func TestLateralityRule_AppliesModifier(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73610", ServiceID: "svc-1", Diagnoses: []models.Diagnosis{{ICD10Code: "M511"}}},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusChangesMade, result.Status)
	assert.Equal(t, "modifier RT applied successfully", result.Reason)
	assert.Equal(t, "RT", result.ModifierAssigned)
	require.Len(t, provider.applied, 1)
	assert.Equal(t, []string{"RT"}, provider.applied[0].Modifiers)
}

func TestLateralityRule_ShoulderGetsExtraModifier59(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73030", ServiceID: "svc-1", Diagnoses: []models.Diagnosis{{ICD10Code: "M512"}}},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusChangesMade, result.Status)
	require.Len(t, provider.applied, 1)
	assert.Equal(t, []string{"LT", "59"}, provider.applied[0].Modifiers)
}

func TestLateralityRule_PairedProcedureGetsOppositeAndDiagnosis(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73564", ServiceID: "svc-1", Diagnoses: []models.Diagnosis{{ICD10Code: "M511"}}},
			{ProcedureCode: "73560", ServiceID: "svc-2"},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusChangesMade, result.Status)
	require.Len(t, provider.applied, 2)

	assert.Equal(t, "svc-1", provider.applied[0].ServiceID)
	assert.Equal(t, []string{"RT"}, provider.applied[0].Modifiers)

	assert.Equal(t, "svc-2", provider.applied[1].ServiceID)
	assert.Equal(t, []string{"LT"}, provider.applied[1].Modifiers)
	assert.Equal(t, map[string]string{"icd10codes": "Z0189"}, provider.applied[1].Extra)
}

func TestLateralityRule_BilateralDoesNotPair(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73564", ServiceID: "svc-1", Diagnoses: []models.Diagnosis{{ICD10Code: "M170"}}},
			{ProcedureCode: "73560", ServiceID: "svc-2"},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusChangesMade, result.Status)
	require.Len(t, provider.applied, 1)
	assert.Equal(t, []string{"50"}, provider.applied[0].Modifiers)
}

func TestLateralityRule_NoTargetProcedures(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "99213", ServiceID: "svc-1"},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusConditionNotMet, result.Status)
	assert.Equal(t, "no target procedure codes found", result.Reason)
}

func TestLateralityRule_NoMatchingDiagnosis(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73610", ServiceID: "svc-1", Diagnoses: []models.Diagnosis{{ICD10Code: "S123"}}},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusConditionNotMet, result.Status)
	assert.Equal(t, "no matching diagnosis codes found", result.Reason)
}

func TestLateralityRule_AlreadyExists(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73610", ServiceID: "svc-1", Modifiers: []string{"RT"}, Diagnoses: []models.Diagnosis{{ICD10Code: "M511"}}},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusConditionMetNoChange, result.Status)
	assert.Equal(t, "modifier RT already exists", result.Reason)
	assert.Empty(t, provider.applied)
}

func TestLateralityRule_NoAppointment(t *testing.T) {
	rule := NewLateralityRule(&fakeProvider{})

	result := rule.Run(context.Background(), testPatient(), true)

	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, "error: no appointment data found", result.Reason)
}

func TestLateralityRule_Rollback_ClearsModifiersAndRevertsDiagnosis(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73564", ServiceID: "svc-1", Modifiers: []string{"RT"}},
			{ProcedureCode: "73560", ServiceID: "svc-2", Modifiers: []string{"LT"}, Diagnoses: []models.Diagnosis{{ICD10Code: "Z0189"}}},
		},
	}
	rule := NewLateralityRule(provider)

	result := rule.Rollback(context.Background(), testPatient())

	assert.Equal(t, models.StatusChangesMade, result.Status)
	assert.Contains(t, result.Reason, "diagnosis reverted")
	require.Len(t, provider.removed, 2)

	assert.Nil(t, provider.removed[0].Extra)
	assert.Equal(t, map[string]string{"icd10codes": ""}, provider.removed[1].Extra)
}

func TestLateralityRule_Rollback_Idempotent(t *testing.T) {
	provider := &fakeProvider{
		appointment: openAppointment(),
		services: []models.ProcedureRecord{
			{ProcedureCode: "73610", ServiceID: "svc-1"},
		},
	}
	rule := NewLateralityRule(provider)

	first := rule.Rollback(context.Background(), testPatient())
	second := rule.Rollback(context.Background(), testPatient())

	assert.Equal(t, models.StatusConditionNotMet, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Empty(t, provider.removed)
}
