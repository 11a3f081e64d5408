package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medofficehq/chargerules/internal/models"
)

// fakeProvider is an in-memory CaseProvider recording modifier writes.
type fakeProvider struct {
	appointment    *models.AppointmentDetail
	appointmentErr error
	services       []models.ProcedureRecord
	servicesErr    error
	applyErr       error
	removeErr      error

	applied []modifierCall
	removed []modifierCall
}

type modifierCall struct {
	EncounterID string
	ServiceID   string
	Modifiers   []string
	Extra       map[string]string
}

func (f *fakeProvider) FetchAppointment(ctx context.Context, patient models.PatientCase) (*models.AppointmentDetail, error) {
	return f.appointment, f.appointmentErr
}

func (f *fakeProvider) FetchServices(ctx context.Context, encounterID string) ([]models.ProcedureRecord, error) {
	return f.services, f.servicesErr
}

func (f *fakeProvider) ApplyModifiers(ctx context.Context, encounterID, serviceID string, modifiers []string, extra map[string]string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, modifierCall{EncounterID: encounterID, ServiceID: serviceID, Modifiers: modifiers, Extra: extra})
	return nil
}

func (f *fakeProvider) RemoveModifiers(ctx context.Context, encounterID, serviceID string, extra map[string]string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, modifierCall{EncounterID: encounterID, ServiceID: serviceID, Extra: extra})
	return nil
}

func testPatient() models.PatientCase {
	return models.PatientCase{
		PatientID:       "100",
		AppointmentID:   "200",
		AppointmentDate: "01/15/2020",
		FirstName:       "Jane",
		LastName:        "Doe",
	}
}

// openAppointment is a past-dated open encounter requiring charge entry.
func openAppointment() *models.AppointmentDetail {
	return &models.AppointmentDetail{
		AppointmentID:   "200",
		PatientID:       "100",
		EncounterID:     "enc-1",
		Date:            "01/15/2020",
		EncounterStatus: "OPEN",
	}
}

func TestRegistry_GetAndList(t *testing.T) {
	provider := &fakeProvider{}
	registry := DefaultRegistry(provider)

	engine, ok := registry.Get(MissingSlipRuleID)
	require.True(t, ok)
	assert.Equal(t, MissingSlipRuleID, engine.ID())

	_, ok = registry.Get(99)
	assert.False(t, ok)

	assert.Equal(t, []int{21, 22}, registry.IDs())

	infos := registry.List()
	require.Len(t, infos, 2)
	assert.Equal(t, 21, infos[0].ID)
	assert.NotEmpty(t, infos[0].Name)
}
