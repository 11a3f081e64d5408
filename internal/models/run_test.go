package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPatient() PatientCase {
	return PatientCase{
		PatientID:       "100",
		AppointmentID:   "200",
		AppointmentDate: "01/15/2026",
		FirstName:       "Jane",
		LastName:        "Doe",
	}
}

func TestRunRequest_Validate(t *testing.T) {
	valid := RunRequest{Rules: []int{21}, Patients: []PatientCase{validPatient()}}
	assert.NoError(t, valid.Validate())

	noRules := RunRequest{Patients: []PatientCase{validPatient()}}
	err := noRules.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rules specified in request")

	noPatients := RunRequest{Rules: []int{21}}
	err = noPatients.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no patients specified in request")

	badPatient := RunRequest{Rules: []int{21}, Patients: []PatientCase{{PatientID: "1"}}}
	err = badPatient.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "appointmentid")
}

func TestExecutionRun_Validate(t *testing.T) {
	run := ExecutionRun{ProjectID: "p1", ExecutionID: "e1"}
	assert.NoError(t, run.Validate())

	assert.Error(t, ExecutionRun{ExecutionID: "e1"}.Validate())
	assert.Error(t, ExecutionRun{ProjectID: "p1"}.Validate())
}

func TestArchiveRun(t *testing.T) {
	run := ExecutionRun{ProjectID: "p1", ExecutionID: "e1"}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	archived := ArchiveRun(run, at)

	assert.True(t, archived.Archived)
	require.NotNil(t, archived.ArchivedAt)
	assert.Equal(t, at, *archived.ArchivedAt)
	assert.False(t, run.Archived)
}

func TestParseAppointmentDate(t *testing.T) {
	parsed, err := ParseAppointmentDate("01/15/2026")
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, time.January, parsed.Month())
	assert.Equal(t, 15, parsed.Day())

	_, err = ParseAppointmentDate("2026-01-15")
	assert.Error(t, err)
}

func TestAppointmentDetail_HasClaimProcedures(t *testing.T) {
	none := AppointmentDetail{Claims: []Claim{{ClaimID: "c1"}}}
	assert.False(t, none.HasClaimProcedures())

	some := AppointmentDetail{Claims: []Claim{{ClaimID: "c1", Procedures: []string{"99213"}}}}
	assert.True(t, some.HasClaimProcedures())

	assert.False(t, AppointmentDetail{}.HasClaimProcedures())
}
