package models

import (
	"fmt"
	"strings"
	"time"
)

// PatientCase identifies one patient appointment submitted to a run.
// Immutable input; the remote system is the source of truth for everything else.
type PatientCase struct {
	PatientID       string `json:"patientid"`
	AppointmentID   string `json:"appointmentid"`
	AppointmentDate string `json:"appointmentdate"` // MM/DD/YYYY, as the remote API reports it
	FirstName       string `json:"firstname"`
	LastName        string `json:"lastname"`
	DOB             string `json:"dob,omitempty"`
}

// Validate checks the fields required to locate the appointment remotely.
func (p PatientCase) Validate() error {
	if p.PatientID == "" {
		return fmt.Errorf("patient case missing patientid")
	}
	if p.AppointmentID == "" {
		return fmt.Errorf("patient case missing appointmentid")
	}
	if p.AppointmentDate == "" {
		return fmt.Errorf("patient case missing appointmentdate")
	}
	return nil
}

// FullName returns "First Last" for log lines and reports.
func (p PatientCase) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// AppointmentDate layout used by the remote health-records API.
const AppointmentDateLayout = "01/02/2006"

// ParseAppointmentDate parses the remote API's MM/DD/YYYY date format.
func ParseAppointmentDate(s string) (time.Time, error) {
	return time.Parse(AppointmentDateLayout, s)
}

// AppointmentDetail is the typed view of one booked appointment as returned
// by the remote case provider. Loosely-typed remote JSON is converted to
// this struct at the provider boundary.
type AppointmentDetail struct {
	AppointmentID          string  `json:"appointmentid"`
	PatientID              string  `json:"patientid"`
	EncounterID            string  `json:"encounterid"`
	Date                   string  `json:"date"` // MM/DD/YYYY
	EncounterStatus        string  `json:"encounterstatus"`
	ChargeEntryNotRequired bool    `json:"chargeentrynotrequired"`
	Claims                 []Claim `json:"claims"`
}

// Claim is a billing claim attached to an appointment. Only the presence of
// procedures matters to the rule engines.
type Claim struct {
	ClaimID    string   `json:"claimid"`
	Procedures []string `json:"procedures"`
}

// HasClaimProcedures reports whether any claim on the appointment carries at
// least one procedure.
func (a AppointmentDetail) HasClaimProcedures() bool {
	for _, c := range a.Claims {
		if len(c.Procedures) > 0 {
			return true
		}
	}
	return false
}

// ProcedureRecord is one service line on an encounter.
type ProcedureRecord struct {
	ProcedureCode string      `json:"procedurecode"`
	ServiceID     string      `json:"serviceid"`
	Modifiers     []string    `json:"modifiers,omitempty"`
	Diagnoses     []Diagnosis `json:"diagnoses,omitempty"`
}

// Diagnosis is a single ICD-10 code attached to a service line.
type Diagnosis struct {
	ICD10Code string `json:"icd10code"`
}
