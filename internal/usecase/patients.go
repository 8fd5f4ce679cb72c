package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ocuscan/internal/repository"
)

// PatientIntake carries the fields submitted at patient registration.
// DateOfBirth accepts a plain date or a full RFC 3339 timestamp.
type PatientIntake struct {
	FullName              string `json:"fullName"`
	DateOfBirth           string `json:"dateOfBirth"`
	Gender                string `json:"gender"`
	PhoneNumber           string `json:"phoneNumber"`
	Address               string `json:"address"`
	FamilyHistoryOfCancer string `json:"familyHistoryOfCancer"`
	PreviousDiagnosis     string `json:"previousDiagnosis"`
	OngoingTreatments     string `json:"ongoingTreatments"`
	EyeSide               string `json:"eyeSide"`
}

// CreatePatient registers a new patient record, assigning its shareable
// identifier and applying clinical-field defaults.
func (uc *AnalyzeUseCase) CreatePatient(ctx context.Context, intake *PatientIntake) (*repository.PatientRecord, error) {
	dob, err := parseDateOfBirth(intake.DateOfBirth)
	if err != nil {
		return nil, &ValidationError{Reason: "dateOfBirth must be a date in YYYY-MM-DD or RFC 3339 form"}
	}

	patient := &repository.PatientRecord{
		PatientID:             uuid.NewString(),
		FullName:              intake.FullName,
		DateOfBirth:           dob,
		Gender:                intake.Gender,
		PhoneNumber:           intake.PhoneNumber,
		Address:               intake.Address,
		FamilyHistoryOfCancer: intake.FamilyHistoryOfCancer,
		PreviousDiagnosis:     intake.PreviousDiagnosis,
		OngoingTreatments:     intake.OngoingTreatments,
		EyeSide:               intake.EyeSide,
	}
	if patient.FamilyHistoryOfCancer == "" {
		patient.FamilyHistoryOfCancer = "No"
	}
	if err := patient.Validate(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}

	if err := uc.patients.Create(ctx, patient); err != nil {
		wrapped := &PersistenceError{Op: "patient.create", Cause: err}
		uc.logger.Error("failed to persist patient record", zap.Error(wrapped))
		return nil, wrapped
	}
	return patient, nil
}

// SearchPatient looks up a patient by its shareable identifier with the full
// scan history resolved.
func (uc *AnalyzeUseCase) SearchPatient(ctx context.Context, patientID string) (*repository.PatientRecord, error) {
	return uc.patients.FindByPatientID(ctx, patientID)
}

func parseDateOfBirth(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
