package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrPatientNotFound is returned when no record matches the given patient id.
var ErrPatientNotFound = errors.New("patient not found")

// ErrResultNotFound is returned when no prediction result matches the given id.
var ErrResultNotFound = errors.New("prediction result not found")

var validGenders = map[string]bool{"Male": true, "Female": true, "Other": true}
var validEyeSides = map[string]bool{"Left": true, "Right": true, "Both": true}

// PatientRecord is a patient intake record. The externally shareable PatientID
// is assigned once at intake and never changes; the only mutation performed by
// the analyze flow is associating new prediction results.
type PatientRecord struct {
	ID                    uint               `gorm:"primaryKey" json:"-"`
	PatientID             string             `gorm:"column:patient_id;uniqueIndex;size:64" json:"patientId"`
	FullName              string             `gorm:"column:full_name;size:255" json:"fullName"`
	DateOfBirth           time.Time          `gorm:"column:date_of_birth" json:"dateOfBirth"`
	Gender                string             `gorm:"column:gender;size:16" json:"gender"`
	PhoneNumber           string             `gorm:"column:phone_number;size:32" json:"phoneNumber"`
	Address               string             `gorm:"column:address;type:text" json:"address"`
	FamilyHistoryOfCancer string             `gorm:"column:family_history_of_cancer;type:text;default:No" json:"familyHistoryOfCancer"`
	PreviousDiagnosis     string             `gorm:"column:previous_diagnosis;type:text" json:"previousDiagnosis"`
	OngoingTreatments     string             `gorm:"column:ongoing_treatments;type:text" json:"ongoingTreatments"`
	EyeSide               string             `gorm:"column:eye_side;size:8" json:"eyeSide"`
	Predictions           []PredictionResult `gorm:"foreignKey:PatientRecordID" json:"predictionResults"`
	CreatedAt             time.Time          `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt             time.Time          `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName overrides the default table name.
func (PatientRecord) TableName() string {
	return "patient_records"
}

// Validate checks the intake invariants: required demographics present and
// enum fields within range.
func (p *PatientRecord) Validate() error {
	switch {
	case p.PatientID == "":
		return errors.New("patientId is required")
	case p.FullName == "":
		return errors.New("fullName is required")
	case p.DateOfBirth.IsZero():
		return errors.New("dateOfBirth is required")
	case p.PhoneNumber == "":
		return errors.New("phoneNumber is required")
	case p.Address == "":
		return errors.New("address is required")
	}
	if !validGenders[p.Gender] {
		return fmt.Errorf("gender must be one of Male, Female, Other; got %q", p.Gender)
	}
	if !validEyeSides[p.EyeSide] {
		return fmt.Errorf("eyeSide must be one of Left, Right, Both; got %q", p.EyeSide)
	}
	return nil
}

// PatientRepository provides persistence APIs for patient records.
type PatientRepository struct {
	db *gorm.DB
}

// NewPatientRepository creates a new repository instance.
func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// AutoMigrate ensures the patient schema is available.
func (r *PatientRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&PatientRecord{})
}

// Create persists a new patient record.
func (r *PatientRepository) Create(ctx context.Context, patient *PatientRecord) error {
	if patient.FamilyHistoryOfCancer == "" {
		patient.FamilyHistoryOfCancer = "No"
	}
	return r.db.WithContext(ctx).Create(patient).Error
}

// FindByPatientID retrieves a patient with its prediction history resolved in
// chronological order.
func (r *PatientRepository) FindByPatientID(ctx context.Context, patientID string) (*PatientRecord, error) {
	var patient PatientRecord
	err := r.db.WithContext(ctx).
		Preload("Predictions", func(db *gorm.DB) *gorm.DB {
			return db.Order("prediction_results.created_at ASC, prediction_results.id ASC")
		}).
		First(&patient, "patient_id = ?", patientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &patient, nil
}

// AppendPredictionReference associates an already-persisted prediction result
// with a patient. The association is a single-row update keyed by the result's
// unique id, so two concurrent appends for the same patient each touch their
// own row and neither can overwrite the other. Returns the patient re-read
// with its full ordered history.
func (r *PatientRepository) AppendPredictionReference(ctx context.Context, patientID uint, resultID string) (*PatientRecord, error) {
	res := r.db.WithContext(ctx).
		Model(&PredictionResult{}).
		Where("result_id = ?", resultID).
		Update("patient_record_id", patientID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrResultNotFound
	}

	var patient PatientRecord
	err := r.db.WithContext(ctx).
		Preload("Predictions", func(db *gorm.DB) *gorm.DB {
			return db.Order("prediction_results.created_at ASC, prediction_results.id ASC")
		}).
		First(&patient, "id = ?", patientID).Error
	if err != nil {
		return nil, err
	}
	return &patient, nil
}
