package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/ocuscan/internal/inference"
	"github.com/example/ocuscan/internal/repository"
	"github.com/example/ocuscan/internal/usecase"
)

type fakePatientStore struct {
	mu       sync.Mutex
	patients map[string]*repository.PatientRecord
	results  *fakeResultStore
	appended []string
}

func (f *fakePatientStore) Create(ctx context.Context, patient *repository.PatientRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	patient.ID = uint(len(f.patients) + 1)
	f.patients[patient.PatientID] = patient
	return nil
}

func (f *fakePatientStore) FindByPatientID(ctx context.Context, patientID string) (*repository.PatientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	patient, ok := f.patients[patientID]
	if !ok {
		return nil, repository.ErrPatientNotFound
	}
	return patient, nil
}

func (f *fakePatientStore) AppendPredictionReference(ctx context.Context, patientID uint, resultID string) (*repository.PatientRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, resultID)
	for _, patient := range f.patients {
		if patient.ID == patientID {
			updated := *patient
			for _, id := range f.appended {
				for _, result := range f.results.created {
					if result.ResultID == id {
						updated.Predictions = append(updated.Predictions, *result)
					}
				}
			}
			return &updated, nil
		}
	}
	return nil, repository.ErrPatientNotFound
}

type fakeResultStore struct {
	mu      sync.Mutex
	created []*repository.PredictionResult
}

func (f *fakeResultStore) Create(ctx context.Context, result *repository.PredictionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, result)
	return nil
}

func (f *fakeResultStore) FindByResultID(ctx context.Context, resultID string) (*repository.PredictionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, result := range f.created {
		if result.ResultID == resultID {
			return result, nil
		}
	}
	return nil, repository.ErrResultNotFound
}

func (f *fakeResultStore) AggregateScans(ctx context.Context) (*repository.ScanAggregation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agg := &repository.ScanAggregation{TotalCount: int64(len(f.created))}
	for _, result := range f.created {
		if result.Classification == repository.ClassificationMalignant {
			agg.MalignantCount++
		}
		if result.PatientRecordID == nil {
			agg.OrphanCount++
		}
	}
	return agg, nil
}

type missCache struct{}

func (missCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (missCache) Get(ctx context.Context, key string) (string, error) {
	return "", redis.Nil
}

type fakeClassifier struct {
	raw *inference.RawResponse
	err error
}

func (f *fakeClassifier) Classify(ctx context.Context, image []byte, contentType string) (*inference.RawResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.raw, nil
}

func intPtr(v int) *int { return &v }

func newTestRouter(t *testing.T, classifier inference.Client) (*gin.Engine, *fakePatientStore, *fakeResultStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	results := &fakeResultStore{}
	patients := &fakePatientStore{patients: make(map[string]*repository.PatientRecord), results: results}
	patients.patients["patient-1"] = &repository.PatientRecord{
		ID:          1,
		PatientID:   "patient-1",
		FullName:    "Jamie Doe",
		DateOfBirth: time.Date(1990, 4, 2, 0, 0, 0, 0, time.UTC),
		Gender:      "Female",
		PhoneNumber: "+1 555 0100",
		Address:     "12 Harbor St",
		EyeSide:     "Right",
	}

	uc := usecase.NewAnalyzeUseCase(patients, results, missCache{}, classifier, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc)
	return router, patients, results
}

func healthyClassifier() *fakeClassifier {
	return &fakeClassifier{raw: &inference.RawResponse{
		ClassificationPrediction:    intPtr(1),
		ClassificationProbabilities: []float64{0.25, 0.75},
		SegmentationShape:           []int{1, 1, 256, 256},
		Message:                     "Prediction successful",
	}}
}

func TestAnalyzeSuccessComposesResultAndHistory(t *testing.T) {
	router, _, results := newTestRouter(t, healthyClassifier())

	body, contentType := buildMultipartBody(t, "image/png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var payload struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Result  struct {
			ResultID       string    `json:"resultId"`
			Classification int       `json:"classification_prediction"`
			Probabilities  []float64 `json:"classification_probabilities"`
		} `json:"result"`
		User struct {
			PatientID         string                        `json:"patientId"`
			PredictionResults []repository.PredictionResult `json:"predictionResults"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))

	assert.True(t, payload.Success)
	assert.Equal(t, "Prediction successful", payload.Message)
	assert.Equal(t, 1, payload.Result.Classification)
	assert.Equal(t, []float64{0.25, 0.75}, payload.Result.Probabilities)
	assert.Equal(t, "patient-1", payload.User.PatientID)
	require.Len(t, payload.User.PredictionResults, 1)
	assert.Equal(t, payload.Result.ResultID, payload.User.PredictionResults[0].ResultID)
	assert.Len(t, results.created, 1)
}

func TestAnalyzeRequiresPatientID(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	body, contentType := buildMultipartBody(t, "image/png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "validation_error")
}

func TestAnalyzeRequiresFile(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", nil)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAnalyzeUnknownPatientReturns404(t *testing.T) {
	router, _, results := newTestRouter(t, healthyClassifier())

	body, contentType := buildMultipartBody(t, "image/png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=does-not-exist", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "not_found")
	assert.Empty(t, results.created)
}

func TestAnalyzeClassifierFailureReturns502(t *testing.T) {
	classifier := &fakeClassifier{err: &inference.UnavailableError{Cause: errors.New("timeout")}}
	router, _, results := newTestRouter(t, classifier)

	body, contentType := buildMultipartBody(t, "image/png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), "inference_unavailable")
	assert.Empty(t, results.created)
}

func TestAnalyzeMalformedClassifierPayloadReturns400(t *testing.T) {
	classifier := &fakeClassifier{raw: &inference.RawResponse{
		ClassificationPrediction:    intPtr(1),
		ClassificationProbabilities: []float64{1.0},
	}}
	router, _, results := newTestRouter(t, classifier)

	body, contentType := buildMultipartBody(t, "image/png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "validation_error")
	assert.Empty(t, results.created)
}

func TestAnalyzeRejectsLargeUpload(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestAnalyzeRejectsUnsupportedContentType(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	body, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/analyze?patientId=patient-1", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)
}

func TestCreatePatientAssignsIdentifierAndDefaults(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	payload := `{
		"fullName": "Robin Chen",
		"dateOfBirth": "1985-11-20",
		"gender": "Male",
		"phoneNumber": "+1 555 0101",
		"address": "4 Elm Ave",
		"eyeSide": "Both"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/patients", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)

	var body struct {
		Success bool                     `json:"success"`
		User    repository.PatientRecord `json:"user"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.User.PatientID)
	assert.Equal(t, "No", body.User.FamilyHistoryOfCancer)
}

func TestCreatePatientRejectsBadEnum(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	payload := `{
		"fullName": "Robin Chen",
		"dateOfBirth": "1985-11-20",
		"gender": "Unknown",
		"phoneNumber": "+1 555 0101",
		"address": "4 Elm Ave",
		"eyeSide": "Both"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/patients", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearchPatientRequiresQuery(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	req := httptest.NewRequest(http.MethodGet, "/api/patients/search", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSearchPatientNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t, healthyClassifier())

	req := httptest.NewRequest(http.MethodGet, "/api/patients/search?query=nobody", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestGetResultByID(t *testing.T) {
	router, _, results := newTestRouter(t, healthyClassifier())
	results.created = append(results.created, &repository.PredictionResult{
		ResultID:      "res-1",
		Probabilities: []float64{0.6, 0.4},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/results/res-1", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "res-1")
}

func TestScanSummaryCountsOrphans(t *testing.T) {
	router, _, results := newTestRouter(t, healthyClassifier())
	owner := uint(1)
	results.created = append(results.created,
		&repository.PredictionResult{ResultID: "res-1", Classification: repository.ClassificationMalignant, PatientRecordID: &owner},
		&repository.PredictionResult{ResultID: "res-2", Classification: repository.ClassificationBenign},
	)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/scans", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)

	var summary usecase.ScanSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &summary))
	assert.Equal(t, int64(2), summary.TotalScans)
	assert.Equal(t, int64(1), summary.MalignantScans)
	assert.Equal(t, int64(1), summary.OrphanedResults)
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan.png"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
