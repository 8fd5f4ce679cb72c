package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/ocuscan/internal/inference"
	"github.com/example/ocuscan/internal/repository"
	"github.com/example/ocuscan/internal/usecase"
)

// MaxUploadSize bounds the accepted scan image size.
const MaxUploadSize = 10 << 20

// Error kinds exposed in failure responses.
const (
	kindValidation  = "validation_error"
	kindNotFound    = "not_found"
	kindInference   = "inference_unavailable"
	kindPersistence = "persistence_error"
)

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalyzeUseCase) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/analyze", func(c *gin.Context) {
		patientID := c.Query("patientId")
		if patientID == "" {
			patientID = c.PostForm("patientId")
		}
		if patientID == "" {
			writeFailure(c, http.StatusBadRequest, kindValidation, "patientId is required")
			return
		}

		file, err := c.FormFile("file")
		if err != nil {
			writeFailure(c, http.StatusBadRequest, kindValidation, "image file is required")
			return
		}
		if file.Size > MaxUploadSize {
			writeFailure(c, http.StatusRequestEntityTooLarge, kindValidation, "image exceeds upload size limit")
			return
		}
		contentType := file.Header.Get("Content-Type")
		if contentType == "" {
			writeFailure(c, http.StatusBadRequest, kindValidation, "image media type must be declared")
			return
		}
		if !strings.HasPrefix(contentType, "image/") {
			writeFailure(c, http.StatusUnsupportedMediaType, kindValidation, "only image uploads are supported")
			return
		}

		src, err := file.Open()
		if err != nil {
			writeFailure(c, http.StatusBadRequest, kindValidation, "unable to open image")
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			writeFailure(c, http.StatusInternalServerError, kindPersistence, "failed to read image")
			return
		}
		if len(data) == 0 {
			writeFailure(c, http.StatusBadRequest, kindValidation, "image file is empty")
			return
		}

		result, patient, err := uc.Analyze(c.Request.Context(), patientID, data, contentType)
		if err != nil {
			writeError(c, err)
			return
		}

		message := result.Message
		if message == "" {
			message = "analysis complete"
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": message,
			"result":  result,
			"user":    patient,
		})
	})

	router.POST("/api/patients", func(c *gin.Context) {
		var intake usecase.PatientIntake
		if err := c.ShouldBindJSON(&intake); err != nil {
			writeFailure(c, http.StatusBadRequest, kindValidation, "invalid patient payload")
			return
		}

		patient, err := uc.CreatePatient(c.Request.Context(), &intake)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "user": patient})
	})

	router.GET("/api/patients/search", func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			writeFailure(c, http.StatusBadRequest, kindValidation, "query parameter is required")
			return
		}

		patient, err := uc.SearchPatient(c.Request.Context(), query)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, patient)
	})

	router.GET("/api/results/:id", func(c *gin.Context) {
		result, err := uc.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	router.GET("/api/metrics/scans", func(c *gin.Context) {
		summary, err := uc.GetScanSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// writeError maps internal error kinds to HTTP responses. This is the single
// boundary where pipeline failures become status codes.
func writeError(c *gin.Context, err error) {
	var validationErr *usecase.ValidationError
	var unavailableErr *inference.UnavailableError
	var persistenceErr *usecase.PersistenceError

	switch {
	case errors.Is(err, repository.ErrPatientNotFound):
		writeFailure(c, http.StatusNotFound, kindNotFound, "patient not found")
	case errors.Is(err, repository.ErrResultNotFound):
		writeFailure(c, http.StatusNotFound, kindNotFound, "prediction result not found")
	case errors.As(err, &validationErr):
		writeFailure(c, http.StatusBadRequest, kindValidation, validationErr.Reason)
	case errors.As(err, &unavailableErr):
		writeFailure(c, http.StatusBadGateway, kindInference, "classifier service unavailable")
	case errors.As(err, &persistenceErr):
		writeFailure(c, http.StatusInternalServerError, kindPersistence, "failed to persist analysis")
	default:
		writeFailure(c, http.StatusInternalServerError, kindPersistence, "internal error")
	}
}

func writeFailure(c *gin.Context, status int, kind, message string) {
	c.JSON(status, gin.H{"success": false, "error": kind, "message": message})
}
