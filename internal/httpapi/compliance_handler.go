package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"medtrack-compliance/internal/models"
	"medtrack-compliance/internal/monitor"
	"medtrack-compliance/internal/repository"
	"medtrack-compliance/internal/sweeper"
)

// ComplianceService what the handler needs from the service layer.
type ComplianceService interface {
	ListenerState() monitor.State
	SweepRunning() bool
	RunSweep(ctx context.Context) (sweeper.Result, error)
	Summary(ctx context.Context, patientID string, days int) (*models.ComplianceSummary, error)
	Records(ctx context.Context, patientID string, limit, offset int) ([]models.ComplianceRecord, int, error)
	ClassifyEvent(ctx context.Context, eventID string) (*models.ComplianceRecord, bool, error)
	TestClassifier(ctx context.Context) string
}

// ComplianceHandler HTTP handlers for the compliance endpoints.
type ComplianceHandler struct {
	service ComplianceService
	logger  *zap.Logger
}

func NewComplianceHandler(service ComplianceService, logger *zap.Logger) *ComplianceHandler {
	return &ComplianceHandler{
		service: service,
		logger:  logger,
	}
}

// StatusResponse listener/sweeper health.
type StatusResponse struct {
	Active        bool          `json:"active"`
	ListenerState monitor.State `json:"listener_state"`
	SweepRunning  bool          `json:"sweep_running"`
}

// GetStatus GET /compliance/status
func (h *ComplianceHandler) GetStatus(w http.ResponseWriter, req *http.Request) {
	state := h.service.ListenerState()
	writeJSON(w, http.StatusOK, Ok(StatusResponse{
		Active:        state == monitor.StateActive,
		ListenerState: state,
		SweepRunning:  h.service.SweepRunning(),
	}))
}

// TriggerSweep POST /compliance/sweep
func (h *ComplianceHandler) TriggerSweep(w http.ResponseWriter, req *http.Request) {
	result, err := h.service.RunSweep(req.Context())
	if err != nil {
		if errors.Is(err, sweeper.ErrSweepInProgress) {
			writeJSON(w, http.StatusConflict, Fail("sweep already in progress"))
			return
		}
		h.logger.Error("Manual sweep failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("sweep failed"))
		return
	}

	h.logger.Info("Manual sweep complete",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	writeJSON(w, http.StatusOK, Ok(result))
}

// SummaryResponse aggregate plus the most recent records for display.
type SummaryResponse struct {
	Summary *models.ComplianceSummary `json:"summary"`
	Recent  []models.ComplianceRecord `json:"recent"`
}

// GetSummary GET /compliance/summary/{patientId}?days=N
func (h *ComplianceHandler) GetSummary(w http.ResponseWriter, req *http.Request, patientID string) {
	days := 7
	if v := req.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			writeJSON(w, http.StatusBadRequest, Fail("days must be an integer between 1 and 365"))
			return
		}
		days = n
	}

	summary, err := h.service.Summary(req.Context(), patientID, days)
	if err != nil {
		h.logger.Error("Failed to build compliance summary",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to build compliance summary"))
		return
	}

	recent, _, err := h.service.Records(req.Context(), patientID, 10, 0)
	if err != nil {
		h.logger.Error("Failed to load recent compliance records",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load recent records"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(SummaryResponse{
		Summary: summary,
		Recent:  recent,
	}))
}

// RecordsResponse paginated record listing.
type RecordsResponse struct {
	Records []models.ComplianceRecord `json:"records"`
	Total   int                       `json:"total"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
	HasMore bool                      `json:"has_more"`
}

// GetRecords GET /compliance/records/{patientId}?limit=&offset=
func (h *ComplianceHandler) GetRecords(w http.ResponseWriter, req *http.Request, patientID string) {
	limit := parseQueryInt(req, "limit", 50)
	offset := parseQueryInt(req, "offset", 0)

	records, total, err := h.service.Records(req.Context(), patientID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list compliance records",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list compliance records"))
		return
	}

	if records == nil {
		records = []models.ComplianceRecord{}
	}

	writeJSON(w, http.StatusOK, Ok(RecordsResponse{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(records) < total,
	}))
}

// ExportRecords GET /compliance/records/{patientId}/export
func (h *ComplianceHandler) ExportRecords(w http.ResponseWriter, req *http.Request, patientID string) {
	// Export caps at 500 rows per request, same as the list endpoint.
	records, _, err := h.service.Records(req.Context(), patientID, 500, parseQueryInt(req, "offset", 0))
	if err != nil {
		h.logger.Error("Failed to load records for export",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load records for export"))
		return
	}

	data, err := GenerateComplianceExport(records)
	if err != nil {
		h.logger.Error("Failed to generate export file",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export file"))
		return
	}

	filename := fmt.Sprintf("compliance-%s-%s.xlsx", patientID, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ClassifyResponse on-demand classification result.
type ClassifyResponse struct {
	Record *models.ComplianceRecord `json:"record"`
	IsNew  bool                     `json:"is_new"`
}

// ClassifyEvent POST /compliance/classify/{eventId}
func (h *ComplianceHandler) ClassifyEvent(w http.ResponseWriter, req *http.Request, eventID string) {
	record, isNew, err := h.service.ClassifyEvent(req.Context(), eventID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("intake event not found"))
			return
		}
		if errors.Is(err, monitor.ErrEventIncomplete) {
			writeJSON(w, http.StatusBadRequest, Fail("intake event is missing scheduled time, actual time, or action"))
			return
		}
		h.logger.Error("Failed to classify intake event",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to classify intake event"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(ClassifyResponse{
		Record: record,
		IsNew:  isNew,
	}))
}

// TestClassifier GET /compliance/classifier/test
// Round-trips a synthetic on-time sample and reports which method answered.
func (h *ComplianceHandler) TestClassifier(w http.ResponseWriter, req *http.Request) {
	method := h.service.TestClassifier(req.Context())
	writeJSON(w, http.StatusOK, Ok(map[string]string{
		"method":    method,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}))
}

func parseQueryInt(req *http.Request, key string, defaultValue int) int {
	if v := req.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
