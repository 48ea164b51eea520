package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"medsync/internal/service"

	"go.uber.org/zap"
)

// QuarantineHandler 隔离区管理
type QuarantineHandler struct {
	quarantine *service.QuarantineService
	logger     *zap.Logger
}

func NewQuarantineHandler(quarantine *service.QuarantineService, logger *zap.Logger) *QuarantineHandler {
	return &QuarantineHandler{quarantine: quarantine, logger: logger}
}

// ListPending GET /sync/api/v1/quarantine
func (h *QuarantineHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	records, err := h.quarantine.ListPending(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"quarantined": records,
		"count":       len(records),
	})
}

// reviewRequest 复核请求体
type reviewRequest struct {
	ReviewerID string `json:"reviewerId"`
	Notes      string `json:"notes,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Approve POST /sync/api/v1/quarantine/{id}/approve
func (h *QuarantineHandler) Approve(w http.ResponseWriter, r *http.Request, quarantineID string) {
	var req reviewRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeFailure(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ReviewerID == "" {
		writeFailure(w, fmt.Errorf("reviewerId is required"))
		return
	}

	if err := h.quarantine.Approve(r.Context(), quarantineID, req.ReviewerID, req.Notes); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"quarantineId": quarantineID, "status": "approved"})
}

// Reject POST /sync/api/v1/quarantine/{id}/reject
func (h *QuarantineHandler) Reject(w http.ResponseWriter, r *http.Request, quarantineID string) {
	var req reviewRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeFailure(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ReviewerID == "" {
		writeFailure(w, fmt.Errorf("reviewerId is required"))
		return
	}

	if err := h.quarantine.Reject(r.Context(), quarantineID, req.ReviewerID, req.Reason); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"quarantineId": quarantineID, "status": "rejected"})
}

// Statistics GET /sync/api/v1/quarantine/statistics
func (h *QuarantineHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.quarantine.Statistics(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"statistics": stats})
}

// ExportExcel GET /sync/api/v1/quarantine/export
// 待复核隔离记录导出为 Excel（给复核人员线下走查）
func (h *QuarantineHandler) ExportExcel(w http.ResponseWriter, r *http.Request) {
	records, err := h.quarantine.ListPending(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	data, err := GenerateQuarantineExport(records)
	if err != nil {
		writeFailure(w, err)
		return
	}

	filename := fmt.Sprintf("quarantine-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("Failed to write quarantine export", zap.Error(err))
	}
}
