package httpapi

import (
	"fmt"
	"net/http"

	"medsync/internal/domain"
	"medsync/internal/service"

	"go.uber.org/zap"
)

// ConflictHandler 冲突管理
type ConflictHandler struct {
	resolver *service.ConflictResolver
	logger   *zap.Logger
}

func NewConflictHandler(resolver *service.ConflictResolver, logger *zap.Logger) *ConflictHandler {
	return &ConflictHandler{resolver: resolver, logger: logger}
}

// ListPending GET /sync/api/v1/conflicts
func (h *ConflictHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.resolver.ListPending(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// resolveRequest 冲突解决请求体
type resolveRequest struct {
	Strategy     string        `json:"strategy"`
	ResolvedBy   string        `json:"resolvedBy"`
	ResolvedData domain.Record `json:"resolvedData,omitempty"` // manual 策略用
	Note         string        `json:"note,omitempty"`
}

// Resolve POST /sync/api/v1/conflicts/{id}/resolve
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request, conflictID string) {
	var req resolveRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeFailure(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}

	resolution, err := h.resolver.Resolve(r.Context(), conflictID, req.Strategy, req.ResolvedData, req.ResolvedBy, req.Note)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"resolvedData": resolution.ResolvedData,
		"auditLog":     resolution.AuditEntry,
	})
}

// escalateRequest 冲突升级请求体
type escalateRequest struct {
	Reason      string `json:"reason"`
	EscalatedBy string `json:"escalatedBy"`
}

// Escalate POST /sync/api/v1/conflicts/{id}/escalate
func (h *ConflictHandler) Escalate(w http.ResponseWriter, r *http.Request, conflictID string) {
	var req escalateRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeFailure(w, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.EscalatedBy == "" {
		req.EscalatedBy = "operator"
	}

	if err := h.resolver.Escalate(r.Context(), conflictID, req.Reason, req.EscalatedBy); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"conflictId": conflictID, "status": domain.ConflictEscalated})
}

// Statistics GET /sync/api/v1/conflicts/statistics
func (h *ConflictHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.resolver.Statistics(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"statistics": stats})
}

// AutoResolveAll POST /sync/api/v1/conflicts/auto-resolve
func (h *ConflictHandler) AutoResolveAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.resolver.AutoResolveAll(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"resolved": result.Resolved,
		"failed":   result.Failed,
	})
}
