package httpapi

import (
	"net/http"

	"medsync/internal/service"

	"go.uber.org/zap"
)

// SyncHandler 同步触发 / 状态查询
type SyncHandler struct {
	engine *service.SyncEngine
	logger *zap.Logger
}

func NewSyncHandler(engine *service.SyncEngine, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{engine: engine, logger: logger}
}

// TriggerFullSync POST /sync/api/v1/sync/full
func (h *SyncHandler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.FullSync(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"result": result})
}

// TriggerIncrementalSync POST /sync/api/v1/sync/incremental
func (h *SyncHandler) TriggerIncrementalSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.IncrementalSync(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"result": result})
}

// GetStatus GET /sync/api/v1/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"status": status})
}
