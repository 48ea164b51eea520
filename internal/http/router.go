package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSyncRoutes 注册同步管理路由
func (r *Router) RegisterSyncRoutes(h *SyncHandler) {
	r.Handle("/sync/api/v1/sync/full", requireMethod(http.MethodPost, h.TriggerFullSync))
	r.Handle("/sync/api/v1/sync/incremental", requireMethod(http.MethodPost, h.TriggerIncrementalSync))
	r.Handle("/sync/api/v1/sync/status", requireMethod(http.MethodGet, h.GetStatus))
}

// RegisterConflictRoutes 注册冲突管理路由
func (r *Router) RegisterConflictRoutes(h *ConflictHandler) {
	r.Handle("/sync/api/v1/conflicts", requireMethod(http.MethodGet, h.ListPending))
	r.Handle("/sync/api/v1/conflicts/statistics", requireMethod(http.MethodGet, h.Statistics))
	r.Handle("/sync/api/v1/conflicts/auto-resolve", requireMethod(http.MethodPost, h.AutoResolveAll))

	// conflicts/{id}/resolve | conflicts/{id}/escalate
	r.Handle("/sync/api/v1/conflicts/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/sync/api/v1/conflicts/")
		id, action, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch action {
		case "resolve":
			h.Resolve(w, req, id)
		case "escalate":
			h.Escalate(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterQuarantineRoutes 注册隔离区管理路由
func (r *Router) RegisterQuarantineRoutes(h *QuarantineHandler) {
	r.Handle("/sync/api/v1/quarantine", requireMethod(http.MethodGet, h.ListPending))
	r.Handle("/sync/api/v1/quarantine/statistics", requireMethod(http.MethodGet, h.Statistics))
	r.Handle("/sync/api/v1/quarantine/export", requireMethod(http.MethodGet, h.ExportExcel))

	// quarantine/{id}/approve | quarantine/{id}/reject
	r.Handle("/sync/api/v1/quarantine/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/sync/api/v1/quarantine/")
		id, action, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch action {
		case "approve":
			h.Approve(w, req, id)
		case "reject":
			h.Reject(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// RegisterQualityRoutes 注册数据质量 / CLIA 路由
func (r *Router) RegisterQualityRoutes(h *QualityHandler) {
	r.Handle("/sync/api/v1/quality/metrics", requireMethod(http.MethodGet, h.Metrics))
	r.Handle("/sync/api/v1/quality/clia", requireMethod(http.MethodGet, h.CLIAStatus))
	r.Handle("/sync/api/v1/quality/clia/validate", requireMethod(http.MethodPost, h.ValidateCLIABatch))
}

func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
