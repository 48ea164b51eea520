package httpapi

import (
	"net/http"
	"time"
)

// 管理端响应信封：{success, ..., timestamp}
// 失败统一 HTTP 500 + {success:false, error, timestamp}

// writeSuccess 成功响应；fields 平铺进信封
func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := map[string]any{
		"success":   true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeFailure 失败响应
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success":   false,
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
