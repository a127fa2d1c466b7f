package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"glucowatch/internal/store"

	"go.uber.org/zap"
)

// StatusHandler GET /api/v1/status/{athleteID}
// 读取 notifier 写入的最新状态缓存；未命中说明近期没有读数
type StatusHandler struct {
	kv        store.KV
	keyPrefix string
	keySuffix string
	logger    *zap.Logger
}

// NewStatusHandler 创建 StatusHandler
func NewStatusHandler(kv store.KV, keyPrefix, keySuffix string, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{kv: kv, keyPrefix: keyPrefix, keySuffix: keySuffix, logger: logger}
}

// Register 挂载路由
func (h *StatusHandler) Register(r *Router) {
	r.Handle("/api/v1/status/", h)
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	athleteID := strings.TrimPrefix(r.URL.Path, "/api/v1/status/")
	if athleteID == "" || strings.Contains(athleteID, "/") {
		writeJSON(w, http.StatusBadRequest, Fail("athlete ID is required"))
		return
	}

	val, err := h.kv.Get(r.Context(), h.keyPrefix+athleteID+h.keySuffix)
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			writeJSON(w, http.StatusNotFound, Fail("no recent status"))
			return
		}
		h.logger.Error("Failed to read status cache",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to read status"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(json.RawMessage(val)))
}
