package httpapi

import (
	"net/http"
	"time"

	"glucowatch/internal/service"

	"go.uber.org/zap"
)

// WebhookHandler POST /api/v1/webhook/readings
// 外部推送读数入口：跳过 token/fetch，直接进入去重/分类/持久化/通知管线
type WebhookHandler struct {
	readings *service.ReadingService
	logger   *zap.Logger
}

// NewWebhookHandler 创建 WebhookHandler
func NewWebhookHandler(readings *service.ReadingService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{readings: readings, logger: logger}
}

// Register 挂载路由
func (h *WebhookHandler) Register(r *Router) {
	r.Handle("/api/v1/webhook/readings", h)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}

	var req struct {
		AthleteID  string  `json:"athleteId"`
		Value      float64 `json:"value"`
		Unit       string  `json:"unit"`
		RecordedAt string  `json:"recordedAt"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	var recordedAt time.Time
	if req.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, req.RecordedAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid recordedAt: expected RFC3339"))
			return
		}
		recordedAt = t
	}

	result, err := h.readings.WebhookEntry(r.Context(), req.AthleteID, req.Value, req.Unit, recordedAt)
	if err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("Webhook ingest failed",
			zap.String("athlete_id", req.AthleteID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to ingest reading"))
		return
	}

	if result.NoNewData {
		writeJSON(w, http.StatusOK, Warn[any]("duplicate reading ignored", nil))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toReadingResponse(result.Reading)))
}
