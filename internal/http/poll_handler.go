package httpapi

import (
	"context"
	"net/http"

	"glucowatch/internal/service"

	"go.uber.org/zap"
)

// Refresher 手动刷新入口（与自动轮询同一条执行路径）
type Refresher interface {
	PollAthlete(ctx context.Context, athleteID string) service.PipelineResult
}

// PollHandler POST /api/v1/poll/refresh
// 同步执行一次完整轮询；与定时触发碰撞时直接返回"进行中"，不排队
type PollHandler struct {
	poller Refresher
	logger *zap.Logger
}

// NewPollHandler 创建 PollHandler
func NewPollHandler(poller Refresher, logger *zap.Logger) *PollHandler {
	return &PollHandler{poller: poller, logger: logger}
}

// Register 挂载路由
func (h *PollHandler) Register(r *Router) {
	r.Handle("/api/v1/poll/refresh", h)
}

func (h *PollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		return
	}
	if _, ok := userIDFromReq(w, r); !ok {
		return
	}

	var req struct {
		AthleteID string `json:"athleteId"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.AthleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}

	result := h.poller.PollAthlete(r.Context(), req.AthleteID)
	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, Ok(toReadingResponse(result.Reading)))
	case result.NoNewData:
		writeJSON(w, http.StatusOK, Warn[any]("Dexcom has not updated yet, try again shortly", nil))
	case result.NeedsReauth:
		writeJSON(w, http.StatusOK, Reauth("dexcom connection expired, please reconnect"))
	case result.Error == "poll already in progress":
		writeJSON(w, http.StatusConflict, Fail(result.Error))
	default:
		h.logger.Warn("Manual refresh failed",
			zap.String("athlete_id", req.AthleteID),
			zap.String("error", result.Error),
		)
		writeJSON(w, http.StatusBadGateway, Fail(result.Error))
	}
}
