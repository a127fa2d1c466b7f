package httpapi

import (
	"net/http"

	"glucowatch/internal/notifier"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler GET /ws?athleteId=
// 订阅某运动员的实时事件（glucose-update / dexcom-auth-error）
// 单向推送：入站消息全部丢弃，读循环只用于感知断开
type WSHandler struct {
	hub      *notifier.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler 创建 WSHandler
func NewWSHandler(hub *notifier.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 鉴权在网关层完成
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Register 挂载路由
func (h *WSHandler) Register(r *Router) {
	r.Handle("/ws", h)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	athleteID := r.URL.Query().Get("athleteId")
	if athleteID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("athleteId is required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
		return
	}

	h.hub.Register(athleteID, conn)
	defer func() {
		h.hub.Unregister(athleteID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
