package notifier

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub WebSocket 连接注册表（按运动员分组）
// 进程内状态，启动时创建、关闭时清空；显式注入，不放在包级全局
type Hub struct {
	mu           sync.RWMutex
	conns        map[string]map[*websocket.Conn]bool // athleteID -> conns
	writeTimeout time.Duration
	logger       *zap.Logger
	closed       bool
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:        make(map[string]map[*websocket.Conn]bool),
		writeTimeout: 5 * time.Second,
		logger:       logger,
	}
}

// Register 注册连接
func (h *Hub) Register(athleteID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		conn.Close()
		return
	}
	if h.conns[athleteID] == nil {
		h.conns[athleteID] = make(map[*websocket.Conn]bool)
	}
	h.conns[athleteID][conn] = true
	h.logger.Debug("WebSocket client registered",
		zap.String("athlete_id", athleteID),
		zap.Int("subscribers", len(h.conns[athleteID])),
	)
}

// Unregister 注销连接（连接由调用方关闭）
func (h *Hub) Unregister(athleteID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[athleteID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, athleteID)
		}
	}
}

// Broadcast 向某运动员的全部订阅方广播；写失败或超时的连接直接剔除
// 写操作带截止时间：广播在持锁状态下从轮询周期同步调用，
// 一个滞塞的客户端不能把整个 Hub 和该运动员的轮询一起拖死
func (h *Hub) Broadcast(athleteID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[athleteID] {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("WebSocket write failed, dropping client",
				zap.String("athlete_id", athleteID),
				zap.Error(err),
			)
			conn.Close()
			delete(h.conns[athleteID], conn)
		}
	}
}

// SubscriberCount 某运动员当前订阅数
func (h *Hub) SubscriberCount(athleteID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[athleteID])
}

// Close 关闭全部连接并清空注册表（幂等）
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for athleteID, set := range h.conns {
		for conn := range set {
			conn.Close()
		}
		delete(h.conns, athleteID)
	}
}
