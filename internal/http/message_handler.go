package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/repository"
	"glucowatch/internal/service"

	"go.uber.org/zap"
)

type messageResponse struct {
	MessageID  string    `json:"messageId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsUrgent   bool      `json:"isUrgent"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toMessageResponse(m *domain.Message) *messageResponse {
	return &messageResponse{
		MessageID:  m.MessageID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		IsUrgent:   m.IsUrgent,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

// MessageHandler 消息端点
//   - POST /api/v1/messages            发送（家长/教练 → 运动员）
//   - GET  /api/v1/messages            收件箱
//   - POST /api/v1/messages/{id}/read  标记已读
type MessageHandler struct {
	messages *service.MessageService
	logger   *zap.Logger
}

// NewMessageHandler 创建 MessageHandler
func NewMessageHandler(messages *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, logger: logger}
}

// Register 挂载路由
func (h *MessageHandler) Register(r *Router) {
	r.Handle("/api/v1/messages", h)
	r.Handle("/api/v1/messages/", h)
}

func (h *MessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/messages")

	switch {
	case path == "" || path == "/":
		switch r.Method {
		case http.MethodPost:
			h.send(w, r)
		case http.MethodGet:
			h.inbox(w, r)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method not allowed"))
		}
	case strings.HasSuffix(path, "/read") && r.Method == http.MethodPost:
		messageID := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/read")
		h.markRead(w, r, messageID)
	default:
		writeJSON(w, http.StatusNotFound, Fail("not found"))
	}
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}

	var req struct {
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
		Urgent     bool   `json:"urgent"`
	}
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	msg, err := h.messages.Send(r.Context(), userID, req.ReceiverID, req.Content, req.Urgent)
	if err != nil {
		if service.IsValidation(err) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("Failed to send message",
			zap.String("sender_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to send message"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toMessageResponse(msg)))
}

func (h *MessageHandler) inbox(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	if q := r.URL.Query().Get("userId"); q != "" {
		userID = q
	}

	msgs, err := h.messages.Inbox(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list messages",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list messages"))
		return
	}

	items := make([]*messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		items = append(items, toMessageResponse(msg))
	}
	writeJSON(w, http.StatusOK, Ok(items))
}

func (h *MessageHandler) markRead(w http.ResponseWriter, r *http.Request, messageID string) {
	userID, ok := userIDFromReq(w, r)
	if !ok {
		return
	}
	if messageID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("message ID is required"))
		return
	}

	if err := h.messages.MarkRead(r.Context(), userID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, Fail("message not found"))
			return
		}
		h.logger.Error("Failed to mark message read",
			zap.String("message_id", messageID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to mark message read"))
		return
	}
	writeJSON(w, http.StatusOK, Ok[any](nil))
}
