package service

import (
	"context"
	"fmt"
	"strings"

	"glucowatch/internal/domain"
	"glucowatch/internal/repository"

	"go.uber.org/zap"
)

// MessageService 家长/教练与运动员之间的消息
type MessageService struct {
	messages repository.MessagesRepository
	users    repository.UsersRepository
	logger   *zap.Logger
}

// NewMessageService 创建 MessageService
func NewMessageService(messages repository.MessagesRepository, users repository.UsersRepository, logger *zap.Logger) *MessageService {
	return &MessageService{messages: messages, users: users, logger: logger}
}

// Send 发送消息（家长/教练/管理员 → 运动员；角色检查穷举匹配）
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, content string, urgent bool) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "required"}
	}
	if receiverID == "" {
		return nil, &ValidationError{Field: "receiverId", Reason: "required"}
	}

	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sender: %w", err)
	}
	if !sender.Role.CanSendMessage() {
		return nil, &ValidationError{Field: "senderId", Reason: "athletes cannot send messages"}
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    strings.TrimSpace(content),
		IsUrgent:   urgent,
	}
	if _, err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	s.logger.Info("Message sent",
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
		zap.Bool("is_urgent", urgent),
	)
	return msg, nil
}

// Inbox 收件箱
func (s *MessageService) Inbox(ctx context.Context, userID string) ([]*domain.Message, error) {
	return s.messages.ListMessagesForUser(ctx, userID)
}

// MarkRead 标记已读（只允许接收方）
func (s *MessageService) MarkRead(ctx context.Context, userID, messageID string) error {
	return s.messages.MarkRead(ctx, userID, messageID)
}
