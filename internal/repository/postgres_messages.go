package repository

import (
	"context"
	"database/sql"
	"fmt"

	"glucowatch/internal/domain"

	"github.com/google/uuid"
)

// PostgresMessagesRepository 消息Repository实现
type PostgresMessagesRepository struct {
	db *sql.DB
}

// NewPostgresMessagesRepository 创建消息Repository
func NewPostgresMessagesRepository(db *sql.DB) *PostgresMessagesRepository {
	return &PostgresMessagesRepository{db: db}
}

var _ MessagesRepository = (*PostgresMessagesRepository)(nil)

// CreateMessage 创建消息
func (r *PostgresMessagesRepository) CreateMessage(ctx context.Context, msg *domain.Message) (string, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}

	query := `
		INSERT INTO messages (message_id, sender_id, receiver_id, content, is_urgent, read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		msg.MessageID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.IsUrgent,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}
	return msg.MessageID, nil
}

// ListMessagesForUser 收件箱（按时间倒序，紧急消息优先）
func (r *PostgresMessagesRepository) ListMessagesForUser(ctx context.Context, userID string) ([]*domain.Message, error) {
	query := `
		SELECT message_id::text, sender_id::text, receiver_id::text, content, is_urgent, read, created_at
		FROM messages
		WHERE receiver_id = $1
		ORDER BY is_urgent DESC, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(
			&m.MessageID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.IsUrgent,
			&m.Read,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// MarkRead 标记已读（只允许接收方操作）
func (r *PostgresMessagesRepository) MarkRead(ctx context.Context, receiverID, messageID string) error {
	query := `UPDATE messages SET read = true WHERE message_id = $1 AND receiver_id = $2`

	result, err := r.db.ExecContext(ctx, query, messageID, receiverID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
