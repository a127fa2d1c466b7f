package domain

import "time"

// Message 家长/教练与运动员之间的消息（对应 messages 表）
type Message struct {
	// 主键
	MessageID string `db:"message_id"` // UUID, PRIMARY KEY

	// 收发双方
	SenderID   string `db:"sender_id"`   // UUID, NOT NULL
	ReceiverID string `db:"receiver_id"` // UUID, NOT NULL

	// 内容
	Content  string `db:"content"`   // TEXT, NOT NULL
	IsUrgent bool   `db:"is_urgent"` // BOOLEAN, DEFAULT false

	// 已读状态（运动员端更新）
	Read bool `db:"read"` // BOOLEAN, DEFAULT false

	// 时间戳
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}
