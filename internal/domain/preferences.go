package domain

import "time"

// 阈值默认值
const (
	DefaultLowThreshold  = 70.0
	DefaultHighThreshold = 180.0
)

// Preferences 用户阈值偏好（对应 preferences 表，首次访问时懒创建）
type Preferences struct {
	UserID        string    `db:"user_id"`        // UUID, PRIMARY KEY
	LowThreshold  float64   `db:"low_threshold"`  // NUMERIC, NOT NULL, DEFAULT 70
	HighThreshold float64   `db:"high_threshold"` // NUMERIC, NOT NULL, DEFAULT 180
	UpdatedAt     time.Time `db:"updated_at"`     // TIMESTAMPTZ, NOT NULL
}

// DefaultPreferences 默认偏好 {low:70, high:180}
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:        userID,
		LowThreshold:  DefaultLowThreshold,
		HighThreshold: DefaultHighThreshold,
	}
}
