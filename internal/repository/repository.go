package repository

import (
	"context"
	"errors"
	"time"

	"glucowatch/internal/domain"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// UsersRepository 用户Repository接口
type UsersRepository interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) (string, error)

	// FindAthletes 返回全部可轮询目标（role=ATHLETE）
	FindAthletes(ctx context.Context) ([]*domain.User, error)

	// 家长-运动员关联
	LinkParentAthlete(ctx context.Context, parentID, athleteID string) error
	ListParentsOfAthlete(ctx context.Context, athleteID string) ([]*domain.User, error)
	ListAthletesOfParent(ctx context.Context, parentID string) ([]*domain.User, error)
}

// TokensRepository Dexcom token Repository接口
// token 按 (parent_id, athlete_id) 归属，Save 覆盖该归属下的当前 token
type TokensRepository interface {
	GetCurrentToken(ctx context.Context, parentID, athleteID string) (*domain.Token, error)
	GetCurrentTokenForAthlete(ctx context.Context, athleteID string) (*domain.Token, error)
	SaveToken(ctx context.Context, token *domain.Token) error
	DeleteToken(ctx context.Context, parentID, athleteID string) error
}

// ReadingsRepository 血糖读数Repository接口
type ReadingsRepository interface {
	// GetMostRecentReading 按运动员+来源取最近一条读数（去重判定用）
	GetMostRecentReading(ctx context.Context, athleteID string, source domain.ReadingSource) (*domain.Reading, error)

	// CreateReading 持久化读数（分类结果内联，单行原子写入）
	CreateReading(ctx context.Context, reading *domain.Reading) (string, error)

	ListReadings(ctx context.Context, athleteID string, since time.Time) ([]*domain.Reading, error)

	// AcknowledgeReading 运动员确认 LOW 读数
	AcknowledgeReading(ctx context.Context, athleteID, readingID string, at time.Time) error
}

// PreferencesRepository 阈值偏好Repository接口
type PreferencesRepository interface {
	// GetPreferences 不存在时返回 ErrNotFound，由上层回退默认值并懒创建
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	SavePreferences(ctx context.Context, prefs *domain.Preferences) error
}

// MessagesRepository 消息Repository接口
type MessagesRepository interface {
	CreateMessage(ctx context.Context, msg *domain.Message) (string, error)
	ListMessagesForUser(ctx context.Context, userID string) ([]*domain.Message, error)
	MarkRead(ctx context.Context, receiverID, messageID string) error
}
