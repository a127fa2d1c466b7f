package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"glucowatch/internal/config"
	"glucowatch/internal/domain"
	"glucowatch/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 事件类型（与前端约定一致）
const (
	EventGlucoseUpdate = "glucose-update"
	EventAuthError     = "dexcom-auth-error"
)

// GlucoseEvent 推送给已连接客户端的事件
type GlucoseEvent struct {
	Type      string          `json:"type"`
	AthleteID string          `json:"athleteId"`
	Reading   *ReadingPayload `json:"reading,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ReadingPayload 事件中携带的读数
type ReadingPayload struct {
	ReadingID  string    `json:"readingId"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Notifier 通知发布接口（轮询管线的发布端）
type Notifier interface {
	GlucoseUpdate(ctx context.Context, athleteID string, reading *domain.Reading) error
	AuthError(ctx context.Context, athleteID string, message string) error
}

// Broadcaster 组合发布器：
//   - Redis KV 最新状态缓存（状态显示端点读取）
//   - Redis Streams 事件流（跨进程订阅方）
//   - WebSocket Hub 广播（已连接客户端）
//   - MQTT 发布（专用显示设备，可选）
type Broadcaster struct {
	cfg         *config.Config
	kv          store.KV
	redisClient *redis.Client
	hub         *Hub
	mqtt        *MQTTPublisher // nil 表示未启用
	logger      *zap.Logger
}

// NewBroadcaster 创建组合发布器
func NewBroadcaster(cfg *config.Config, kv store.KV, redisClient *redis.Client, hub *Hub, mqtt *MQTTPublisher, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		cfg:         cfg,
		kv:          kv,
		redisClient: redisClient,
		hub:         hub,
		mqtt:        mqtt,
		logger:      logger,
	}
}

var _ Notifier = (*Broadcaster)(nil)

// GlucoseUpdate 发布新读数事件
func (b *Broadcaster) GlucoseUpdate(ctx context.Context, athleteID string, reading *domain.Reading) error {
	event := GlucoseEvent{
		Type:      EventGlucoseUpdate,
		AthleteID: athleteID,
		Reading: &ReadingPayload{
			ReadingID:  reading.ReadingID,
			Value:      reading.Value,
			Unit:       reading.Unit,
			Status:     string(reading.Status),
			Source:     string(reading.Source),
			RecordedAt: reading.RecordedAt,
		},
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal glucose event: %w", err)
	}

	// 1. 最新状态写入 KV（显示端点轮询读取）
	key := b.latestKey(athleteID)
	if err := b.kv.Set(ctx, key, string(payload), b.cfg.Cache.LatestTTL); err != nil {
		b.logger.Warn("Failed to cache latest status",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}

	// 2. 事件流（跨进程订阅方）
	if b.redisClient != nil {
		if err := b.redisClient.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Cache.EventStream,
			Values: map[string]interface{}{
				"type":       EventGlucoseUpdate,
				"athlete_id": athleteID,
				"payload":    string(payload),
			},
		}).Err(); err != nil {
			b.logger.Warn("Failed to publish event to stream",
				zap.String("athlete_id", athleteID),
				zap.Error(err),
			)
		}
	}

	// 3. WebSocket 广播
	if b.hub != nil {
		b.hub.Broadcast(athleteID, payload)
	}

	// 4. MQTT 发布（retained，新上线设备立即拿到最近状态）
	if b.mqtt != nil {
		if err := b.mqtt.PublishStatus(athleteID, payload); err != nil {
			b.logger.Warn("Failed to publish status to MQTT",
				zap.String("athlete_id", athleteID),
				zap.Error(err),
			)
		}
	}

	b.logger.Info("Glucose update published",
		zap.String("athlete_id", athleteID),
		zap.String("status", string(reading.Status)),
		zap.Float64("value", reading.Value),
		zap.String("source", string(reading.Source)),
	)
	return nil
}

// AuthError 发布重新授权提示事件
func (b *Broadcaster) AuthError(ctx context.Context, athleteID string, message string) error {
	event := GlucoseEvent{
		Type:      EventAuthError,
		AthleteID: athleteID,
		Message:   message,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal auth error event: %w", err)
	}

	if b.hub != nil {
		b.hub.Broadcast(athleteID, payload)
	}
	if b.redisClient != nil {
		if err := b.redisClient.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.Cache.EventStream,
			Values: map[string]interface{}{
				"type":       EventAuthError,
				"athlete_id": athleteID,
				"payload":    string(payload),
			},
		}).Err(); err != nil {
			b.logger.Warn("Failed to publish auth error to stream",
				zap.String("athlete_id", athleteID),
				zap.Error(err),
			)
		}
	}

	b.logger.Warn("Dexcom auth error published",
		zap.String("athlete_id", athleteID),
		zap.String("message", message),
	)
	return nil
}

func (b *Broadcaster) latestKey(athleteID string) string {
	return b.cfg.Cache.LatestKeyPrefix + athleteID + b.cfg.Cache.LatestSuffix
}
