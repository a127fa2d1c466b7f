package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/glucose"
	"glucowatch/internal/notifier"
	"glucowatch/internal/repository"

	"go.uber.org/zap"
)

// ReadingService 读数管线（去重 → 阈值分类 → 持久化 → 通知）
// 轮询、手动录入、webhook 三个入口共用同一条管线
type ReadingService struct {
	readings repository.ReadingsRepository
	prefs    repository.PreferencesRepository
	users    repository.UsersRepository
	messages repository.MessagesRepository
	dedup    *glucose.DedupGuard
	notifier notifier.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewReadingService 创建 ReadingService
func NewReadingService(
	readings repository.ReadingsRepository,
	prefs repository.PreferencesRepository,
	users repository.UsersRepository,
	messages repository.MessagesRepository,
	dedup *glucose.DedupGuard,
	n notifier.Notifier,
	logger *zap.Logger,
) *ReadingService {
	return &ReadingService{
		readings: readings,
		prefs:    prefs,
		users:    users,
		messages: messages,
		dedup:    dedup,
		notifier: n,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest 管线主体（轮询周期的 4-9 步）：
//  1. 取该运动员该来源最近一条已持久化读数，去重判定
//  2. 查阈值偏好（缺省回退家长偏好，再回退 {70,180} 并懒创建）
//  3. 阈值分类
//  4. 持久化读数（分类内联，单行原子）
//  5. 低血糖时为关联家长生成紧急消息
//  6. 发布通知事件
func (s *ReadingService) Ingest(ctx context.Context, reading *domain.Reading) (PipelineResult, error) {
	now := s.now()

	// 1. 去重（按运动员+来源）
	last, err := s.readings.GetMostRecentReading(ctx, reading.AthleteID, reading.Source)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return ResultError("failed to load reading history"), fmt.Errorf("failed to load reading history: %w", err)
	}
	if s.dedup.IsDuplicate(reading, last, now) {
		s.logger.Debug("Duplicate reading skipped",
			zap.String("athlete_id", reading.AthleteID),
			zap.Float64("value", reading.Value),
			zap.String("source", string(reading.Source)),
		)
		return ResultNoNewData(), nil
	}

	// 2. 阈值偏好（查询失败终止本周期，绝不能退回默认值对配置过的阈值做错误分类）
	low, high, err := s.thresholdsFor(ctx, reading.AthleteID)
	if err != nil {
		return ResultError("failed to load preferences"), fmt.Errorf("failed to load preferences: %w", err)
	}

	// 3. 分类
	reading.Status = glucose.Classify(reading.Value, low, high)

	// 4. 持久化
	if _, err := s.readings.CreateReading(ctx, reading); err != nil {
		return ResultError("failed to persist reading"), fmt.Errorf("failed to persist reading: %w", err)
	}

	// 5. 低血糖 → 家长收到紧急消息
	if reading.Status == domain.StatusLow {
		s.notifyParentsLow(ctx, reading)
	}

	// 6. 通知事件
	if err := s.notifier.GlucoseUpdate(ctx, reading.AthleteID, reading); err != nil {
		s.logger.Warn("Failed to publish glucose update",
			zap.String("athlete_id", reading.AthleteID),
			zap.Error(err),
		)
	}

	return ResultSuccess(reading), nil
}

// ManualEntry 手动录入（同步校验，失败不持久化、不通知）
func (s *ReadingService) ManualEntry(ctx context.Context, athleteID, recordedBy, rawValue, unit string, recordedAt time.Time) (PipelineResult, error) {
	if athleteID == "" {
		return PipelineResult{}, &ValidationError{Field: "athleteId", Reason: "required"}
	}
	if strings.TrimSpace(rawValue) == "" {
		return PipelineResult{}, &ValidationError{Field: "value", Reason: "required"}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
	if err != nil {
		return PipelineResult{}, &ValidationError{Field: "value", Reason: "must be a number"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return PipelineResult{}, &ValidationError{Field: "value", Reason: "must be a positive finite number"}
	}

	if unit == "" {
		unit = "mg/dL"
	}
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	reading := &domain.Reading{
		AthleteID:  athleteID,
		RecordedBy: recordedBy,
		Value:      value,
		Unit:       unit,
		RecordedAt: recordedAt,
		Source:     domain.SourceManual,
	}
	return s.Ingest(ctx, reading)
}

// WebhookEntry 外部推送读数（绕过 token/fetch，直接进入管线）
func (s *ReadingService) WebhookEntry(ctx context.Context, athleteID string, value float64, unit string, recordedAt time.Time) (PipelineResult, error) {
	if athleteID == "" {
		return PipelineResult{}, &ValidationError{Field: "athleteId", Reason: "required"}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return PipelineResult{}, &ValidationError{Field: "value", Reason: "must be a positive finite number"}
	}
	if unit == "" {
		unit = "mg/dL"
	}
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	reading := &domain.Reading{
		AthleteID:  athleteID,
		RecordedBy: athleteID,
		Value:      value,
		Unit:       unit,
		RecordedAt: recordedAt,
		Source:     domain.SourceDexcom,
	}
	return s.Ingest(ctx, reading)
}

// Acknowledge 运动员确认 LOW 读数
func (s *ReadingService) Acknowledge(ctx context.Context, userID, readingID string) error {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	// 授权检查：只有运动员本人可以确认
	switch user.Role {
	case domain.RoleAthlete:
	case domain.RoleAdmin, domain.RoleParent, domain.RoleCoach:
		return &ValidationError{Field: "userId", Reason: "only the athlete can acknowledge a reading"}
	default:
		return &ValidationError{Field: "userId", Reason: "unknown role"}
	}
	return s.readings.AcknowledgeReading(ctx, userID, readingID, s.now())
}

// History 读数历史
func (s *ReadingService) History(ctx context.Context, athleteID string, window time.Duration) ([]*domain.Reading, error) {
	return s.readings.ListReadings(ctx, athleteID, s.now().Add(-window))
}

// thresholdsFor 阈值查找：运动员自己的偏好 → 第一个家长的偏好 → 默认 {70,180}（懒创建）
// 只有确认"偏好不存在"（ErrNotFound）才继续回退；其它错误原样上抛，
// 防止瞬时故障把配置过的阈值静默重置成默认值
func (s *ReadingService) thresholdsFor(ctx context.Context, athleteID string) (float64, float64, error) {
	prefs, err := s.prefs.GetPreferences(ctx, athleteID)
	if err == nil {
		return prefs.LowThreshold, prefs.HighThreshold, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, 0, err
	}

	parents, err := s.users.ListParentsOfAthlete(ctx, athleteID)
	if err != nil {
		return 0, 0, err
	}
	if len(parents) > 0 {
		prefs, err := s.prefs.GetPreferences(ctx, parents[0].UserID)
		if err == nil {
			return prefs.LowThreshold, prefs.HighThreshold, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return 0, 0, err
		}
	}

	// 懒创建默认偏好
	defaults := domain.DefaultPreferences(athleteID)
	if err := s.prefs.SavePreferences(ctx, defaults); err != nil {
		s.logger.Warn("Failed to create default preferences",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}
	return defaults.LowThreshold, defaults.HighThreshold, nil
}

// notifyParentsLow 低血糖时为每个关联家长写一条紧急消息
func (s *ReadingService) notifyParentsLow(ctx context.Context, reading *domain.Reading) {
	parents, err := s.users.ListParentsOfAthlete(ctx, reading.AthleteID)
	if err != nil {
		s.logger.Warn("Failed to list parents for low alert",
			zap.String("athlete_id", reading.AthleteID),
			zap.Error(err),
		)
		return
	}

	content := fmt.Sprintf("Low glucose alert: %.0f %s", reading.Value, reading.Unit)
	for _, parent := range parents {
		msg := &domain.Message{
			SenderID:   reading.AthleteID,
			ReceiverID: parent.UserID,
			Content:    content,
			IsUrgent:   true,
		}
		if _, err := s.messages.CreateMessage(ctx, msg); err != nil {
			s.logger.Warn("Failed to create low alert message",
				zap.String("athlete_id", reading.AthleteID),
				zap.String("parent_id", parent.UserID),
				zap.Error(err),
			)
		}
	}
}
