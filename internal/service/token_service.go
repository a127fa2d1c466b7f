package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"glucowatch/internal/dexcom"
	"glucowatch/internal/domain"
	"glucowatch/internal/repository"

	"go.uber.org/zap"
)

// TokenService Dexcom token 管理（获取/刷新/保存）
type TokenService struct {
	tokens       repository.TokensRepository
	client       *dexcom.Client
	refreshAhead time.Duration // 提前刷新窗口，默认 5 分钟
	logger       *zap.Logger
	now          func() time.Time
}

// NewTokenService 创建 TokenService
func NewTokenService(tokens repository.TokensRepository, client *dexcom.Client, refreshAhead time.Duration, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokens:       tokens,
		client:       client,
		refreshAhead: refreshAhead,
		logger:       logger,
		now:          time.Now,
	}
}

// CurrentForAthlete 取运动员当前 token（从未连接返回 ErrNoToken）
func (s *TokenService) CurrentForAthlete(ctx context.Context, athleteID string) (*domain.Token, error) {
	token, err := s.tokens.GetCurrentTokenForAthlete(ctx, athleteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// Refresh 用 refresh token 换新 token 对并持久化
// 刷新被提供方拒绝返回 ErrReauthRequired，不做自动重试，
// 调用方必须暂停该运动员的自动轮询直到人工重新连接
func (s *TokenService) Refresh(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	resp, err := s.client.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		if errors.Is(err, dexcom.ErrTokenExpired) {
			s.logger.Warn("Dexcom refresh token rejected",
				zap.String("athlete_id", token.AthleteID),
				zap.String("parent_id", token.ParentID),
			)
			return nil, ErrReauthRequired
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	newToken := &domain.Token{
		ParentID:     token.ParentID,
		AthleteID:    token.AthleteID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if err := s.tokens.SaveToken(ctx, newToken); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}

	s.logger.Info("Dexcom token refreshed",
		zap.String("athlete_id", token.AthleteID),
		zap.Time("expires_at", newToken.ExpiresAt),
	)
	return newToken, nil
}

// EnsureFresh 轮询周期的 token 准备：过期或即将过期则刷新，否则原样返回
func (s *TokenService) EnsureFresh(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	now := s.now()
	if token.IsExpired(now) || token.IsExpiringSoon(now, s.refreshAhead) {
		return s.Refresh(ctx, token)
	}
	return token, nil
}

// SaveFromExchange OAuth 回调：授权码换 token 并保存为 (parent, athlete) 的当前连接
func (s *TokenService) SaveFromExchange(ctx context.Context, parentID, athleteID, code string) (*domain.Token, error) {
	resp, err := s.client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	token := &domain.Token{
		ParentID:     parentID,
		AthleteID:    athleteID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	if err := s.tokens.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	s.logger.Info("Dexcom connection established",
		zap.String("parent_id", parentID),
		zap.String("athlete_id", athleteID),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// Unlink 删除连接
func (s *TokenService) Unlink(ctx context.Context, parentID, athleteID string) error {
	return s.tokens.DeleteToken(ctx, parentID, athleteID)
}
