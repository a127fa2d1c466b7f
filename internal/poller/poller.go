package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"glucowatch/internal/dexcom"
	"glucowatch/internal/domain"
	"glucowatch/internal/notifier"
	"glucowatch/internal/service"

	"go.uber.org/zap"
)

// TokenProvider 轮询周期的 token 准备
type TokenProvider interface {
	CurrentForAthlete(ctx context.Context, athleteID string) (*domain.Token, error)
	EnsureFresh(ctx context.Context, token *domain.Token) (*domain.Token, error)
}

// Fetcher 提供方读数拉取
type Fetcher interface {
	FetchLatest(ctx context.Context, accessToken string) (*dexcom.EGV, error)
}

// Ingestor 管线后半段（去重/分类/持久化/通知）
type Ingestor interface {
	Ingest(ctx context.Context, reading *domain.Reading) (service.PipelineResult, error)
}

// AthleteFinder 可轮询目标查询
type AthleteFinder interface {
	FindAthletes(ctx context.Context) ([]*domain.User, error)
}

// Poller 轮询控制循环
//
// 单进程单 ticker 协作式调度；每个运动员一个 in-flight 布尔守卫，
// 定时触发与手动刷新碰撞时直接丢弃本次（不排队不重试，下个周期自然补采）。
// 守卫只保护本进程，多实例部署会产生重复轮询（接受的约束，见 DESIGN.md）。
//
// needs-reauth 标志：刷新被拒后暂停该运动员的自动轮询（手动刷新不受限），
// OAuth 重连成功时经 ClearReauth 清除。
type Poller struct {
	interval     time.Duration
	cycleTimeout time.Duration

	athletes AthleteFinder
	tokens   TokenProvider
	fetcher  Fetcher
	ingestor Ingestor
	notifier notifier.Notifier
	logger   *zap.Logger
	now      func() time.Time

	// 进程内状态：启动时创建，随 Poller 注入，不放包级全局
	mu          sync.Mutex
	inFlight    map[string]bool
	needsReauth map[string]bool
}

// New 创建 Poller
func New(
	interval time.Duration,
	athletes AthleteFinder,
	tokens TokenProvider,
	fetcher Fetcher,
	ingestor Ingestor,
	n notifier.Notifier,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		interval:     interval,
		cycleTimeout: 30 * time.Second,
		athletes:     athletes,
		tokens:       tokens,
		fetcher:      fetcher,
		ingestor:     ingestor,
		notifier:     n,
		logger:       logger,
		now:          time.Now,
		inFlight:     make(map[string]bool),
		needsReauth:  make(map[string]bool),
	}
}

// Run 定时轮询，直到 ctx 取消。取消后当前一轮跑完才返回，不硬中断
// 进行中的网络调用（每轮有独立的超时上下文，不从 ctx 派生）。
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("Polling loop started", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Polling loop stopped")
			return
		case <-ticker.C:
			p.PollAll()
		}
	}
}

// PollAll 轮询全部运动员（needs-reauth 的跳过；单个失败不影响其他人）
// 每个运动员使用独立的超时上下文：前面的慢周期不消耗后面运动员的预算，
// 否则列表末尾的运动员会被系统性饿死
func (p *Poller) PollAll() {
	listCtx, cancel := context.WithTimeout(context.Background(), p.cycleTimeout)
	athletes, err := p.athletes.FindAthletes(listCtx)
	cancel()
	if err != nil {
		p.logger.Error("Failed to find athletes", zap.Error(err))
		return
	}

	for _, athlete := range athletes {
		if p.reauthPending(athlete.UserID) {
			continue
		}
		cycleCtx, cancel := context.WithTimeout(context.Background(), p.cycleTimeout)
		result := p.PollAthlete(cycleCtx, athlete.UserID)
		cancel()
		if result.Error != "" && !result.NeedsReauth {
			p.logger.Warn("Poll cycle failed",
				zap.String("athlete_id", athlete.UserID),
				zap.String("error", result.Error),
			)
		}
	}
}

// PollAthlete 单个运动员的一次完整轮询（手动刷新也走这里，同步执行）
// 所有失败都转成结构化结果，不向上抛异常
func (p *Poller) PollAthlete(ctx context.Context, athleteID string) service.PipelineResult {
	if !p.acquire(athleteID) {
		// 碰撞即丢弃：重采一个完整周期没有正确性代价
		return service.ResultError("poll already in progress")
	}
	defer p.release(athleteID)

	// 1. 当前 token
	token, err := p.tokens.CurrentForAthlete(ctx, athleteID)
	if err != nil {
		if errors.Is(err, service.ErrNoToken) {
			p.markReauth(ctx, athleteID, "no dexcom connection, please connect")
			return service.ResultNeedsReauth("no token")
		}
		return service.ResultError("failed to load token")
	}

	// 2. 过期则刷新；刷新被拒 → 需要重新授权，本周期终止，不进入 fetch
	token, err = p.tokens.EnsureFresh(ctx, token)
	if err != nil {
		if errors.Is(err, service.ErrReauthRequired) {
			p.markReauth(ctx, athleteID, "dexcom connection expired, please reconnect")
			return service.ResultNeedsReauth("reauth needed")
		}
		return service.ResultError("failed to refresh token")
	}

	// 3. 拉取最新读数；拉取途中 401（token 在 2-3 步之间失效）同样走重新授权
	egv, err := p.fetcher.FetchLatest(ctx, token.AccessToken)
	if err != nil {
		if errors.Is(err, dexcom.ErrTokenExpired) {
			p.markReauth(ctx, athleteID, "dexcom connection expired, please reconnect")
			return service.ResultNeedsReauth("reauth needed")
		}
		return service.ResultError("failed to fetch readings")
	}
	if egv == nil {
		return service.ResultError("no readings")
	}

	// 4-9. 去重/分类/持久化/通知
	recordedAt, err := dexcom.ParseDisplayTime(egv.DisplayTime)
	if err != nil {
		recordedAt = p.now()
	}
	unit := egv.Unit
	if unit == "" {
		unit = "mg/dL"
	}

	reading := &domain.Reading{
		AthleteID:  athleteID,
		RecordedBy: token.ParentID,
		Value:      egv.Value,
		Unit:       unit,
		RecordedAt: recordedAt,
		Source:     domain.SourceDexcom,
	}

	result, err := p.ingestor.Ingest(ctx, reading)
	if err != nil {
		p.logger.Error("Ingest failed",
			zap.String("athlete_id", athleteID),
			zap.Error(err),
		)
	}
	return result
}

// ClearReauth OAuth 重连成功后恢复自动轮询
func (p *Poller) ClearReauth(athleteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.needsReauth, athleteID)
}

// ReauthPending 该运动员是否在等待重新授权
func (p *Poller) ReauthPending(athleteID string) bool {
	return p.reauthPending(athleteID)
}

func (p *Poller) reauthPending(athleteID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.needsReauth[athleteID]
}

func (p *Poller) markReauth(ctx context.Context, athleteID, message string) {
	p.mu.Lock()
	already := p.needsReauth[athleteID]
	p.needsReauth[athleteID] = true
	p.mu.Unlock()

	// 只在首次进入该状态时发事件，避免每周期轰炸
	if !already && p.notifier != nil {
		if err := p.notifier.AuthError(ctx, athleteID, message); err != nil {
			p.logger.Warn("Failed to publish auth error",
				zap.String("athlete_id", athleteID),
				zap.Error(err),
			)
		}
	}
}

func (p *Poller) acquire(athleteID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[athleteID] {
		return false
	}
	p.inFlight[athleteID] = true
	return true
}

func (p *Poller) release(athleteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, athleteID)
}
