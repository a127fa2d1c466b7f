package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"glucowatch/internal/dexcom"
	"glucowatch/internal/domain"
	"glucowatch/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeAthletes struct {
	athletes []*domain.User
}

func (f *fakeAthletes) FindAthletes(ctx context.Context) ([]*domain.User, error) {
	return f.athletes, nil
}

type fakeTokens struct {
	token      *domain.Token
	currentErr error
	freshErr   error
	refreshed  int
}

func (f *fakeTokens) CurrentForAthlete(ctx context.Context, athleteID string) (*domain.Token, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.token, nil
}

func (f *fakeTokens) EnsureFresh(ctx context.Context, token *domain.Token) (*domain.Token, error) {
	if f.freshErr != nil {
		return nil, f.freshErr
	}
	f.refreshed++
	return token, nil
}

type fakeFetcher struct {
	egv   *dexcom.EGV
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) FetchLatest(ctx context.Context, accessToken string) (*dexcom.EGV, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.egv, nil
}

type fakeIngestor struct {
	mu       sync.Mutex
	readings []*domain.Reading
	result   service.PipelineResult
}

func (f *fakeIngestor) Ingest(ctx context.Context, reading *domain.Reading) (service.PipelineResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, reading)
	if f.result.Success || f.result.NoNewData {
		return f.result, nil
	}
	return service.ResultSuccess(reading), nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	updates    []string
	authErrors []string
}

func (f *fakeNotifier) GlucoseUpdate(ctx context.Context, athleteID string, reading *domain.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, athleteID)
	return nil
}

func (f *fakeNotifier) AuthError(ctx context.Context, athleteID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authErrors = append(f.authErrors, athleteID)
	return nil
}

func validToken(athleteID string) *domain.Token {
	return &domain.Token{
		TokenID:      "tok-1",
		ParentID:     "parent-1",
		AthleteID:    athleteID,
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func newTestPoller(tokens *fakeTokens, fetcher *fakeFetcher, ingestor *fakeIngestor, n *fakeNotifier) *Poller {
	athletes := &fakeAthletes{athletes: []*domain.User{
		{UserID: "athlete-1", Role: domain.RoleAthlete},
	}}
	return New(time.Second, athletes, tokens, fetcher, ingestor, n, zap.NewNop())
}

// ---- tests ----

func TestPollAthlete_NoToken(t *testing.T) {
	tokens := &fakeTokens{currentErr: service.ErrNoToken}
	fetcher := &fakeFetcher{}
	ingestor := &fakeIngestor{}
	n := &fakeNotifier{}
	p := newTestPoller(tokens, fetcher, ingestor, n)

	result := p.PollAthlete(context.Background(), "athlete-1")

	assert.True(t, result.NeedsReauth)
	assert.False(t, result.Success)
	assert.Empty(t, ingestor.readings, "no reading may be persisted without a token")
	assert.Equal(t, 0, fetcher.calls)
	assert.True(t, p.ReauthPending("athlete-1"))
	assert.Equal(t, []string{"athlete-1"}, n.authErrors)
}

func TestPollAthlete_RefreshRejected(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1"), freshErr: service.ErrReauthRequired}
	fetcher := &fakeFetcher{}
	ingestor := &fakeIngestor{}
	n := &fakeNotifier{}
	p := newTestPoller(tokens, fetcher, ingestor, n)

	result := p.PollAthlete(context.Background(), "athlete-1")

	assert.True(t, result.NeedsReauth)
	assert.Equal(t, 0, fetcher.calls, "fetch must not run after a rejected refresh")
	assert.True(t, p.ReauthPending("athlete-1"))
}

func TestPollAthlete_FetchUnauthorized(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{err: dexcom.ErrTokenExpired}
	ingestor := &fakeIngestor{}
	n := &fakeNotifier{}
	p := newTestPoller(tokens, fetcher, ingestor, n)

	result := p.PollAthlete(context.Background(), "athlete-1")

	assert.True(t, result.NeedsReauth)
	assert.Empty(t, ingestor.readings)
	assert.True(t, p.ReauthPending("athlete-1"))
}

func TestPollAthlete_EmptyWindow(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: nil}
	ingestor := &fakeIngestor{}
	p := newTestPoller(tokens, fetcher, ingestor, &fakeNotifier{})

	result := p.PollAthlete(context.Background(), "athlete-1")

	assert.False(t, result.Success)
	assert.False(t, result.NeedsReauth)
	assert.Equal(t, "no readings", result.Error)
	assert.Empty(t, ingestor.readings)
}

func TestPollAthlete_Success(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: &dexcom.EGV{Value: 65, Unit: "mg/dL", DisplayTime: "2026-08-31T10:05:00"}}
	ingestor := &fakeIngestor{}
	p := newTestPoller(tokens, fetcher, ingestor, &fakeNotifier{})

	result := p.PollAthlete(context.Background(), "athlete-1")

	require.True(t, result.Success)
	require.Len(t, ingestor.readings, 1)
	reading := ingestor.readings[0]
	assert.Equal(t, "athlete-1", reading.AthleteID)
	assert.Equal(t, "parent-1", reading.RecordedBy)
	assert.Equal(t, 65.0, reading.Value)
	assert.Equal(t, domain.SourceDexcom, reading.Source)
	assert.Equal(t, 2026, reading.RecordedAt.Year())
}

func TestPollAll_SkipsReauthPending(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: &dexcom.EGV{Value: 100, Unit: "mg/dL"}}
	ingestor := &fakeIngestor{}
	p := newTestPoller(tokens, fetcher, ingestor, &fakeNotifier{})

	p.markReauth(context.Background(), "athlete-1", "expired")
	p.PollAll()

	assert.Equal(t, 0, fetcher.calls, "reauth-pending athlete must not be auto-polled")

	// 手动刷新不受 needs-reauth 抑制
	result := p.PollAthlete(context.Background(), "athlete-1")
	assert.True(t, result.Success)
	assert.Equal(t, 1, fetcher.calls)
}

func TestClearReauth_ResumesPolling(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: &dexcom.EGV{Value: 100, Unit: "mg/dL"}}
	p := newTestPoller(tokens, fetcher, &fakeIngestor{}, &fakeNotifier{})

	p.markReauth(context.Background(), "athlete-1", "expired")
	require.True(t, p.ReauthPending("athlete-1"))

	p.ClearReauth("athlete-1")
	assert.False(t, p.ReauthPending("athlete-1"))

	p.PollAll()
	assert.Equal(t, 1, fetcher.calls)
}

func TestPollAthlete_DropOnCollision(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: &dexcom.EGV{Value: 100, Unit: "mg/dL"}}
	ingestor := &fakeIngestor{}
	p := newTestPoller(tokens, fetcher, ingestor, &fakeNotifier{})

	require.True(t, p.acquire("athlete-1"))
	result := p.PollAthlete(context.Background(), "athlete-1")
	assert.Equal(t, "poll already in progress", result.Error)
	assert.Empty(t, ingestor.readings)

	p.release("athlete-1")
	result = p.PollAthlete(context.Background(), "athlete-1")
	assert.True(t, result.Success)
}

// slowFetcher 模拟慢速提供方，尊重上下文截止时间
type slowFetcher struct {
	delay time.Duration
	mu    sync.Mutex
	calls int
}

func (f *slowFetcher) FetchLatest(ctx context.Context, accessToken string) (*dexcom.EGV, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case <-time.After(f.delay):
		return &dexcom.EGV{Value: 100, Unit: "mg/dL"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPollAll_SlowCycleDoesNotStarveLaterAthletes(t *testing.T) {
	athletes := &fakeAthletes{athletes: []*domain.User{
		{UserID: "athlete-1", Role: domain.RoleAthlete},
		{UserID: "athlete-2", Role: domain.RoleAthlete},
	}}
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &slowFetcher{delay: 80 * time.Millisecond}
	ingestor := &fakeIngestor{}
	p := New(time.Second, athletes, tokens, fetcher, ingestor, &fakeNotifier{}, zap.NewNop())
	p.cycleTimeout = 100 * time.Millisecond

	p.PollAll()

	// 每个运动员有独立的超时预算：前面的慢周期不挤占后面的
	require.Len(t, ingestor.readings, 2)
	ids := []string{ingestor.readings[0].AthleteID, ingestor.readings[1].AthleteID}
	assert.ElementsMatch(t, []string{"athlete-1", "athlete-2"}, ids)
	assert.Equal(t, 2, fetcher.calls)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	tokens := &fakeTokens{token: validToken("athlete-1")}
	fetcher := &fakeFetcher{egv: &dexcom.EGV{Value: 100, Unit: "mg/dL"}}
	p := newTestPoller(tokens, fetcher, &fakeIngestor{}, &fakeNotifier{})
	p.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
