package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"glucowatch/internal/domain"
	"glucowatch/internal/glucose"
	"glucowatch/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---- in-memory fakes ----

type memReadings struct {
	mu       sync.Mutex
	readings []*domain.Reading
}

var _ repository.ReadingsRepository = (*memReadings)(nil)

func (m *memReadings) GetMostRecentReading(ctx context.Context, athleteID string, source domain.ReadingSource) (*domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Reading
	for _, r := range m.readings {
		if r.AthleteID != athleteID || r.Source != source {
			continue
		}
		if latest == nil || r.RecordedAt.After(latest.RecordedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (m *memReadings) CreateReading(ctx context.Context, reading *domain.Reading) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reading.ReadingID == "" {
		reading.ReadingID = uuid.New().String()
	}
	m.readings = append(m.readings, reading)
	return reading.ReadingID, nil
}

func (m *memReadings) ListReadings(ctx context.Context, athleteID string, since time.Time) ([]*domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Reading
	for _, r := range m.readings {
		if r.AthleteID == athleteID && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memReadings) AcknowledgeReading(ctx context.Context, athleteID, readingID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.readings {
		if r.ReadingID == readingID && r.AthleteID == athleteID && r.AcknowledgedAt == nil {
			r.AcknowledgedAt = &at
			return nil
		}
	}
	return repository.ErrNotFound
}

type memPrefs struct {
	mu    sync.Mutex
	prefs map[string]*domain.Preferences
}

var _ repository.PreferencesRepository = (*memPrefs)(nil)

func newMemPrefs() *memPrefs {
	return &memPrefs{prefs: make(map[string]*domain.Preferences)}
}

func (m *memPrefs) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

func (m *memPrefs) SavePreferences(ctx context.Context, prefs *domain.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[prefs.UserID] = prefs
	return nil
}

type memUsers struct {
	users   map[string]*domain.User
	parents map[string][]*domain.User // athleteID -> parents
}

var _ repository.UsersRepository = (*memUsers)(nil)

func newMemUsers() *memUsers {
	return &memUsers{
		users:   make(map[string]*domain.User),
		parents: make(map[string][]*domain.User),
	}
}

func (m *memUsers) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	u, ok := m.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) CreateUser(ctx context.Context, user *domain.User) (string, error) {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	m.users[user.UserID] = user
	return user.UserID, nil
}

func (m *memUsers) FindAthletes(ctx context.Context) ([]*domain.User, error) {
	var out []*domain.User
	for _, u := range m.users {
		if u.IsAthlete() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memUsers) LinkParentAthlete(ctx context.Context, parentID, athleteID string) error {
	m.parents[athleteID] = append(m.parents[athleteID], m.users[parentID])
	return nil
}

func (m *memUsers) ListParentsOfAthlete(ctx context.Context, athleteID string) ([]*domain.User, error) {
	return m.parents[athleteID], nil
}

func (m *memUsers) ListAthletesOfParent(ctx context.Context, parentID string) ([]*domain.User, error) {
	return nil, nil
}

type memMessages struct {
	mu       sync.Mutex
	messages []*domain.Message
}

var _ repository.MessagesRepository = (*memMessages)(nil)

func (m *memMessages) CreateMessage(ctx context.Context, msg *domain.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.MessageID == "" {
		msg.MessageID = uuid.New().String()
	}
	m.messages = append(m.messages, msg)
	return msg.MessageID, nil
}

func (m *memMessages) ListMessagesForUser(ctx context.Context, userID string) ([]*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Message
	for _, msg := range m.messages {
		if msg.ReceiverID == userID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memMessages) MarkRead(ctx context.Context, receiverID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.MessageID == messageID && msg.ReceiverID == receiverID {
			msg.Read = true
			return nil
		}
	}
	return repository.ErrNotFound
}

type recordingNotifier struct {
	mu         sync.Mutex
	updates    []*domain.Reading
	authErrors []string
}

func (n *recordingNotifier) GlucoseUpdate(ctx context.Context, athleteID string, reading *domain.Reading) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, reading)
	return nil
}

func (n *recordingNotifier) AuthError(ctx context.Context, athleteID string, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.authErrors = append(n.authErrors, message)
	return nil
}

// ---- fixture ----

type fixture struct {
	svc      *ReadingService
	readings *memReadings
	prefs    *memPrefs
	users    *memUsers
	messages *memMessages
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		readings: &memReadings{},
		prefs:    newMemPrefs(),
		users:    newMemUsers(),
		messages: &memMessages{},
		notifier: &recordingNotifier{},
	}
	guard := glucose.NewDedupGuard(0.5, 5*time.Minute)
	f.svc = NewReadingService(f.readings, f.prefs, f.users, f.messages, guard, f.notifier, zap.NewNop())
	return f
}

func (f *fixture) addAthlete(id string) {
	f.users.users[id] = &domain.User{UserID: id, Name: "Athlete", Role: domain.RoleAthlete}
}

func (f *fixture) addParent(parentID, athleteID string) {
	f.users.users[parentID] = &domain.User{UserID: parentID, Name: "Parent", Role: domain.RoleParent}
	f.users.parents[athleteID] = append(f.users.parents[athleteID], f.users.users[parentID])
}

// ---- tests ----

func TestIngest_LowReadingPersistedAndNotified(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")
	f.addParent("parent-1", "athlete-1")

	reading := &domain.Reading{
		AthleteID:  "athlete-1",
		RecordedBy: "parent-1",
		Value:      65,
		Unit:       "mg/dL",
		RecordedAt: time.Now(),
		Source:     domain.SourceDexcom,
	}

	result, err := f.svc.Ingest(context.Background(), reading)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.StatusLow, result.Status)
	require.Len(t, f.readings.readings, 1)
	assert.Equal(t, domain.StatusLow, f.readings.readings[0].Status)
	require.Len(t, f.notifier.updates, 1, "exactly one notification emitted")

	// 低血糖 → 家长收到紧急消息
	msgs, err := f.messages.ListMessagesForUser(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsUrgent)
}

func TestIngest_DuplicateSkipped(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	// 1 分钟前已有 value=65 的读数
	existing := &domain.Reading{
		ReadingID:  uuid.New().String(),
		AthleteID:  "athlete-1",
		RecordedBy: "athlete-1",
		Value:      65,
		Unit:       "mg/dL",
		RecordedAt: time.Now().Add(-time.Minute),
		Source:     domain.SourceDexcom,
		Status:     domain.StatusLow,
	}
	f.readings.readings = append(f.readings.readings, existing)

	result, err := f.svc.Ingest(context.Background(), &domain.Reading{
		AthleteID:  "athlete-1",
		RecordedBy: "athlete-1",
		Value:      65,
		Unit:       "mg/dL",
		RecordedAt: time.Now(),
		Source:     domain.SourceDexcom,
	})
	require.NoError(t, err)

	assert.True(t, result.NoNewData)
	assert.False(t, result.Success)
	assert.Len(t, f.readings.readings, 1, "duplicate must not be persisted")
	assert.Empty(t, f.notifier.updates)
}

func TestIngest_Idempotence(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	mk := func() *domain.Reading {
		return &domain.Reading{
			AthleteID:  "athlete-1",
			RecordedBy: "athlete-1",
			Value:      110,
			Unit:       "mg/dL",
			RecordedAt: time.Now(),
			Source:     domain.SourceDexcom,
		}
	}

	first, err := f.svc.Ingest(context.Background(), mk())
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.svc.Ingest(context.Background(), mk())
	require.NoError(t, err)
	assert.True(t, second.NoNewData)

	assert.Len(t, f.readings.readings, 1, "two immediate cycles yield exactly one reading")
	assert.Len(t, f.notifier.updates, 1)
}

func TestIngest_PerSourceDedup(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	// 提供方读数刚入库
	_, err := f.svc.Ingest(context.Background(), &domain.Reading{
		AthleteID: "athlete-1", RecordedBy: "athlete-1",
		Value: 110, Unit: "mg/dL", RecordedAt: time.Now(), Source: domain.SourceDexcom,
	})
	require.NoError(t, err)

	// 相同值的手动修正不被抑制（按来源分别去重）
	result, err := f.svc.ManualEntry(context.Background(), "athlete-1", "athlete-1", "110", "mg/dL", time.Now())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, f.readings.readings, 2)
}

func TestIngest_UsesParentThresholds(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")
	f.addParent("parent-1", "athlete-1")

	// 家长偏好收紧 low 阈值：90 以下即 LOW
	require.NoError(t, f.prefs.SavePreferences(context.Background(), &domain.Preferences{
		UserID: "parent-1", LowThreshold: 90, HighThreshold: 200,
	}))

	result, err := f.svc.Ingest(context.Background(), &domain.Reading{
		AthleteID: "athlete-1", RecordedBy: "parent-1",
		Value: 85, Unit: "mg/dL", RecordedAt: time.Now(), Source: domain.SourceDexcom,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLow, result.Status)
}

func TestIngest_LazyDefaultPreferences(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	result, err := f.svc.Ingest(context.Background(), &domain.Reading{
		AthleteID: "athlete-1", RecordedBy: "athlete-1",
		Value: 100, Unit: "mg/dL", RecordedAt: time.Now(), Source: domain.SourceDexcom,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, result.Status)

	// 默认偏好已懒创建
	prefs, err := f.prefs.GetPreferences(context.Background(), "athlete-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultLowThreshold, prefs.LowThreshold)
	assert.Equal(t, domain.DefaultHighThreshold, prefs.HighThreshold)
}

type failingPrefs struct {
	err   error
	saves int
}

var _ repository.PreferencesRepository = (*failingPrefs)(nil)

func (f *failingPrefs) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	return nil, f.err
}

func (f *failingPrefs) SavePreferences(ctx context.Context, prefs *domain.Preferences) error {
	f.saves++
	return nil
}

func TestIngest_PreferencesErrorAbortsCycle(t *testing.T) {
	readings := &memReadings{}
	prefs := &failingPrefs{err: errors.New("connection reset by peer")}
	users := newMemUsers()
	users.users["athlete-1"] = &domain.User{UserID: "athlete-1", Role: domain.RoleAthlete}
	n := &recordingNotifier{}
	svc := NewReadingService(readings, prefs, users, &memMessages{},
		glucose.NewDedupGuard(0.5, 5*time.Minute), n, zap.NewNop())

	result, err := svc.Ingest(context.Background(), &domain.Reading{
		AthleteID: "athlete-1", RecordedBy: "athlete-1",
		Value: 85, Unit: "mg/dL", RecordedAt: time.Now(), Source: domain.SourceDexcom,
	})

	// 瞬时故障 ≠ 偏好不存在：终止本周期而不是按默认阈值分类
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "failed to load preferences", result.Error)
	assert.Empty(t, readings.readings, "reading must not be persisted with guessed thresholds")
	assert.Empty(t, n.updates)
	assert.Zero(t, prefs.saves, "defaults must not overwrite stored thresholds on a transient failure")
}

func TestManualEntry_NonNumericRejected(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	_, err := f.svc.ManualEntry(context.Background(), "athlete-1", "parent-1", "abc", "mg/dL", time.Now())

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Empty(t, f.readings.readings, "rejected entry must not be persisted")
	assert.Empty(t, f.notifier.updates, "rejected entry must not be notified")
}

func TestManualEntry_MissingValueRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ManualEntry(context.Background(), "athlete-1", "parent-1", "  ", "", time.Now())
	assert.True(t, IsValidation(err))

	_, err = f.svc.ManualEntry(context.Background(), "", "parent-1", "100", "", time.Now())
	assert.True(t, IsValidation(err))
}

func TestAcknowledge_AthleteOnly(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")
	f.addParent("parent-1", "athlete-1")

	reading := &domain.Reading{
		ReadingID: uuid.New().String(), AthleteID: "athlete-1", RecordedBy: "athlete-1",
		Value: 60, Unit: "mg/dL", RecordedAt: time.Now(),
		Source: domain.SourceDexcom, Status: domain.StatusLow,
	}
	f.readings.readings = append(f.readings.readings, reading)

	// 家长不能替运动员确认
	err := f.svc.Acknowledge(context.Background(), "parent-1", reading.ReadingID)
	assert.True(t, IsValidation(err))

	require.NoError(t, f.svc.Acknowledge(context.Background(), "athlete-1", reading.ReadingID))
	assert.NotNil(t, reading.AcknowledgedAt)
}

func TestWebhookEntry_RunsPipeline(t *testing.T) {
	f := newFixture(t)
	f.addAthlete("athlete-1")

	result, err := f.svc.WebhookEntry(context.Background(), "athlete-1", 190, "mg/dL", time.Now())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, domain.StatusHigh, result.Status)
	require.Len(t, f.notifier.updates, 1)
}
