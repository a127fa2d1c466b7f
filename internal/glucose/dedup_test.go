package glucose

import (
	"testing"
	"time"

	"glucowatch/internal/domain"

	"github.com/stretchr/testify/assert"
)

func newReading(value float64, recordedAt time.Time) *domain.Reading {
	return &domain.Reading{
		AthleteID:  "athlete-1",
		Value:      value,
		Unit:       "mg/dL",
		RecordedAt: recordedAt,
		Source:     domain.SourceDexcom,
	}
}

func TestIsDuplicate(t *testing.T) {
	guard := NewDedupGuard(0.5, 5*time.Minute)
	now := time.Now()

	// 2 分钟前的 110，候选 110 → 重复
	last := newReading(110, now.Add(-2*time.Minute))
	assert.True(t, guard.IsDuplicate(newReading(110, now), last, now))

	// 候选 111 → 不重复
	assert.False(t, guard.IsDuplicate(newReading(111, now), last, now))

	// 6 分钟前的 110，候选 110 → 不重复（窗口之外）
	stale := newReading(110, now.Add(-6*time.Minute))
	assert.False(t, guard.IsDuplicate(newReading(110, now), stale, now))
}

func TestIsDuplicate_NoHistory(t *testing.T) {
	guard := NewDedupGuard(0.5, 5*time.Minute)
	now := time.Now()

	assert.False(t, guard.IsDuplicate(newReading(110, now), nil, now))
}
