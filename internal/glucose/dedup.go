package glucose

import (
	"math"
	"time"

	"glucowatch/internal/domain"
)

// DedupGuard 去重判定：值相等（容差内）且上一条读数落在时间窗口内才算重复
// 策略按运动员+来源分别判定，手动录入不会被临近的提供方读数抑制；
// 长时间平稳后重复出现的相同值（如整夜持平）不会被误判为重复
type DedupGuard struct {
	Epsilon float64       // 值容差
	Window  time.Duration // 时间窗口，默认 5 分钟
}

// NewDedupGuard 创建去重判定器
func NewDedupGuard(epsilon float64, window time.Duration) *DedupGuard {
	return &DedupGuard{Epsilon: epsilon, Window: window}
}

// IsDuplicate 判定候选读数是否与最近一条已持久化读数重复
// last 为 nil 表示该运动员该来源尚无读数，必然不是重复
func (g *DedupGuard) IsDuplicate(candidate *domain.Reading, last *domain.Reading, now time.Time) bool {
	if last == nil {
		return false
	}
	if math.Abs(candidate.Value-last.Value) >= g.Epsilon {
		return false
	}
	return now.Sub(last.RecordedAt) <= g.Window
}
