package glucose

import "glucowatch/internal/domain"

// Classify 阈值分类（纯函数）
// value < low → LOW；value > high → HIGH；其余 → OK
// 调用方保证 value 为有限数值（非数值输入在手动录入校验阶段已拒绝）
func Classify(value, low, high float64) domain.GlucoseStatus {
	switch {
	case value < low:
		return domain.StatusLow
	case value > high:
		return domain.StatusHigh
	default:
		return domain.StatusOK
	}
}
