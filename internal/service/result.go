package service

import "glucowatch/internal/domain"

// PipelineResult 单次轮询/录入管线的结构化结果
// 管线内部错误在循环顶部全部转成该结构，单个运动员的失败不会影响其他运动员
type PipelineResult struct {
	Success     bool                 `json:"success"`
	NoNewData   bool                 `json:"noNewData,omitempty"`
	NeedsReauth bool                 `json:"needsReauth,omitempty"`
	Error       string               `json:"error,omitempty"`
	Status      domain.GlucoseStatus `json:"status,omitempty"`
	Reading     *domain.Reading      `json:"reading,omitempty"`
}

// ResultSuccess 新读数入库
func ResultSuccess(reading *domain.Reading) PipelineResult {
	return PipelineResult{Success: true, Status: reading.Status, Reading: reading}
}

// ResultNoNewData 重复读数被丢弃（稳态下的常见结果）
func ResultNoNewData() PipelineResult {
	return PipelineResult{NoNewData: true}
}

// ResultNeedsReauth 需要重新授权
func ResultNeedsReauth(msg string) PipelineResult {
	return PipelineResult{NeedsReauth: true, Error: msg}
}

// ResultError 其它失败（下个周期自然重试）
func ResultError(msg string) PipelineResult {
	return PipelineResult{Error: msg}
}
