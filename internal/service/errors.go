package service

import (
	"errors"
	"fmt"
)

// ErrNoToken 从未建立过 Dexcom 连接（用户侧提示去连接）
var ErrNoToken = errors.New("no dexcom connection established")

// ErrReauthRequired 连接已失效（refresh 被拒绝或 fetch 返回 401）
// 该运动员的自动轮询暂停，直到重新走 OAuth 连接；不自动重试
var ErrReauthRequired = errors.New("dexcom connection expired, reauthorization required")

// ValidationError 手动录入校验失败（同步 400 返回，不持久化、不通知）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation 是否为校验错误
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
