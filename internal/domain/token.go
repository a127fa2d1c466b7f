package domain

import "time"

// Token Dexcom OAuth token 领域模型（对应 dexcom_tokens 表）
// token 明确归属于 (parent_id, athlete_id)，不使用"最新一行"作为隐式全局 token
type Token struct {
	// 主键
	TokenID string `db:"token_id"` // UUID, PRIMARY KEY

	// 归属（一个家长为一个运动员授权一条连接）
	ParentID  string `db:"parent_id"`  // UUID, NOT NULL
	AthleteID string `db:"athlete_id"` // UUID, NOT NULL

	// OAuth token 对
	AccessToken  string    `db:"access_token"`  // TEXT, NOT NULL
	RefreshToken string    `db:"refresh_token"` // TEXT, NOT NULL
	ExpiresAt    time.Time `db:"expires_at"`    // TIMESTAMPTZ, NOT NULL

	// 时间戳
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}

// IsExpired token 是否已过期
func (t *Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// IsExpiringSoon token 是否即将过期（window 内）
func (t *Token) IsExpiringSoon(now time.Time, window time.Duration) bool {
	return !t.ExpiresAt.After(now.Add(window))
}
