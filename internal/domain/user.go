package domain

import (
	"fmt"
	"time"
)

// Role 用户角色（闭合枚举，授权检查处必须穷举匹配）
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleParent  Role = "PARENT"
	RoleCoach   Role = "COACH"
	RoleAthlete Role = "ATHLETE"
)

// ParseRole 解析角色字符串（拒绝未知角色，不做字符串透传）
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleParent, RoleCoach, RoleAthlete:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// CanSendMessage 是否允许向运动员发送消息
func (r Role) CanSendMessage() bool {
	switch r {
	case RoleParent, RoleCoach, RoleAdmin:
		return true
	case RoleAthlete:
		return false
	}
	return false
}

// User 用户领域模型（对应 users 表）
type User struct {
	// 主键
	UserID string `db:"user_id"` // UUID, PRIMARY KEY

	// 基本信息
	Name         string `db:"name"`          // NOT NULL
	Email        string `db:"email"`         // NOT NULL, UNIQUE
	PasswordHash []byte `db:"password_hash"` // NOT NULL

	// 角色
	Role Role `db:"role"` // VARCHAR(20), CHECK IN ('ADMIN','PARENT','COACH','ATHLETE')

	// 时间戳
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}

// IsAthlete 是否为可轮询目标（role=ATHLETE 的用户是唯一的轮询目标）
func (u *User) IsAthlete() bool {
	return u.Role == RoleAthlete
}

// ParentAthleteLink 家长-运动员关联（多对多，对应 parent_athlete_links 表）
type ParentAthleteLink struct {
	ParentID  string    `db:"parent_id"`  // UUID, REFERENCES users(user_id)
	AthleteID string    `db:"athlete_id"` // UUID, REFERENCES users(user_id)
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}
