package domain

import "time"

// GlucoseStatus 血糖分类结果
type GlucoseStatus string

const (
	StatusLow  GlucoseStatus = "LOW"
	StatusOK   GlucoseStatus = "OK"
	StatusHigh GlucoseStatus = "HIGH"
)

// ReadingSource 读数来源
type ReadingSource string

const (
	SourceManual ReadingSource = "manual"
	SourceDexcom ReadingSource = "dexcom"
)

// Reading 血糖读数领域模型（对应 readings 表）
// 分类结果内联在读数行上，读数创建后不再修改（只有 acknowledged_at 例外）
type Reading struct {
	// 主键
	ReadingID string `db:"reading_id"` // UUID, PRIMARY KEY

	// 归属
	AthleteID  string `db:"athlete_id"`  // UUID, NOT NULL, REFERENCES users(user_id)
	RecordedBy string `db:"recorded_by"` // UUID, NOT NULL（手动录入者或系统）

	// 读数内容（来自提供方的值/单位/时间戳原样保存，不做单位换算）
	Value      float64   `db:"value"`       // NUMERIC, NOT NULL
	Unit       string    `db:"unit"`        // VARCHAR(20), 默认 'mg/dL'
	RecordedAt time.Time `db:"recorded_at"` // TIMESTAMPTZ, NOT NULL

	// 来源和分类
	Source ReadingSource `db:"source"` // CHECK IN ('manual','dexcom')
	Status GlucoseStatus `db:"status"` // CHECK IN ('LOW','OK','HIGH')

	// 低血糖确认（运动员确认 LOW 读数时写入）
	AcknowledgedAt *time.Time `db:"acknowledged_at"` // TIMESTAMPTZ, nullable

	// 时间戳
	CreatedAt time.Time `db:"created_at"` // TIMESTAMPTZ, NOT NULL
}
