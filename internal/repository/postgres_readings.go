package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"glucowatch/internal/domain"

	"github.com/google/uuid"
)

// PostgresReadingsRepository 读数Repository实现
type PostgresReadingsRepository struct {
	db *sql.DB
}

// NewPostgresReadingsRepository 创建读数Repository
func NewPostgresReadingsRepository(db *sql.DB) *PostgresReadingsRepository {
	return &PostgresReadingsRepository{db: db}
}

var _ ReadingsRepository = (*PostgresReadingsRepository)(nil)

const readingColumns = `
	reading_id::text,
	athlete_id::text,
	recorded_by::text,
	value,
	unit,
	recorded_at,
	source,
	status,
	acknowledged_at,
	created_at
`

func scanReading(row interface{ Scan(...any) error }) (*domain.Reading, error) {
	var r domain.Reading
	var acknowledgedAt sql.NullTime

	err := row.Scan(
		&r.ReadingID,
		&r.AthleteID,
		&r.RecordedBy,
		&r.Value,
		&r.Unit,
		&r.RecordedAt,
		&r.Source,
		&r.Status,
		&acknowledgedAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if acknowledgedAt.Valid {
		r.AcknowledgedAt = &acknowledgedAt.Time
	}
	return &r, nil
}

// GetMostRecentReading 按运动员+来源取最近一条读数
func (r *PostgresReadingsRepository) GetMostRecentReading(ctx context.Context, athleteID string, source domain.ReadingSource) (*domain.Reading, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM readings
		WHERE athlete_id = $1 AND source = $2
		ORDER BY recorded_at DESC
		LIMIT 1
	`, readingColumns)

	reading, err := scanReading(r.db.QueryRowContext(ctx, query, athleteID, string(source)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get most recent reading: %w", err)
	}
	return reading, nil
}

// CreateReading 持久化读数（分类结果内联在行上，一条 INSERT 原子完成）
func (r *PostgresReadingsRepository) CreateReading(ctx context.Context, reading *domain.Reading) (string, error) {
	if reading.ReadingID == "" {
		reading.ReadingID = uuid.New().String()
	}

	query := `
		INSERT INTO readings (
			reading_id, athlete_id, recorded_by, value, unit,
			recorded_at, source, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ReadingID,
		reading.AthleteID,
		reading.RecordedBy,
		reading.Value,
		reading.Unit,
		reading.RecordedAt,
		string(reading.Source),
		string(reading.Status),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create reading: %w", err)
	}
	return reading.ReadingID, nil
}

// ListReadings 读数历史（since 之后，按时间倒序）
func (r *PostgresReadingsRepository) ListReadings(ctx context.Context, athleteID string, since time.Time) ([]*domain.Reading, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM readings
		WHERE athlete_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
	`, readingColumns)

	rows, err := r.db.QueryContext(ctx, query, athleteID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []*domain.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

// AcknowledgeReading 确认 LOW 读数（只允许本人的未确认读数）
func (r *PostgresReadingsRepository) AcknowledgeReading(ctx context.Context, athleteID, readingID string, at time.Time) error {
	query := `
		UPDATE readings
		SET acknowledged_at = $1
		WHERE reading_id = $2 AND athlete_id = $3 AND acknowledged_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, at, readingID, athleteID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge reading: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
