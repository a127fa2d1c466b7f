package repository

import (
	"context"
	"database/sql"
	"fmt"

	"glucowatch/internal/domain"
)

// PostgresPreferencesRepository 阈值偏好Repository实现
type PostgresPreferencesRepository struct {
	db *sql.DB
}

// NewPostgresPreferencesRepository 创建偏好Repository
func NewPostgresPreferencesRepository(db *sql.DB) *PostgresPreferencesRepository {
	return &PostgresPreferencesRepository{db: db}
}

var _ PreferencesRepository = (*PostgresPreferencesRepository)(nil)

// GetPreferences 获取阈值偏好（不存在返回 ErrNotFound）
func (r *PostgresPreferencesRepository) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	query := `
		SELECT user_id::text, low_threshold, high_threshold, updated_at
		FROM preferences
		WHERE user_id = $1
	`

	var p domain.Preferences
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.LowThreshold,
		&p.HighThreshold,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences 保存阈值偏好（upsert，懒创建在此完成）
func (r *PostgresPreferencesRepository) SavePreferences(ctx context.Context, prefs *domain.Preferences) error {
	query := `
		INSERT INTO preferences (user_id, low_threshold, high_threshold, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET low_threshold = EXCLUDED.low_threshold,
		              high_threshold = EXCLUDED.high_threshold,
		              updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query, prefs.UserID, prefs.LowThreshold, prefs.HighThreshold)
	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}
