package repository

import (
	"context"
	"database/sql"
	"fmt"

	"glucowatch/internal/domain"

	"github.com/google/uuid"
)

// PostgresTokensRepository Dexcom token Repository实现
type PostgresTokensRepository struct {
	db *sql.DB
}

// NewPostgresTokensRepository 创建 token Repository
func NewPostgresTokensRepository(db *sql.DB) *PostgresTokensRepository {
	return &PostgresTokensRepository{db: db}
}

var _ TokensRepository = (*PostgresTokensRepository)(nil)

const tokenColumns = `
	token_id::text,
	parent_id::text,
	athlete_id::text,
	access_token,
	refresh_token,
	expires_at,
	created_at
`

func scanToken(row interface{ Scan(...any) error }) (*domain.Token, error) {
	var t domain.Token
	err := row.Scan(
		&t.TokenID,
		&t.ParentID,
		&t.AthleteID,
		&t.AccessToken,
		&t.RefreshToken,
		&t.ExpiresAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetCurrentToken 按 (parent, athlete) 归属取当前 token
func (r *PostgresTokensRepository) GetCurrentToken(ctx context.Context, parentID, athleteID string) (*domain.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM dexcom_tokens
		WHERE parent_id = $1 AND athlete_id = $2
	`, tokenColumns)

	token, err := scanToken(r.db.QueryRowContext(ctx, query, parentID, athleteID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current token: %w", err)
	}
	return token, nil
}

// GetCurrentTokenForAthlete 轮询侧按运动员取 token（任一家长建立的连接均可用）
func (r *PostgresTokensRepository) GetCurrentTokenForAthlete(ctx context.Context, athleteID string) (*domain.Token, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM dexcom_tokens
		WHERE athlete_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, tokenColumns)

	token, err := scanToken(r.db.QueryRowContext(ctx, query, athleteID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get token for athlete: %w", err)
	}
	return token, nil
}

// SaveToken 保存 token（同一 (parent, athlete) 归属下覆盖，后续读取返回新 token）
func (r *PostgresTokensRepository) SaveToken(ctx context.Context, token *domain.Token) error {
	if token.TokenID == "" {
		token.TokenID = uuid.New().String()
	}

	query := `
		INSERT INTO dexcom_tokens (
			token_id, parent_id, athlete_id, access_token, refresh_token, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (parent_id, athlete_id)
		DO UPDATE SET access_token = EXCLUDED.access_token,
		              refresh_token = EXCLUDED.refresh_token,
		              expires_at = EXCLUDED.expires_at,
		              created_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		token.TokenID,
		token.ParentID,
		token.AthleteID,
		token.AccessToken,
		token.RefreshToken,
		token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// DeleteToken 删除连接（解绑）
func (r *PostgresTokensRepository) DeleteToken(ctx context.Context, parentID, athleteID string) error {
	query := `DELETE FROM dexcom_tokens WHERE parent_id = $1 AND athlete_id = $2`

	_, err := r.db.ExecContext(ctx, query, parentID, athleteID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
