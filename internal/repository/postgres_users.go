package repository

import (
	"context"
	"database/sql"
	"fmt"

	"glucowatch/internal/domain"

	"github.com/google/uuid"
)

// PostgresUsersRepository 用户Repository实现
type PostgresUsersRepository struct {
	db *sql.DB
}

// NewPostgresUsersRepository 创建用户Repository
func NewPostgresUsersRepository(db *sql.DB) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db}
}

var _ UsersRepository = (*PostgresUsersRepository)(nil)

const userColumns = `
	user_id::text,
	name,
	email,
	password_hash,
	role,
	created_at
`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var role string
	err := row.Scan(
		&u.UserID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("failed to parse user role: %w", err)
	}
	u.Role = parsed
	return &u, nil
}

// GetUser 获取用户
func (r *PostgresUsersRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE user_id = $1`, userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateUser 创建用户
func (r *PostgresUsersRepository) CreateUser(ctx context.Context, user *domain.User) (string, error) {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}

	query := `
		INSERT INTO users (user_id, name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		user.UserID,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return user.UserID, nil
}

// FindAthletes 返回全部可轮询目标
func (r *PostgresUsersRepository) FindAthletes(ctx context.Context) ([]*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE role = $1 ORDER BY created_at`, userColumns)

	rows, err := r.db.QueryContext(ctx, query, string(domain.RoleAthlete))
	if err != nil {
		return nil, fmt.Errorf("failed to find athletes: %w", err)
	}
	defer rows.Close()

	var athletes []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan athlete: %w", err)
		}
		athletes = append(athletes, user)
	}
	return athletes, rows.Err()
}

// LinkParentAthlete 建立家长-运动员关联（重复关联幂等）
func (r *PostgresUsersRepository) LinkParentAthlete(ctx context.Context, parentID, athleteID string) error {
	query := `
		INSERT INTO parent_athlete_links (parent_id, athlete_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (parent_id, athlete_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, parentID, athleteID)
	if err != nil {
		return fmt.Errorf("failed to link parent and athlete: %w", err)
	}
	return nil
}

// ListParentsOfAthlete 查询运动员的全部家长（低血糖紧急消息的接收方）
func (r *PostgresUsersRepository) ListParentsOfAthlete(ctx context.Context, athleteID string) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users u
		JOIN parent_athlete_links l ON l.parent_id = u.user_id
		WHERE l.athlete_id = $1
		ORDER BY u.created_at
	`, prefixedUserColumns("u"))

	rows, err := r.db.QueryContext(ctx, query, athleteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list parents of athlete: %w", err)
	}
	defer rows.Close()

	var parents []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parent: %w", err)
		}
		parents = append(parents, user)
	}
	return parents, rows.Err()
}

// ListAthletesOfParent 查询家长名下的全部运动员
func (r *PostgresUsersRepository) ListAthletesOfParent(ctx context.Context, parentID string) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM users u
		JOIN parent_athlete_links l ON l.athlete_id = u.user_id
		WHERE l.parent_id = $1
		ORDER BY u.created_at
	`, prefixedUserColumns("u"))

	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list athletes of parent: %w", err)
	}
	defer rows.Close()

	var athletes []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan athlete: %w", err)
		}
		athletes = append(athletes, user)
	}
	return athletes, rows.Err()
}

func prefixedUserColumns(alias string) string {
	return fmt.Sprintf(`
	%[1]s.user_id::text,
	%[1]s.name,
	%[1]s.email,
	%[1]s.password_hash,
	%[1]s.role,
	%[1]s.created_at
`, alias)
}
