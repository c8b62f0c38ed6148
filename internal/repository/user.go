package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chitchat/internal/apperr"
	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/model"
)

// ErrNotFound — запись отсутствует. Совпадает с apperr.ErrNotFound, чтобы
// обработчики проверяли один sentinel.
var ErrNotFound = apperr.ErrNotFound

const userCols = `id, username, avatar_url, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser сканирует строку в model.User (порядок соответствует userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.LastSeenAt, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, avatar_url, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.AvatarURL, u.LastSeenAt, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsername", time.Now())()
	u := &model.User{}
	err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE username = $1`,
		model.NormalizeUsername(username)), u)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByUsername: %w", err)
	}
	return u, nil
}

// SearchByUsername ищет пользователей по префиксу username (нижний регистр).
func (r *UserRepository) SearchByUsername(ctx context.Context, prefix string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.SearchByUsername", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE username LIKE $1 || '%'
		 ORDER BY username
		 LIMIT $2`,
		model.NormalizeUsername(prefix), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.SearchByUsername query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.SearchByUsername scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.SearchByUsername rows: %w", err)
	}
	return users, nil
}

// UpdateProfile изменяет username и/или avatar_url.
func (r *UserRepository) UpdateProfile(ctx context.Context, id, username, avatarURL string) error {
	defer logger.DeferLogDuration("user.UpdateProfile", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET username = $1, avatar_url = $2 WHERE id = $3`,
		model.NormalizeUsername(username), avatarURL, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateProfile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSeen записывает heartbeat (last-write-wins, без проверки старого значения).
func (r *UserRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("user.UpdateLastSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_seen_at = $1 WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("userRepo.UpdateLastSeen: %w", err)
	}
	return nil
}

// GetLastSeen возвращает время последнего heartbeat. Отсутствие пользователя —
// не ошибка для presence: возвращается нулевое время (трактуется как offline).
func (r *UserRepository) GetLastSeen(ctx context.Context, id string) (time.Time, error) {
	defer logger.DeferLogDuration("user.GetLastSeen", time.Now())()
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT last_seen_at FROM users WHERE id = $1`, id,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("userRepo.GetLastSeen: %w", err)
	}
	return t, nil
}

// GetMany возвращает пользователей по списку id (для карточек участников группы).
func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.GetMany", time.Now())()
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetMany query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetMany scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetMany rows: %w", err)
	}
	return users, nil
}
