package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/model"
)

// ErrRequestExists возвращается при попытке создать дубликат заявки,
// когда между этими пользователями уже висит pending-заявка в любую сторону.
var ErrRequestExists = errors.New("friend request already pending")

type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

// CreateRequest создаёт заявку в друзья. Дубликаты отсекаются в обе стороны:
// если A уже отправил заявку B или B отправил A и она ещё pending, новая
// заявка не создаётся.
func (r *FriendRepository) CreateRequest(ctx context.Context, req *model.FriendRequest) error {
	defer logger.DeferLogDuration("friend.CreateRequest", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("friendRepo.CreateRequest begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM friend_requests
		   WHERE status = 'pending'
		     AND ((from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1))
		 )`, req.FromID, req.ToID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("friendRepo.CreateRequest check: %w", err)
	}
	if exists {
		return ErrRequestExists
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO friend_requests (id, from_id, to_id, status, created_at)
		 VALUES ($1, $2, $3, 'pending', $4)`,
		req.ID, req.FromID, req.ToID, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.CreateRequest insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("friendRepo.CreateRequest commit: %w", err)
	}
	return nil
}

func (r *FriendRepository) GetRequest(ctx context.Context, id string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetRequest", time.Now())()
	var req model.FriendRequest
	err := r.pool.QueryRow(ctx,
		`SELECT fr.id, fr.from_id, uf.username, fr.to_id, ut.username, fr.status, fr.created_at
		 FROM friend_requests fr
		 JOIN users uf ON uf.id = fr.from_id
		 JOIN users ut ON ut.id = fr.to_id
		 WHERE fr.id = $1`, id,
	).Scan(&req.ID, &req.FromID, &req.FromUsername, &req.ToID, &req.ToUsername, &req.Status, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("friendRepo.GetRequest: %w", err)
	}
	return &req, nil
}

// ListIncoming возвращает pending-заявки, адресованные пользователю.
func (r *FriendRepository) ListIncoming(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.ListIncoming", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT fr.id, fr.from_id, uf.username, fr.to_id, ut.username, fr.status, fr.created_at
		 FROM friend_requests fr
		 JOIN users uf ON uf.id = fr.from_id
		 JOIN users ut ON ut.id = fr.to_id
		 WHERE fr.to_id = $1 AND fr.status = 'pending'
		 ORDER BY fr.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListIncoming query: %w", err)
	}
	defer rows.Close()

	reqs := make([]model.FriendRequest, 0, 8)
	for rows.Next() {
		var req model.FriendRequest
		if err := rows.Scan(&req.ID, &req.FromID, &req.FromUsername, &req.ToID, &req.ToUsername, &req.Status, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("friendRepo.ListIncoming scan: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.ListIncoming rows: %w", err)
	}
	return reqs, nil
}

// Accept переводит заявку в accepted и создаёт симметричное ребро дружбы.
// Ребро хранится один раз, в порядке user_a < user_b.
func (r *FriendRepository) Accept(ctx context.Context, requestID string) error {
	defer logger.DeferLogDuration("friend.Accept", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("friendRepo.Accept begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var fromID, toID string
	err = tx.QueryRow(ctx,
		`UPDATE friend_requests SET status = 'accepted'
		 WHERE id = $1 AND status = 'pending'
		 RETURNING from_id, to_id`, requestID,
	).Scan(&fromID, &toID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("friendRepo.Accept update: %w", err)
	}

	a, b := fromID, toID
	if a > b {
		a, b = b, a
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO friends (user_a, user_b) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, a, b,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Accept edge: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("friendRepo.Accept commit: %w", err)
	}
	return nil
}

// Decline удаляет pending-заявку.
func (r *FriendRepository) Decline(ctx context.Context, requestID string) error {
	defer logger.DeferLogDuration("friend.Decline", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM friend_requests WHERE id = $1 AND status = 'pending'`, requestID,
	)
	if err != nil {
		return fmt.Errorf("friendRepo.Decline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FriendRepository) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	defer logger.DeferLogDuration("friend.AreFriends", time.Now())()
	a, b := userA, userB
	if a > b {
		a, b = b, a
	}
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM friends WHERE user_a = $1 AND user_b = $2)`, a, b,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("friendRepo.AreFriends: %w", err)
	}
	return exists, nil
}

// ListFriendIDs возвращает идентификаторы всех друзей пользователя.
func (r *FriendRepository) ListFriendIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("friend.ListFriendIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT CASE WHEN user_a = $1 THEN user_b ELSE user_a END
		 FROM friends
		 WHERE user_a = $1 OR user_b = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriendIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("friendRepo.ListFriendIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriendIDs rows: %w", err)
	}
	return ids, nil
}
