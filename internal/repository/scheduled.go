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

const schedCols = `id, conversation_id, sender_id, text_body, scheduled_time, created_at`

type ScheduledRepository struct {
	pool *pgxpool.Pool
}

func NewScheduledRepository(pool *pgxpool.Pool) *ScheduledRepository {
	return &ScheduledRepository{pool: pool}
}

func scanScheduled(s interface{ Scan(dest ...any) error }, sm *model.ScheduledMessage) error {
	return s.Scan(&sm.ID, &sm.ConversationID, &sm.SenderID, &sm.Text, &sm.ScheduledTime, &sm.CreatedAt)
}

func (r *ScheduledRepository) Insert(ctx context.Context, sm *model.ScheduledMessage) error {
	defer logger.DeferLogDuration("sched.Insert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO scheduled_messages (id, conversation_id, sender_id, text_body, scheduled_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sm.ID, sm.ConversationID, sm.SenderID, sm.Text, sm.ScheduledTime, sm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("schedRepo.Insert: %w", err)
	}
	return nil
}

func (r *ScheduledRepository) GetByID(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	defer logger.DeferLogDuration("sched.GetByID", time.Now())()
	var sm model.ScheduledMessage
	row := r.pool.QueryRow(ctx,
		`SELECT `+schedCols+` FROM scheduled_messages WHERE id = $1`, id,
	)
	if err := scanScheduled(row, &sm); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("schedRepo.GetByID: %w", err)
	}
	return &sm, nil
}

// ListConversation возвращает отложенные сообщения чата (снапшот для вида).
func (r *ScheduledRepository) ListConversation(ctx context.Context, conversationID string) ([]model.ScheduledMessage, error) {
	defer logger.DeferLogDuration("sched.ListConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+schedCols+` FROM scheduled_messages
		 WHERE conversation_id = $1
		 ORDER BY scheduled_time ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("schedRepo.ListConversation query: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

// ListDue возвращает все отложенные сообщения со сроком <= before (для sweep).
func (r *ScheduledRepository) ListDue(ctx context.Context, before time.Time) ([]model.ScheduledMessage, error) {
	defer logger.DeferLogDuration("sched.ListDue", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+schedCols+` FROM scheduled_messages
		 WHERE scheduled_time <= $1
		 ORDER BY scheduled_time ASC`, before,
	)
	if err != nil {
		return nil, fmt.Errorf("schedRepo.ListDue query: %w", err)
	}
	defer rows.Close()
	return collectScheduled(rows)
}

func collectScheduled(rows pgx.Rows) ([]model.ScheduledMessage, error) {
	items := make([]model.ScheduledMessage, 0, 8)
	for rows.Next() {
		var sm model.ScheduledMessage
		if err := scanScheduled(rows, &sm); err != nil {
			return nil, fmt.Errorf("schedRepo scan: %w", err)
		}
		items = append(items, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedRepo rows: %w", err)
	}
	return items, nil
}

// Promote атомарно переводит отложенное сообщение в ленту: вставка живого
// сообщения и удаление отложенной записи в одной транзакции. Если запись уже
// удалена параллельным sweep, возвращает ErrNotFound и ничего не вставляет —
// так каждое отложенное сообщение созревает ровно один раз.
func (r *ScheduledRepository) Promote(ctx context.Context, scheduledID string, m *model.Message) error {
	defer logger.DeferLogDuration("sched.Promote", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schedRepo.Promote begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM scheduled_messages WHERE id = $1`, scheduledID,
	)
	if err != nil {
		return fmt.Errorf("schedRepo.Promote delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages
		   (id, conversation_id, sender_id, text_body, content_type, file_url, file_name,
		    ts, seen, seen_by, deleted_for, is_deleted)
		 VALUES ($1, $2, $3, $4, 'text', '', '', $5, false, '{}', '{}', false)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("schedRepo.Promote insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schedRepo.Promote commit: %w", err)
	}
	return nil
}

// Delete удаляет отложенное сообщение (отмена до созревания).
func (r *ScheduledRepository) Delete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("sched.Delete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM scheduled_messages WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("schedRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
