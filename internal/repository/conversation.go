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

const convCols = `id, conv_type, name, description, image_url, members, created_by,
	last_message, last_message_sender, message_seen, updated_at, created_at`

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.Type, &c.Name, &c.Description, &c.ImageURL, &c.Members, &c.CreatedBy,
		&c.LastMessage, &c.LastMessageSender, &c.MessageSeen, &c.UpdatedAt, &c.CreatedAt)
}

func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations
		   (id, conv_type, name, description, image_url, members, created_by,
		    last_message, last_message_sender, message_seen, updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Type, c.Name, c.Description, c.ImageURL, c.Members, c.CreatedBy,
		c.LastMessage, c.LastMessageSender, c.MessageSeen, c.UpdatedAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Create: %w", err)
	}
	return nil
}

// EnsureDirect создаёт запись личного чата, если её нет. Идемпотентна: при
// конфликте по id существующая запись (и её история) не трогается.
// Возвращает true, если запись была создана этим вызовом.
func (r *ConversationRepository) EnsureDirect(ctx context.Context, c *model.Conversation) (bool, error) {
	defer logger.DeferLogDuration("conv.EnsureDirect", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversations
		   (id, conv_type, name, description, image_url, members, created_by,
		    last_message, last_message_sender, message_seen, updated_at, created_at)
		 VALUES ($1, 'direct', '', '', '', $2, $3, '', '', true, $4, $4)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.Members, c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("convRepo.EnsureDirect: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := scanConversation(r.pool.QueryRow(ctx,
		`SELECT `+convCols+` FROM conversations WHERE id = $1`, id), c)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// GetUserConversations возвращает чаты пользователя, свежие сверху.
func (r *ConversationRepository) GetUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetUserConversations", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+convCols+` FROM conversations
		 WHERE $1 = ANY(members)
		 ORDER BY updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetUserConversations query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.GetUserConversations scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetUserConversations rows: %w", err)
	}
	return convs, nil
}

// AddMembers — теоретико-множественное объединение: уже состоящие в группе
// участники не дублируются.
func (r *ConversationRepository) AddMembers(ctx context.Context, id string, memberIDs []string) error {
	defer logger.DeferLogDuration("conv.AddMembers", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET members = (SELECT array_agg(DISTINCT m) FROM unnest(members || $2::text[]) AS m)
		 WHERE id = $1 AND conv_type = 'group'`,
		id, memberIDs,
	)
	if err != nil {
		return fmt.Errorf("convRepo.AddMembers: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveMember — разность множеств; на видимость уже отправленных сообщений
// не влияет (удалённый участник сохраняет доступ к истории до удаления).
func (r *ConversationRepository) RemoveMember(ctx context.Context, id, memberID string) error {
	defer logger.DeferLogDuration("conv.RemoveMember", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET members = array_remove(members, $2)
		 WHERE id = $1 AND conv_type = 'group'`,
		id, memberID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.RemoveMember: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInfo изменяет имя/описание/картинку группы.
func (r *ConversationRepository) UpdateInfo(ctx context.Context, id, name, description, imageURL string) error {
	defer logger.DeferLogDuration("conv.UpdateInfo", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE conversations SET name = $2, description = $3, image_url = $4
		 WHERE id = $1 AND conv_type = 'group'`,
		id, name, description, imageURL,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateInfo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSummary обновляет денормализованную сводку последнего сообщения.
// Best-effort кеш для списочных видов, не источник истины.
func (r *ConversationRepository) UpdateSummary(ctx context.Context, id, lastMessage, sender string, at time.Time) error {
	defer logger.DeferLogDuration("conv.UpdateSummary", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations
		 SET last_message = $2, last_message_sender = $3, message_seen = false, updated_at = $4
		 WHERE id = $1`,
		id, lastMessage, sender, at,
	)
	if err != nil {
		return fmt.Errorf("convRepo.UpdateSummary: %w", err)
	}
	return nil
}

// MarkSummarySeen снимает флаг непрочитанности, только если он был установлен.
func (r *ConversationRepository) MarkSummarySeen(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("conv.MarkSummarySeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET message_seen = true
		 WHERE id = $1 AND message_seen = false`, id,
	)
	if err != nil {
		return fmt.Errorf("convRepo.MarkSummarySeen: %w", err)
	}
	return nil
}
