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

const msgCols = `id, conversation_id, sender_id, text_body, content_type,
	file_url, file_name, ts, seen, seen_by, deleted_for, is_deleted`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	return s.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ContentType,
		&m.FileURL, &m.FileName, &m.Timestamp, &m.Seen, &m.SeenBy, &m.DeletedFor, &m.IsDeleted)
}

func (r *MessageRepository) Insert(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages
		   (id, conversation_id, sender_id, text_body, content_type, file_url, file_name,
		    ts, seen, seen_by, deleted_for, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.ContentType, m.FileURL, m.FileName,
		m.Timestamp, m.Seen, m.SeenBy, m.DeletedFor, m.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Insert: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+msgCols+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListConversation возвращает все сообщения чата по возрастанию времени —
// снапшот для открытия вида; фильтрация видимости выполняется потребителем.
func (r *MessageRepository) ListConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+msgCols+` FROM messages
		 WHERE conversation_id = $1
		 ORDER BY ts ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversation query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListConversation scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListConversation rows: %w", err)
	}
	return msgs, nil
}

// AddDeletedFor добавляет зрителя в набор персонального удаления.
// Идемпотентно: повторное добавление — no-op на уровне SQL-условия.
// Отсутствующее сообщение — тоже no-op (RowsAffected == 0, без ошибки).
func (r *MessageRepository) AddDeletedFor(ctx context.Context, id string, userIDs []string) error {
	defer logger.DeferLogDuration("msg.AddDeletedFor", time.Now())()
	for _, uid := range userIDs {
		_, err := r.pool.Exec(ctx,
			`UPDATE messages SET deleted_for = array_append(deleted_for, $2)
			 WHERE id = $1 AND NOT ($2 = ANY(deleted_for))`,
			id, uid,
		)
		if err != nil {
			return fmt.Errorf("msgRepo.AddDeletedFor: %w", err)
		}
	}
	return nil
}

// Tombstone заменяет содержимое надгробием и очищает оба набора удаления.
// Очистка намеренная: надгробие видно всем, перекрывая прежние персональные
// удаления (поведение исходного продукта, см. DESIGN.md).
func (r *MessageRepository) Tombstone(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.Tombstone", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages
		 SET text_body = $2, content_type = 'text', file_url = '', file_name = '',
		     is_deleted = true, deleted_for = '{}', seen_by = '{}'
		 WHERE id = $1`,
		id, model.DeletedText,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Tombstone: %w", err)
	}
	return nil
}

// ClearForUser — мягкое удаление всего чата для одного зрителя. Один UPDATE,
// то есть атомарный батч: сбой посередине не оставит чат вычищенным частично.
func (r *MessageRepository) ClearForUser(ctx context.Context, conversationID, userID string) error {
	defer logger.DeferLogDuration("msg.ClearForUser", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_for = array_append(deleted_for, $2)
		 WHERE conversation_id = $1 AND NOT ($2 = ANY(deleted_for))`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.ClearForUser: %w", err)
	}
	return nil
}

// MarkSeen отмечает чужие сообщения чата прочитанными зрителем:
// для личного чата — флаг seen, для группы — вступление в набор seen_by.
func (r *MessageRepository) MarkSeen(ctx context.Context, conversationID, viewerID string) error {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages
		 SET seen = true,
		     seen_by = CASE WHEN $2 = ANY(seen_by) THEN seen_by ELSE array_append(seen_by, $2) END
		 WHERE conversation_id = $1 AND sender_id != $2`,
		conversationID, viewerID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	return nil
}
