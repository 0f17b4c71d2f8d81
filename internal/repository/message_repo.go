package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctrlcxy/smart-draw/internal/domain"
)

// MessageRepository guarda mensajes inmutables por conversación.
type MessageRepository interface {
	Create(ctx context.Context, msg domain.Message) error
	// CreatePair escribe los dos mensajes de un turno en una transacción:
	// el assistant nunca queda visible sin su mensaje user pareado.
	CreatePair(ctx context.Context, user, assistant domain.Message) error
	ListByConversationID(ctx context.Context, conversationID string) ([]domain.Message, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

const insertMessageQuery = `
	INSERT INTO messages (id, conversation_id, role, content, type, attachments, legacy_images, legacy_files, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// El bump de updated_at de la conversación es responsabilidad del store:
// cada inserción de mensaje lo arrastra.
const touchConversationQuery = `
	UPDATE conversations SET updated_at = $2 WHERE id = $1 AND updated_at < $2
`

func messageArgs(msg domain.Message) ([]any, error) {
	atts, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, err
	}

	var images, files []byte
	if len(msg.LegacyImages) > 0 {
		if images, err = json.Marshal(msg.LegacyImages); err != nil {
			return nil, err
		}
	}
	if len(msg.LegacyFiles) > 0 {
		if files, err = json.Marshal(msg.LegacyFiles); err != nil {
			return nil, err
		}
	}

	return []any{
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		msg.Type,
		atts,
		images,
		files,
		msg.CreatedAt,
	}, nil
}

func (r *PgMessageRepository) Create(ctx context.Context, msg domain.Message) error {
	args, err := messageArgs(msg)
	if err != nil {
		return err
	}
	if _, err = r.pool.Exec(ctx, insertMessageQuery, args...); err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, touchConversationQuery, msg.ConversationID, msg.CreatedAt)
	return err
}

func (r *PgMessageRepository) CreatePair(ctx context.Context, user, assistant domain.Message) error {
	userArgs, err := messageArgs(user)
	if err != nil {
		return err
	}
	assistantArgs, err := messageArgs(assistant)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err = tx.Exec(ctx, insertMessageQuery, userArgs...); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, insertMessageQuery, assistantArgs...); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, touchConversationQuery, assistant.ConversationID, assistant.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PgMessageRepository) ListByConversationID(ctx context.Context, conversationID string) ([]domain.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, type, attachments, legacy_images, legacy_files, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var msg domain.Message
	var atts, images, files []byte

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Role,
		&msg.Content,
		&msg.Type,
		&atts,
		&images,
		&files,
		&msg.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, err
	}

	// Los jsonb pueden venir con formas viejas; un unmarshal fallido se
	// trata como campo ausente en vez de tumbar el listado completo.
	if len(atts) > 0 {
		_ = json.Unmarshal(atts, &msg.Attachments)
	}
	if len(images) > 0 {
		_ = json.Unmarshal(images, &msg.LegacyImages)
	}
	if len(files) > 0 {
		_ = json.Unmarshal(files, &msg.LegacyFiles)
	}

	return msg, nil
}
