package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctrlcxy/smart-draw/internal/domain"
)

// ConversationRepository maneja las filas de conversación y su borrado en cascada.
type ConversationRepository interface {
	CreateIfMissing(ctx context.Context, conv domain.Conversation) error
	List(ctx context.Context) ([]domain.Conversation, error)
	// DeleteCascade borra la conversación, sus mensajes y los blobs
	// referenciados por esos mensajes en una sola transacción.
	DeleteCascade(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) CreateIfMissing(ctx context.Context, conv domain.Conversation) error {
	const query = `
		INSERT INTO conversations (id, title, chart_type, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	var cfg []byte
	if conv.Config != nil {
		b, err := json.Marshal(conv.Config)
		if err != nil {
			return err
		}
		cfg = b
	}

	_, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.Title,
		conv.ChartType,
		cfg,
		conv.CreatedAt,
		conv.UpdatedAt,
	)
	return err
}

func (r *PgConversationRepository) List(ctx context.Context) ([]domain.Conversation, error) {
	const query = `
		SELECT id, title, chart_type, config, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var cfg []byte

		err = rows.Scan(
			&conv.ID,
			&conv.Title,
			&conv.ChartType,
			&cfg,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			var mc domain.ModelConfig
			if err := json.Unmarshal(cfg, &mc); err == nil {
				conv.Config = &mc
			}
		}
		convs = append(convs, conv)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return convs, nil
}

func (r *PgConversationRepository) DeleteCascade(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Primero los blobs referenciados, para no dejar huérfanos.
	const blobQuery = `
		DELETE FROM blobs
		WHERE id IN (
			SELECT jsonb_array_elements(m.attachments)->>'blobId'
			FROM messages m
			WHERE m.conversation_id = $1
			  AND jsonb_typeof(m.attachments) = 'array'
		)
	`
	if _, err = tx.Exec(ctx, blobQuery, id); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PgConversationRepository) ClearAll(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"blobs", "messages", "conversations"} {
		if _, err = tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
