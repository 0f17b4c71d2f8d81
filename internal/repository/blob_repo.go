package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctrlcxy/smart-draw/internal/domain"
)

// BlobRepository guarda adjuntos binarios write-once.
type BlobRepository interface {
	Put(ctx context.Context, rec domain.BlobRecord) error
	// Get devuelve (nil, nil) cuando el blob no existe.
	Get(ctx context.Context, id string) (*domain.BlobRecord, error)
}

type PgBlobRepository struct {
	pool *pgxpool.Pool
}

func NewPgBlobRepository(pool *pgxpool.Pool) *PgBlobRepository {
	return &PgBlobRepository{pool: pool}
}

func (r *PgBlobRepository) Put(ctx context.Context, rec domain.BlobRecord) error {
	const query = `
		INSERT INTO blobs (id, blob, name, type, size)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Blob,
		rec.Name,
		rec.Type,
		rec.Size,
	)
	return err
}

func (r *PgBlobRepository) Get(ctx context.Context, id string) (*domain.BlobRecord, error) {
	const query = `
		SELECT id, blob, name, type, size
		FROM blobs
		WHERE id = $1
	`
	var rec domain.BlobRecord
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Blob,
		&rec.Name,
		&rec.Type,
		&rec.Size,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
