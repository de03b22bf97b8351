package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQueries implements Querier on a PostgreSQL pool with the pgvector
// extension. Vector parameters ride through the driver.Valuer fallback, so
// no custom type registration is needed on the pool.
type PGQueries struct {
	pool *pgxpool.Pool
}

// NewPGQueries wraps a connection pool.
func NewPGQueries(pool *pgxpool.Pool) *PGQueries {
	return &PGQueries{pool: pool}
}

func (q *PGQueries) EnsureCollection(ctx context.Context, name string) (string, error) {
	const stmt = `
		INSERT INTO collections (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	var id string
	if err := q.pool.QueryRow(ctx, stmt, uuid.NewString(), name).Scan(&id); err != nil {
		return "", fmt.Errorf("ensuring collection %q: %w", name, err)
	}
	return id, nil
}

func (q *PGQueries) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	metadataJSON, err := json.Marshal(arg.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	const stmt = `
		INSERT INTO chunks (id, collection_id, document_id, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			collection_id = EXCLUDED.collection_id,
			document_id   = EXCLUDED.document_id,
			chunk_index   = EXCLUDED.chunk_index,
			content       = EXCLUDED.content,
			embedding     = EXCLUDED.embedding,
			metadata      = EXCLUDED.metadata`

	_, err = q.pool.Exec(ctx, stmt,
		arg.ID, arg.CollectionID, arg.DocumentID, arg.ChunkIndex,
		arg.Content, arg.Embedding, metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting chunk %s: %w", arg.ID, err)
	}
	return nil
}

func (q *PGQueries) CountDocumentChunks(ctx context.Context, collectionID, documentID string) (int64, error) {
	const stmt = `
		SELECT COUNT(*) FROM chunks
		WHERE collection_id = $1 AND document_id = $2`

	var count int64
	if err := q.pool.QueryRow(ctx, stmt, collectionID, documentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks for %s: %w", documentID, err)
	}
	return count, nil
}

func (q *PGQueries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]ChunkRow, error) {
	const stmt = `
		SELECT document_id, chunk_index, content, metadata,
		       1 - (embedding <=> $2::vector) AS similarity
		FROM chunks
		WHERE collection_id = $1
		  AND ($3::text[] IS NULL OR metadata->>'file_name' = ANY($3::text[]))
		ORDER BY embedding <=> $2::vector
		LIMIT $4`

	var filenames []string
	if len(arg.Filenames) > 0 {
		filenames = arg.Filenames
	}

	rows, err := q.pool.Query(ctx, stmt, arg.CollectionID, arg.QueryEmbedding, filenames, arg.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var (
			row          ChunkRow
			metadataJSON []byte
		)
		if err := rows.Scan(&row.DocumentID, &row.ChunkIndex, &row.Content, &metadataJSON, &row.Similarity); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &row.Metadata); err != nil {
				row.Metadata = nil
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk rows: %w", err)
	}
	return out, nil
}
