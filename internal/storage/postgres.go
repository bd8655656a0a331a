package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/healthvoice/retrieval/internal/embedding"
)

// DefaultQueryTimeout bounds every remote backend call so a slow backend
// fails with a storage error instead of blocking the caller.
const DefaultQueryTimeout = 5 * time.Second

// PostgresBackend is the remote storage tier. Term vectors are persisted as
// JSONB next to their chunk rows and scored client-side with the shared
// scorer, so rankings match the in-process fallback exactly.
type PostgresBackend struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresBackend connects and verifies the backend within the timeout.
func NewPostgresBackend(ctx context.Context, dsn string, timeout time.Duration) (*PostgresBackend, error) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresBackend{db: db, timeout: timeout}, nil
}

// NewPostgresBackendWithDB wraps an existing connection (used by tests).
func NewPostgresBackendWithDB(db *sql.DB, timeout time.Duration) *PostgresBackend {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &PostgresBackend{db: db, timeout: timeout}
}

func (p *PostgresBackend) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *PostgresBackend) AddDocument(ctx context.Context, doc Document, recs []VectorRecord) error {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return &StorageError{Op: "add", Err: err}
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "add", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO documents (id, owner_id, filename, metadata, upload_date)
VALUES ($1,$2,$3,$4,$5)
`, doc.ID, doc.OwnerID, doc.Filename, meta, doc.UploadDate); err != nil {
		return &StorageError{Op: "add", Err: err}
	}

	for i, chunk := range doc.Chunks {
		terms, err := json.Marshal(recs[i].Terms)
		if err != nil {
			return &StorageError{Op: "add", Err: err}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks (id, document_id, owner_id, chunk_index, content, length, terms, preview)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, recs[i].ID, doc.ID, doc.OwnerID, chunk.Index, chunk.Text, chunk.Length, terms, recs[i].TextPreview); err != nil {
			return &StorageError{Op: "add", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "add", Err: err}
	}
	return nil
}

func (p *PostgresBackend) Search(ctx context.Context, query embedding.TermVector, ownerID string) ([]SearchHit, error) {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
SELECT c.id, c.document_id, c.chunk_index, c.content, c.terms, d.filename, d.metadata, d.upload_date
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.owner_id = $1
`, ownerID)
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var (
			hit        SearchHit
			termsRaw   []byte
			metaRaw    []byte
			uploadDate time.Time
		)
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.ChunkIndex, &hit.Text, &termsRaw, &hit.Filename, &metaRaw, &uploadDate); err != nil {
			return nil, &StorageError{Op: "search", Err: err}
		}
		var terms embedding.TermVector
		if err := json.Unmarshal(termsRaw, &terms); err != nil {
			return nil, &StorageError{Op: "search", Err: err}
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &hit.Metadata); err != nil {
				return nil, &StorageError{Op: "search", Err: err}
			}
		}
		hit.UploadDate = uploadDate
		hit.Score = embedding.Cosine(query, terms)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}
	return hits, nil
}

func (p *PostgresBackend) GetDocument(ctx context.Context, documentID, ownerID string) (Document, bool, error) {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	var (
		doc     Document
		metaRaw []byte
	)
	err := p.db.QueryRowContext(ctx, `
SELECT id, owner_id, filename, metadata, upload_date
FROM documents
WHERE id = $1 AND owner_id = $2
`, documentID, ownerID).Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &metaRaw, &doc.UploadDate)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, &StorageError{Op: "get", Err: err}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
			return Document{}, false, &StorageError{Op: "get", Err: err}
		}
	}

	rows, err := p.db.QueryContext(ctx, `
SELECT document_id, chunk_index, content, length
FROM chunks
WHERE document_id = $1
ORDER BY chunk_index
`, documentID)
	if err != nil {
		return Document{}, false, &StorageError{Op: "get", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var chunk Chunk
		if err := rows.Scan(&chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.Length); err != nil {
			return Document{}, false, &StorageError{Op: "get", Err: err}
		}
		doc.Chunks = append(doc.Chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return Document{}, false, &StorageError{Op: "get", Err: err}
	}
	return doc, true, nil
}

// DeleteDocument relies on ON DELETE CASCADE to drop chunk rows together
// with the document. Wrong-owner and missing documents both report false.
func (p *PostgresBackend) DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error) {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `
DELETE FROM documents WHERE id = $1 AND owner_id = $2
`, documentID, ownerID)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

func (p *PostgresBackend) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
SELECT id, owner_id, filename, metadata, upload_date
FROM documents
WHERE owner_id = $1
ORDER BY upload_date DESC
`, ownerID)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc     Document
			metaRaw []byte
		)
		if err := rows.Scan(&doc.ID, &doc.OwnerID, &doc.Filename, &metaRaw, &doc.UploadDate); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &doc.Metadata); err != nil {
				return nil, &StorageError{Op: "list", Err: err}
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return docs, nil
}

func (p *PostgresBackend) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()

	st := Stats{DocumentsByOwner: make(map[string]int)}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.TotalChunks); err != nil {
		return Stats{}, &StorageError{Op: "stats", Err: err}
	}
	rows, err := p.db.QueryContext(ctx, `
SELECT owner_id, COUNT(*) FROM documents GROUP BY owner_id
`)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var owner string
		var count int
		if err := rows.Scan(&owner, &count); err != nil {
			return Stats{}, &StorageError{Op: "stats", Err: err}
		}
		st.DocumentsByOwner[owner] = count
		st.TotalDocuments += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, &StorageError{Op: "stats", Err: err}
	}
	return st, nil
}

func (p *PostgresBackend) HealthCheck(ctx context.Context) Health {
	ctx, cancel := p.withDeadline(ctx)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return Health{Status: StatusUnhealthy, Detail: fmt.Sprintf("postgres unreachable: %v", err)}
	}
	return Health{Status: StatusHealthy, Detail: "postgres store"}
}

func (p *PostgresBackend) Close() error { return p.db.Close() }
