package storage_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/healthvoice/retrieval/internal/embedding"
	"github.com/healthvoice/retrieval/internal/retrieval"
	"github.com/healthvoice/retrieval/internal/storage"
)

func TestPostgresBackendEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgUser := "retrieval"
	pgPassword := "retrieval"
	pgDB := "retrieval"

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase(pgDB),
		tcPostgres.WithUsername(pgUser),
		tcPostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	redisHost, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	redisPort, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, pgHost, pgPort.Port(), pgDB)
	if err := applySchema(ctx, dsn); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st := storage.Open(ctx, storage.Options{PostgresDSN: dsn}, embedding.NewLexicalEmbedder(), nil)
	defer func() { _ = st.Close() }()
	if st.Fallback() {
		t.Fatalf("expected remote backend, got fallback")
	}

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	defer func() { _ = rdb.Close() }()
	cache := retrieval.NewQueryCache(rdb, "medical_documents", time.Minute, nil)

	svc := retrieval.NewService(st, cache, retrieval.Options{}, nil)

	ids, err := svc.AddDocument(ctx, storage.Document{
		OwnerID:  "owner-1",
		Filename: "labs.pdf",
		Metadata: storage.DocumentMetadata{Title: "Lab Results", PatientName: "Jordan Reyes", Age: 44},
		Chunks: []storage.Chunk{
			{Text: "Hemoglobin: 13.5 g/dl within reference", Length: 38},
			{Text: "Glucose fasting 95 mg/dl normal", Length: 31},
		},
	})
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chunk ids got %d", len(ids))
	}

	hits, err := svc.Search(ctx, "hemoglobin", "owner-1", storage.SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected hits from remote backend")
	}
	if hits[0].ChunkID != ids[0] {
		t.Fatalf("expected hemoglobin chunk first, got %q", hits[0].ChunkID)
	}

	// second identical search is served from redis and must rank identically
	cached, err := svc.Search(ctx, "hemoglobin", "owner-1", storage.SearchOptions{})
	if err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if len(cached) != len(hits) || cached[0].ChunkID != hits[0].ChunkID {
		t.Fatalf("cached ranking diverged: %+v vs %+v", cached, hits)
	}

	mc, err := svc.RetrieveMedicalContext(ctx, "hemoglobin glucose", "owner-1", retrieval.ContextOptions{})
	if err != nil {
		t.Fatalf("medical context: %v", err)
	}
	if len(mc.LabResults) == 0 {
		t.Fatalf("expected extracted lab results")
	}
	if mc.PatientData == nil || mc.PatientData.Name != "Jordan Reyes" {
		t.Fatalf("expected patient identity, got %+v", mc.PatientData)
	}

	docID := hits[0].DocumentID
	ok, err := svc.DeleteDocument(ctx, docID, "owner-1")
	if err != nil || !ok {
		t.Fatalf("delete document: ok=%v err=%v", ok, err)
	}
	hits, err = svc.Search(ctx, "hemoglobin", "owner-1", storage.SearchOptions{})
	if err != nil {
		t.Fatalf("search after delete: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after cascade delete, got %d", len(hits))
	}
}

func applySchema(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaSQL := `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  filename TEXT NOT NULL DEFAULT '',
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  upload_date TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chunks (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  owner_id TEXT NOT NULL,
  chunk_index INTEGER NOT NULL,
  content TEXT NOT NULL,
  length INTEGER NOT NULL,
  terms JSONB NOT NULL DEFAULT '{}'::jsonb,
  preview TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
CREATE INDEX IF NOT EXISTS idx_chunks_owner ON chunks(owner_id);
`
	_, err = db.ExecContext(ctx, schemaSQL)
	return err
}
