package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healthvoice/retrieval/internal/embedding"
)

const previewLen = 160

// Options configure backend selection for a Store.
type Options struct {
	// PostgresDSN selects the remote backend when non-empty.
	PostgresDSN string
	// QueryTimeout bounds each remote call. Zero means DefaultQueryTimeout.
	QueryTimeout time.Duration
	// Collection names the logical store (surfaced via health detail).
	Collection string
}

// Store dispatches chunk storage operations to the active backend. The
// backend is resolved once in Open and held for the process lifetime: a
// remote connect failure triggers a one-time permanent fallback to the
// in-process store, never retried.
type Store struct {
	embedder   embedding.Embedder
	backend    Backend
	fallback   bool
	collection string
	logger     *log.Logger
}

// Open resolves the backend. It never fails: when the remote backend is
// unconfigured or unreachable it logs once and serves from memory.
func Open(ctx context.Context, opts Options, embedder embedding.Embedder, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	s := &Store{embedder: embedder, collection: opts.Collection, logger: logger}

	if opts.PostgresDSN == "" {
		logger.Printf("no remote backend configured, using in-memory store")
		s.backend = NewMemoryBackend()
		s.fallback = true
		return s
	}
	pg, err := NewPostgresBackend(ctx, opts.PostgresDSN, opts.QueryTimeout)
	if err != nil {
		logger.Printf("remote backend unavailable, falling back to in-memory store: %v", err)
		s.backend = NewMemoryBackend()
		s.fallback = true
		return s
	}
	s.backend = pg
	return s
}

// OpenWithBackend wires a prepared backend (used by tests and embedders of
// the library that manage their own connections).
func OpenWithBackend(backend Backend, embedder embedding.Embedder, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Store{embedder: embedder, backend: backend, logger: logger}
}

// Fallback reports whether the in-process store is active.
func (s *Store) Fallback() bool { return s.fallback }

// AddDocument validates, embeds and persists the document with one vector
// record per chunk. Returns the assigned chunk ids.
func (s *Store) AddDocument(ctx context.Context, doc Document) ([]string, error) {
	if s == nil || s.backend == nil {
		return nil, ErrNotInitialized
	}
	if doc.OwnerID == "" {
		return nil, ErrMissingOwner
	}
	if len(doc.Chunks) == 0 {
		return nil, ErrEmptyChunks
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now().UTC()
	}

	chunkIDs := make([]string, len(doc.Chunks))
	recs := make([]VectorRecord, len(doc.Chunks))
	for i := range doc.Chunks {
		doc.Chunks[i].DocumentID = doc.ID
		doc.Chunks[i].Index = i
		if doc.Chunks[i].Length == 0 {
			doc.Chunks[i].Length = len(doc.Chunks[i].Text)
		}
		chunkIDs[i] = fmt.Sprintf("%s_chunk_%d", doc.ID, i)
		recs[i] = VectorRecord{
			ID:          chunkIDs[i],
			DocumentID:  doc.ID,
			OwnerID:     doc.OwnerID,
			ChunkIndex:  i,
			Terms:       s.embedder.Embed(doc.Chunks[i].Text),
			TextPreview: preview(doc.Chunks[i].Text),
		}
	}
	if err := s.backend.AddDocument(ctx, doc, recs); err != nil {
		return nil, err
	}
	return chunkIDs, nil
}

// Search embeds the query and ranks the owner's chunks. Ranking is
// deterministic: score descending, then document title ascending, then chunk
// index ascending. Hits below MinScore are excluded; a transient backend
// fault degrades to an empty result instead of aborting the request.
func (s *Store) Search(ctx context.Context, query, ownerID string, opts SearchOptions) ([]SearchHit, error) {
	if s == nil || s.backend == nil {
		return nil, ErrNotInitialized
	}
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	hits, err := s.backend.Search(ctx, s.embedder.Embed(query), ownerID)
	if err != nil {
		s.logger.Printf("search degraded to empty result: %v", err)
		return nil, nil
	}
	ranked := hits[:0]
	for _, h := range hits {
		if h.Score >= opts.MinScore && h.Score > 0 {
			ranked = append(ranked, h)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Metadata.Title != ranked[j].Metadata.Title {
			return ranked[i].Metadata.Title < ranked[j].Metadata.Title
		}
		return ranked[i].ChunkIndex < ranked[j].ChunkIndex
	})
	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}
	return ranked, nil
}

func (s *Store) GetDocument(ctx context.Context, documentID, ownerID string) (Document, bool, error) {
	if s == nil || s.backend == nil {
		return Document{}, false, ErrNotInitialized
	}
	if ownerID == "" {
		return Document{}, false, ErrMissingOwner
	}
	return s.backend.GetDocument(ctx, documentID, ownerID)
}

func (s *Store) DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error) {
	if s == nil || s.backend == nil {
		return false, ErrNotInitialized
	}
	if ownerID == "" {
		return false, ErrMissingOwner
	}
	return s.backend.DeleteDocument(ctx, documentID, ownerID)
}

func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	if s == nil || s.backend == nil {
		return nil, ErrNotInitialized
	}
	if ownerID == "" {
		return nil, ErrMissingOwner
	}
	docs, err := s.backend.ListDocuments(ctx, ownerID)
	if err != nil {
		s.logger.Printf("list degraded to empty result: %v", err)
		return nil, nil
	}
	return docs, nil
}

// Stats degrades to zero counts on backend trouble rather than raising.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.backend == nil {
		return Stats{}, ErrNotInitialized
	}
	st, err := s.backend.Stats(ctx)
	if err != nil {
		s.logger.Printf("stats degraded to empty result: %v", err)
		return Stats{DocumentsByOwner: map[string]int{}}, nil
	}
	return st, nil
}

// HealthCheck reports degraded while the fallback is active; the fallback
// itself never makes the store unhealthy.
func (s *Store) HealthCheck(ctx context.Context) Health {
	if s == nil || s.backend == nil {
		return Health{Status: StatusUnhealthy, Detail: "store not initialized"}
	}
	h := s.backend.HealthCheck(ctx)
	if s.fallback && h.Status == StatusHealthy {
		detail := h.Detail
		if s.collection != "" {
			detail = fmt.Sprintf("%s (collection %s)", detail, s.collection)
		}
		return Health{Status: StatusDegraded, Detail: detail}
	}
	return h
}

func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen]
}
