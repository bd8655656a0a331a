package storage

import (
	"context"
	"sync"

	"github.com/healthvoice/retrieval/internal/embedding"
)

// MemoryBackend is the in-process fallback store. It holds documents and
// vector records in maps guarded by a single RWMutex: writes are serialized,
// reads run in parallel with each other, and a reader never observes a
// partially-inserted chunk set. Contents do not survive a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	docs    map[string]Document     // document id -> document
	vectors map[string]VectorRecord // chunk id -> record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:    make(map[string]Document),
		vectors: make(map[string]VectorRecord),
	}
}

// AddDocument inserts the document and all its vector records atomically.
func (m *MemoryBackend) AddDocument(_ context.Context, doc Document, recs []VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	for _, rec := range recs {
		m.vectors[rec.ID] = rec
	}
	return nil
}

func (m *MemoryBackend) Search(_ context.Context, query embedding.TermVector, ownerID string) ([]SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for _, rec := range m.vectors {
		if rec.OwnerID != ownerID {
			continue
		}
		doc, ok := m.docs[rec.DocumentID]
		if !ok {
			continue
		}
		var text string
		if rec.ChunkIndex < len(doc.Chunks) {
			text = doc.Chunks[rec.ChunkIndex].Text
		}
		hits = append(hits, SearchHit{
			ChunkID:    rec.ID,
			DocumentID: rec.DocumentID,
			ChunkIndex: rec.ChunkIndex,
			Text:       text,
			Score:      embedding.Cosine(query, rec.Terms),
			Filename:   doc.Filename,
			Metadata:   doc.Metadata,
			UploadDate: doc.UploadDate,
		})
	}
	return hits, nil
}

func (m *MemoryBackend) GetDocument(_ context.Context, documentID, ownerID string) (Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[documentID]
	if !ok || doc.OwnerID != ownerID {
		return Document{}, false, nil
	}
	return doc, true, nil
}

// DeleteDocument cascades removal of the document and its vector records.
// A missing or foreign-owned document reports false, never an error.
func (m *MemoryBackend) DeleteDocument(_ context.Context, documentID, ownerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || doc.OwnerID != ownerID {
		return false, nil
	}
	delete(m.docs, documentID)
	for id, rec := range m.vectors {
		if rec.DocumentID == documentID {
			delete(m.vectors, id)
		}
	}
	return true, nil
}

func (m *MemoryBackend) ListDocuments(_ context.Context, ownerID string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []Document
	for _, doc := range m.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (m *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{DocumentsByOwner: make(map[string]int)}
	for _, doc := range m.docs {
		st.TotalDocuments++
		st.TotalChunks += len(doc.Chunks)
		st.DocumentsByOwner[doc.OwnerID]++
	}
	return st, nil
}

func (m *MemoryBackend) HealthCheck(_ context.Context) Health {
	return Health{Status: StatusHealthy, Detail: "in-memory store"}
}

func (m *MemoryBackend) Close() error { return nil }
