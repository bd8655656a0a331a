package storage

import (
	"context"
	"time"

	"github.com/healthvoice/retrieval/internal/embedding"
)

// Health statuses reported by HealthCheck.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DocumentMetadata carries report-level fields captured at ingest time.
// Patient identity fields are optional and read opportunistically downstream.
type DocumentMetadata struct {
	Title       string `json:"title"`
	PatientName string `json:"patient_name,omitempty"`
	Age         int    `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	ReportType  string `json:"report_type,omitempty"`
	Date        string `json:"date,omitempty"`
	BloodType   string `json:"blood_type,omitempty"`
}

// Chunk is a bounded slice of a document's extracted text; the unit of
// storage and retrieval. Ordering within a document is index order.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Length     int    `json:"length"`
}

// Document is created atomically on ingest and immutable thereafter except
// by delete.
type Document struct {
	ID         string           `json:"id"`
	OwnerID    string           `json:"owner_id"`
	Filename   string           `json:"filename"`
	Metadata   DocumentMetadata `json:"metadata"`
	UploadDate time.Time        `json:"upload_date"`
	Chunks     []Chunk          `json:"chunks,omitempty"`
}

// VectorRecord pairs a chunk with its term vector. Exactly one per chunk,
// created and deleted together with it.
type VectorRecord struct {
	ID          string               `json:"id"`
	DocumentID  string               `json:"document_id"`
	OwnerID     string               `json:"owner_id"`
	ChunkIndex  int                  `json:"chunk_index"`
	Terms       embedding.TermVector `json:"terms"`
	TextPreview string               `json:"text_preview"`
}

// SearchHit is a request-scoped scored match. Score is always within [0,1].
type SearchHit struct {
	ChunkID    string           `json:"chunk_id"`
	DocumentID string           `json:"document_id"`
	ChunkIndex int              `json:"chunk_index"`
	Text       string           `json:"text"`
	Score      float64          `json:"score"`
	Filename   string           `json:"filename"`
	Metadata   DocumentMetadata `json:"metadata"`
	UploadDate time.Time        `json:"upload_date"`
}

// SearchOptions bound a search call.
type SearchOptions struct {
	MaxResults int
	MinScore   float64
}

// Stats summarises store contents.
type Stats struct {
	TotalDocuments   int            `json:"total_documents"`
	TotalChunks      int            `json:"total_chunks"`
	DocumentsByOwner map[string]int `json:"documents_by_owner"`
}

// Health is the structured status returned instead of raising for transient
// backend trouble.
type Health struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Backend is the storage tier behind the dispatcher. Search returns every
// scored candidate for the owner; ranking, threshold filtering and result
// capping happen uniformly in the dispatcher so both backends behave
// identically.
type Backend interface {
	AddDocument(ctx context.Context, doc Document, recs []VectorRecord) error
	Search(ctx context.Context, query embedding.TermVector, ownerID string) ([]SearchHit, error)
	GetDocument(ctx context.Context, documentID, ownerID string) (Document, bool, error)
	DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error)
	ListDocuments(ctx context.Context, ownerID string) ([]Document, error)
	Stats(ctx context.Context) (Stats, error)
	HealthCheck(ctx context.Context) Health
	Close() error
}
