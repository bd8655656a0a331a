package server

import (
	"github.com/healthvoice/retrieval/internal/retrieval"
	"github.com/healthvoice/retrieval/internal/storage"
)

// HTTPError is the unified error envelope.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// AddDocumentRequest carries one ingested document. Chunk text arrives
// pre-split by the ingestion collaborator.
type AddDocumentRequest struct {
	ID       string                   `json:"id,omitempty"`
	Filename string                   `json:"filename"`
	Metadata storage.DocumentMetadata `json:"metadata"`
	Chunks   []string                 `json:"chunks"`
}

type AddDocumentResponse struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids"`
}

type SearchRequest struct {
	Query      string  `json:"query"`
	MaxResults int     `json:"max_results,omitempty"`
	MinScore   float64 `json:"min_score,omitempty"`
}

type SearchResponse struct {
	Query   string              `json:"query"`
	Results []storage.SearchHit `json:"results"`
}

type ContextRequest struct {
	Query            string  `json:"query"`
	MaxResults       int     `json:"max_results,omitempty"`
	MinScore         float64 `json:"min_score,omitempty"`
	MaxContextLength int     `json:"max_context_length,omitempty"`
}

type DeleteDocumentResponse struct {
	Deleted bool `json:"deleted"`
}

type ListDocumentsResponse struct {
	Documents []storage.Document `json:"documents"`
}

type MedicalContextResponse struct {
	Bundle        retrieval.ContextBundle   `json:"bundle"`
	PatientData   *retrieval.PatientData    `json:"patient_data,omitempty"`
	LabResults    []retrieval.LabValue      `json:"lab_results"`
	VitalSigns    []retrieval.VitalSign     `json:"vital_signs"`
	RecentReports []retrieval.ReportSummary `json:"recent_reports"`
}
