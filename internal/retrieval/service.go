package retrieval

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/healthvoice/retrieval/internal/storage"
)

// Defaults applied when a caller leaves options unset.
const (
	DefaultMaxResults    = 5
	DefaultMinScore      = 0.1
	DefaultContextBudget = 4000
)

// ContextOptions bound a retrieve-context call.
type ContextOptions struct {
	MaxResults       int
	MinScore         float64
	MaxContextLength int
}

// ReportSummary is a recent-report entry in the medical context.
type ReportSummary struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	ReportType string    `json:"report_type,omitempty"`
	Date       string    `json:"date,omitempty"`
	UploadDate time.Time `json:"upload_date"`
}

// MedicalContext is a context bundle enriched with extracted domain entities.
type MedicalContext struct {
	Bundle        ContextBundle   `json:"bundle"`
	PatientData   *PatientData    `json:"patient_data,omitempty"`
	LabResults    []LabValue      `json:"lab_results"`
	VitalSigns    []VitalSign     `json:"vital_signs"`
	RecentReports []ReportSummary `json:"recent_reports"`
}

// Options tune the service defaults from configuration.
type Options struct {
	MaxResults    int
	MinScore      float64
	ContextBudget int
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MinScore <= 0 {
		o.MinScore = DefaultMinScore
	}
	if o.ContextBudget <= 0 {
		o.ContextBudget = DefaultContextBudget
	}
	return o
}

// Service is the retrieval facade: query enhancement, owner-scoped search,
// context assembly and medical entity extraction over the chunk store.
type Service struct {
	store  *storage.Store
	cache  *QueryCache
	opts   Options
	logger *log.Logger
}

func NewService(store *storage.Store, cache *QueryCache, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Service{store: store, cache: cache, opts: opts.withDefaults(), logger: logger}
}

// AddDocument ingests a document and invalidates the owner's cached searches.
func (s *Service) AddDocument(ctx context.Context, doc storage.Document) ([]string, error) {
	ids, err := s.store.AddDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	documentsAddedTotal.Inc()
	s.cache.InvalidateOwner(ctx, doc.OwnerID)
	return ids, nil
}

// Search enhances the query with domain synonyms, then ranks the owner's
// chunks. Responses are memoized per owner when a cache is configured.
func (s *Service) Search(ctx context.Context, query, ownerID string, opts storage.SearchOptions) ([]storage.SearchHit, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = s.opts.MaxResults
	}
	if opts.MinScore <= 0 {
		opts.MinScore = s.opts.MinScore
	}
	start := time.Now()
	defer func() { searchDuration.Observe(time.Since(start).Seconds()) }()
	searchesTotal.Inc()

	enhanced := EnhanceQuery(query)
	if hits, ok := s.cache.Get(ctx, ownerID, enhanced, opts); ok {
		cacheHitsTotal.Inc()
		return hits, nil
	}
	if s.cache != nil {
		cacheMissesTotal.Inc()
	}
	hits, err := s.store.Search(ctx, enhanced, ownerID, opts)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, ownerID, enhanced, opts, hits)
	return hits, nil
}

// RetrieveContext searches and packs the ranked hits into a bounded bundle.
func (s *Service) RetrieveContext(ctx context.Context, query, ownerID string, opts ContextOptions) (ContextBundle, error) {
	bundle, _, err := s.retrieve(ctx, query, ownerID, opts)
	return bundle, err
}

func (s *Service) retrieve(ctx context.Context, query, ownerID string, opts ContextOptions) (ContextBundle, []storage.SearchHit, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = s.opts.MaxResults
	}
	if opts.MinScore <= 0 {
		opts.MinScore = s.opts.MinScore
	}
	if opts.MaxContextLength <= 0 {
		opts.MaxContextLength = s.opts.ContextBudget
	}
	hits, err := s.Search(ctx, query, ownerID, storage.SearchOptions{MaxResults: opts.MaxResults, MinScore: opts.MinScore})
	if err != nil {
		return ContextBundle{}, nil, err
	}
	bundle, emitted := AssembleContext(hits, opts.MaxContextLength, opts.MaxResults)
	return bundle, emitted, nil
}

// RetrieveMedicalContext packs context and enriches it with lab values,
// vital signs, merged patient identity and the owner's most recent reports.
func (s *Service) RetrieveMedicalContext(ctx context.Context, query, ownerID string, opts ContextOptions) (MedicalContext, error) {
	bundle, emitted, err := s.retrieve(ctx, query, ownerID, opts)
	if err != nil {
		return MedicalContext{}, err
	}

	mc := MedicalContext{Bundle: bundle}

	// Emitted hits arrive in ranked order. Entities concatenate in that
	// order; identity merges run lowest-ranked first so the best-scoring
	// chunk's metadata is applied last and wins conflicts.
	for _, h := range emitted {
		mc.LabResults = append(mc.LabResults, ExtractLabValues(h.Text)...)
		mc.VitalSigns = append(mc.VitalSigns, ExtractVitalSigns(h.Text)...)
	}
	patient := PatientData{}
	for i := len(emitted) - 1; i >= 0; i-- {
		MergePatientData(&patient, emitted[i].Metadata)
	}
	if patient != (PatientData{}) {
		mc.PatientData = &patient
	}

	docs, err := s.store.ListDocuments(ctx, ownerID)
	if err == nil {
		sort.SliceStable(docs, func(i, j int) bool {
			return docs[i].UploadDate.After(docs[j].UploadDate)
		})
		for i, doc := range docs {
			if i == 5 {
				break
			}
			mc.RecentReports = append(mc.RecentReports, ReportSummary{
				DocumentID: doc.ID,
				Title:      doc.Metadata.Title,
				ReportType: doc.Metadata.ReportType,
				Date:       doc.Metadata.Date,
				UploadDate: doc.UploadDate,
			})
		}
	}
	return mc, nil
}

// DeleteDocument cascades removal and invalidates the owner's cache.
func (s *Service) DeleteDocument(ctx context.Context, documentID, ownerID string) (bool, error) {
	ok, err := s.store.DeleteDocument(ctx, documentID, ownerID)
	if err != nil {
		return false, err
	}
	if ok {
		documentsDeletedTotal.Inc()
		s.cache.InvalidateOwner(ctx, ownerID)
	}
	return ok, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID, ownerID string) (storage.Document, bool, error) {
	return s.store.GetDocument(ctx, documentID, ownerID)
}

func (s *Service) ListDocuments(ctx context.Context, ownerID string) ([]storage.Document, error) {
	return s.store.ListDocuments(ctx, ownerID)
}

func (s *Service) Stats(ctx context.Context) (storage.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) HealthCheck(ctx context.Context) storage.Health {
	return s.store.HealthCheck(ctx)
}
