package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/healthvoice/retrieval/internal/retrieval"
	"github.com/healthvoice/retrieval/internal/runtime"
	"github.com/healthvoice/retrieval/internal/storage"
)

// APIHandler exposes the retrieval core over HTTP. The owner id for every
// scoped operation comes from the authenticated token, never from the
// request body.
type APIHandler struct {
	Svc    *retrieval.Service
	Logger *log.Logger
}

func (h *APIHandler) Register(api *echo.Group, secret []byte) {
	if h.Logger == nil {
		h.Logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	auth := runtime.EchoAuthMiddleware(secret)

	docs := api.Group("/documents", auth)
	docs.POST("", h.addDocument)
	docs.GET("", h.listDocuments)
	docs.GET("/:id", h.getDocument)
	docs.DELETE("/:id", h.deleteDocument)

	api.POST("/search", h.search, auth)
	api.POST("/context", h.retrieveContext, auth)
	api.POST("/context/medical", h.retrieveMedicalContext, auth)
	api.GET("/stats", h.stats, auth)
}

func ownerID(c echo.Context) string {
	if v, ok := c.Get("owner_id").(string); ok {
		return v
	}
	return ""
}

func (h *APIHandler) addDocument(c echo.Context) error {
	var req AddDocumentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc := storage.Document{
		ID:       strings.TrimSpace(req.ID),
		OwnerID:  ownerID(c),
		Filename: req.Filename,
		Metadata: req.Metadata,
	}
	for _, text := range req.Chunks {
		doc.Chunks = append(doc.Chunks, storage.Chunk{Text: text, Length: len(text)})
	}
	chunkIDs, err := h.Svc.AddDocument(c.Request().Context(), doc)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyChunks) || errors.Is(err, storage.ErrMissingOwner) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.Logger.Printf("add document failed: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "document storage failed")
	}
	docID := ""
	if len(chunkIDs) > 0 {
		docID = strings.TrimSuffix(chunkIDs[0], "_chunk_0")
	}
	return c.JSON(http.StatusCreated, AddDocumentResponse{DocumentID: docID, ChunkIDs: chunkIDs})
}

func (h *APIHandler) search(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	hits, err := h.Svc.Search(c.Request().Context(), req.Query, ownerID(c), storage.SearchOptions{
		MaxResults: req.MaxResults,
		MinScore:   req.MinScore,
	})
	if err != nil {
		h.Logger.Printf("search failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	if hits == nil {
		hits = []storage.SearchHit{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: hits})
}

func (h *APIHandler) retrieveContext(c echo.Context) error {
	req, err := bindContextRequest(c)
	if err != nil {
		return err
	}
	bundle, err := h.Svc.RetrieveContext(c.Request().Context(), req.Query, ownerID(c), retrieval.ContextOptions{
		MaxResults:       req.MaxResults,
		MinScore:         req.MinScore,
		MaxContextLength: req.MaxContextLength,
	})
	if err != nil {
		h.Logger.Printf("retrieve context failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "context retrieval failed")
	}
	return c.JSON(http.StatusOK, bundle)
}

func (h *APIHandler) retrieveMedicalContext(c echo.Context) error {
	req, err := bindContextRequest(c)
	if err != nil {
		return err
	}
	mc, err := h.Svc.RetrieveMedicalContext(c.Request().Context(), req.Query, ownerID(c), retrieval.ContextOptions{
		MaxResults:       req.MaxResults,
		MinScore:         req.MinScore,
		MaxContextLength: req.MaxContextLength,
	})
	if err != nil {
		h.Logger.Printf("retrieve medical context failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "context retrieval failed")
	}
	resp := MedicalContextResponse{
		Bundle:        mc.Bundle,
		PatientData:   mc.PatientData,
		LabResults:    mc.LabResults,
		VitalSigns:    mc.VitalSigns,
		RecentReports: mc.RecentReports,
	}
	if resp.LabResults == nil {
		resp.LabResults = []retrieval.LabValue{}
	}
	if resp.VitalSigns == nil {
		resp.VitalSigns = []retrieval.VitalSign{}
	}
	if resp.RecentReports == nil {
		resp.RecentReports = []retrieval.ReportSummary{}
	}
	return c.JSON(http.StatusOK, resp)
}

func bindContextRequest(c echo.Context) (ContextRequest, error) {
	var req ContextRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	return req, nil
}

func (h *APIHandler) getDocument(c echo.Context) error {
	doc, found, err := h.Svc.GetDocument(c.Request().Context(), c.Param("id"), ownerID(c))
	if err != nil {
		h.Logger.Printf("get document failed: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "document lookup failed")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *APIHandler) listDocuments(c echo.Context) error {
	docs, err := h.Svc.ListDocuments(c.Request().Context(), ownerID(c))
	if err != nil {
		h.Logger.Printf("list documents failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "document listing failed")
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	return c.JSON(http.StatusOK, ListDocumentsResponse{Documents: docs})
}

func (h *APIHandler) deleteDocument(c echo.Context) error {
	ok, err := h.Svc.DeleteDocument(c.Request().Context(), c.Param("id"), ownerID(c))
	if err != nil {
		h.Logger.Printf("delete document failed: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, "document deletion failed")
	}
	return c.JSON(http.StatusOK, DeleteDocumentResponse{Deleted: ok})
}

func (h *APIHandler) stats(c echo.Context) error {
	st, err := h.Svc.Stats(c.Request().Context())
	if err != nil {
		h.Logger.Printf("stats failed: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "stats failed")
	}
	return c.JSON(http.StatusOK, st)
}
