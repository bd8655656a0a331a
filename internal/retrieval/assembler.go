package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/healthvoice/retrieval/internal/storage"
)

// SourceChunk records provenance for one emitted chunk.
type SourceChunk struct {
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// ContextSource groups emitted chunks by their source document.
type ContextSource struct {
	DocumentID string                   `json:"document_id"`
	Title      string                   `json:"title"`
	Filename   string                   `json:"filename"`
	Metadata   storage.DocumentMetadata `json:"metadata"`
	Chunks     []SourceChunk            `json:"chunks"`
}

// ContextBundle is the packed, length-bounded context produced from ranked
// hits. Truncated is true iff at least one eligible hit was withheld because
// of the character budget.
type ContextBundle struct {
	Text        string          `json:"text"`
	Sources     []ContextSource `json:"sources"`
	TotalChunks int             `json:"total_chunks"`
	Truncated   bool            `json:"truncated"`
}

// AssembleContext packs ranked hits into a character budget. Hits are
// re-sorted (score desc, title asc, chunk index asc), capped at maxResults,
// grouped by document in first-appearance order, and emitted in ascending
// chunk-index order within each document to preserve readable flow. A chunk
// is appended only when its full text fits; chunks are never split. The
// second return value lists the emitted hits in ranked order.
func AssembleContext(hits []storage.SearchHit, budget, maxResults int) (ContextBundle, []storage.SearchHit) {
	ranked := make([]storage.SearchHit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Metadata.Title != ranked[j].Metadata.Title {
			return ranked[i].Metadata.Title < ranked[j].Metadata.Title
		}
		return ranked[i].ChunkIndex < ranked[j].ChunkIndex
	})
	if maxResults > 0 && len(ranked) > maxResults {
		ranked = ranked[:maxResults]
	}

	// Group by document, preserving the order each document first appears
	// in the ranked list.
	var docOrder []string
	groups := make(map[string][]storage.SearchHit)
	for _, h := range ranked {
		if _, ok := groups[h.DocumentID]; !ok {
			docOrder = append(docOrder, h.DocumentID)
		}
		groups[h.DocumentID] = append(groups[h.DocumentID], h)
	}

	bundle := ContextBundle{}
	emittedIDs := make(map[string]bool)
	var b strings.Builder

	for _, docID := range docOrder {
		group := groups[docID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ChunkIndex < group[j].ChunkIndex
		})

		header := fmt.Sprintf("## %s (%s)\n", group[0].Metadata.Title, group[0].Filename)
		if b.Len()+len(header) > budget {
			// A document is never emitted without its header.
			bundle.Truncated = true
			continue
		}

		var section strings.Builder
		section.WriteString(header)
		source := ContextSource{
			DocumentID: docID,
			Title:      group[0].Metadata.Title,
			Filename:   group[0].Filename,
			Metadata:   group[0].Metadata,
		}
		for _, h := range group {
			cost := len(h.Text) + 1 // trailing newline
			if b.Len()+section.Len()+cost > budget {
				bundle.Truncated = true
				continue
			}
			section.WriteString(h.Text)
			section.WriteString("\n")
			source.Chunks = append(source.Chunks, SourceChunk{
				ChunkID:    h.ChunkID,
				ChunkIndex: h.ChunkIndex,
				Score:      h.Score,
			})
			emittedIDs[h.ChunkID] = true
		}
		if len(source.Chunks) == 0 {
			// Header fits but no chunk does; drop the orphan header.
			continue
		}
		b.WriteString(section.String())
		bundle.Sources = append(bundle.Sources, source)
		bundle.TotalChunks += len(source.Chunks)
	}

	bundle.Text = strings.TrimRight(b.String(), "\n")

	var emitted []storage.SearchHit
	for _, h := range ranked {
		if emittedIDs[h.ChunkID] {
			emitted = append(emitted, h)
		}
	}
	return bundle, emitted
}
