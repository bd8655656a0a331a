package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/healthvoice/retrieval/internal/embedding"
)

func testStore() *Store {
	logger := log.New(io.Discard, "", 0)
	return OpenWithBackend(NewMemoryBackend(), embedding.NewLexicalEmbedder(), logger)
}

func addDoc(t *testing.T, s *Store, id, owner, title string, texts ...string) []string {
	t.Helper()
	doc := Document{
		ID:       id,
		OwnerID:  owner,
		Filename: id + ".pdf",
		Metadata: DocumentMetadata{Title: title},
	}
	for _, text := range texts {
		doc.Chunks = append(doc.Chunks, Chunk{Text: text})
	}
	ids, err := s.AddDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("AddDocument(%s): %v", id, err)
	}
	return ids
}

func TestAddDocumentAssignsStableChunkIDs(t *testing.T) {
	s := testStore()
	ids := addDoc(t, s, "doc-1", "alice", "CBC Report", "hemoglobin normal", "glucose elevated")
	want := []string{"doc-1_chunk_0", "doc-1_chunk_1"}
	for i, id := range ids {
		if id != want[i] {
			t.Errorf("chunk id[%d] = %q, want %q", i, id, want[i])
		}
	}
}

func TestAddDocumentValidation(t *testing.T) {
	s := testStore()
	_, err := s.AddDocument(context.Background(), Document{OwnerID: "alice"})
	if !errors.Is(err, ErrEmptyChunks) {
		t.Errorf("empty chunks: got %v, want ErrEmptyChunks", err)
	}
	_, err = s.AddDocument(context.Background(), Document{Chunks: []Chunk{{Text: "x"}}})
	if !errors.Is(err, ErrMissingOwner) {
		t.Errorf("missing owner: got %v, want ErrMissingOwner", err)
	}
}

func TestSearchTenantIsolation(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-a", "alice", "Alice Labs", "hemoglobin 13.5 g/dl elevated glucose")
	addDoc(t, s, "doc-b", "bob", "Bob Labs", "hemoglobin 11.2 g/dl low glucose")

	hits, err := s.Search(context.Background(), "hemoglobin glucose", "alice", SearchOptions{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits for alice")
	}
	for _, h := range hits {
		if h.DocumentID != "doc-a" {
			t.Errorf("alice search returned foreign document %s", h.DocumentID)
		}
	}
}

func TestSearchDeterministicRanking(t *testing.T) {
	s := testStore()
	// Identical chunk text across documents forces score ties; order must
	// fall back to title, then chunk index.
	addDoc(t, s, "doc-z", "alice", "Zeta Report", "fasting glucose level", "fasting glucose level")
	addDoc(t, s, "doc-a", "alice", "Alpha Report", "fasting glucose level")

	var prev []SearchHit
	for i := 0; i < 5; i++ {
		hits, err := s.Search(context.Background(), "fasting glucose", "alice", SearchOptions{MaxResults: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) != 3 {
			t.Fatalf("got %d hits, want 3", len(hits))
		}
		if hits[0].Metadata.Title != "Alpha Report" {
			t.Errorf("tie-break by title failed: first hit from %q", hits[0].Metadata.Title)
		}
		if hits[1].ChunkIndex != 0 || hits[2].ChunkIndex != 1 {
			t.Errorf("tie-break by chunk index failed: %d then %d", hits[1].ChunkIndex, hits[2].ChunkIndex)
		}
		if prev != nil {
			for j := range hits {
				if hits[j].ChunkID != prev[j].ChunkID {
					t.Errorf("run %d: rank %d changed from %s to %s", i, j, prev[j].ChunkID, hits[j].ChunkID)
				}
			}
		}
		prev = hits
	}
}

func TestSearchMinScoreAndMaxResults(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-1", "alice", "Labs", "glucose test results", "unrelated cardiology narrative text")

	hits, err := s.Search(context.Background(), "glucose test", "alice", SearchOptions{MaxResults: 10, MinScore: 0.5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.Score < 0.5 {
			t.Errorf("hit %s below min score: %v", h.ChunkID, h.Score)
		}
	}

	hits, err = s.Search(context.Background(), "glucose test results narrative", "alice", SearchOptions{MaxResults: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) > 1 {
		t.Errorf("MaxResults not respected: %d hits", len(hits))
	}
}

func TestSearchEmptyStore(t *testing.T) {
	s := testStore()
	hits, err := s.Search(context.Background(), "anything", "alice", SearchOptions{MaxResults: 5})
	if err != nil {
		t.Fatalf("Search on empty store: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-1", "alice", "Labs", "glucose results", "hemoglobin results", "platelet results")
	addDoc(t, s, "doc-2", "alice", "Other", "cardiology narrative")

	before, _ := s.Stats(context.Background())

	ok, err := s.DeleteDocument(context.Background(), "doc-1", "alice")
	if err != nil || !ok {
		t.Fatalf("DeleteDocument = %v, %v", ok, err)
	}

	after, _ := s.Stats(context.Background())
	if before.TotalChunks-after.TotalChunks != 3 {
		t.Errorf("chunk count dropped by %d, want 3", before.TotalChunks-after.TotalChunks)
	}

	hits, err := s.Search(context.Background(), "glucose hemoglobin platelet", "alice", SearchOptions{MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID == "doc-1" {
			t.Errorf("search returned hit for deleted document: %s", h.ChunkID)
		}
	}
}

func TestDeleteForeignDocumentNotRevealed(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-b", "bob", "Bob Labs", "hemoglobin results")

	ok, err := s.DeleteDocument(context.Background(), "doc-b", "alice")
	if err != nil {
		t.Fatalf("foreign delete must not error: %v", err)
	}
	if ok {
		t.Error("foreign delete must report false")
	}
	ok, err = s.DeleteDocument(context.Background(), "doc-missing", "alice")
	if err != nil || ok {
		t.Errorf("missing delete = %v, %v; want false, nil", ok, err)
	}
	if _, found, _ := s.GetDocument(context.Background(), "doc-b", "bob"); !found {
		t.Error("bob's document should survive alice's delete attempt")
	}
}

func TestGetDocumentScopedToOwner(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-b", "bob", "Bob Labs", "hemoglobin results")

	if _, found, err := s.GetDocument(context.Background(), "doc-b", "alice"); err != nil || found {
		t.Errorf("foreign get = found %v, err %v; want not found, nil", found, err)
	}
}

func TestStatsCountsByOwner(t *testing.T) {
	s := testStore()
	addDoc(t, s, "doc-1", "alice", "A", "one", "two")
	addDoc(t, s, "doc-2", "alice", "B", "three")
	addDoc(t, s, "doc-3", "bob", "C", "four")

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalDocuments != 3 || st.TotalChunks != 4 {
		t.Errorf("stats = %+v, want 3 documents / 4 chunks", st)
	}
	if st.DocumentsByOwner["alice"] != 2 || st.DocumentsByOwner["bob"] != 1 {
		t.Errorf("by-owner counts wrong: %v", st.DocumentsByOwner)
	}
}

func TestOpenFallsBackWhenRemoteUnreachable(t *testing.T) {
	var buf strings.Builder
	logger := log.New(&buf, "", 0)
	s := Open(context.Background(),
		Options{PostgresDSN: "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"},
		embedding.NewLexicalEmbedder(), logger)
	defer s.Close()

	if !s.Fallback() {
		t.Fatal("expected fallback after unreachable remote")
	}
	if !strings.Contains(buf.String(), "falling back") {
		t.Errorf("degradation not logged: %q", buf.String())
	}

	addDoc(t, s, "doc-1", "alice", "Labs", "glucose results")
	hits, err := s.Search(context.Background(), "glucose", "alice", SearchOptions{MaxResults: 5})
	if err != nil || len(hits) != 1 {
		t.Errorf("fallback search = %d hits, err %v; want 1, nil", len(hits), err)
	}

	h := s.HealthCheck(context.Background())
	if h.Status != StatusDegraded {
		t.Errorf("fallback health = %q, want degraded", h.Status)
	}
}

func TestConcurrentAddAndSearch(t *testing.T) {
	s := testStore()
	done := make(chan error, 20)
	for i := 0; i < 10; i++ {
		go func(i int) {
			doc := Document{
				ID:       fmt.Sprintf("doc-%d", i),
				OwnerID:  "alice",
				Metadata: DocumentMetadata{Title: fmt.Sprintf("Report %d", i)},
				Chunks:   []Chunk{{Text: "glucose results normal"}, {Text: "hemoglobin within range"}},
			}
			_, err := s.AddDocument(context.Background(), doc)
			done <- err
		}(i)
		go func() {
			hits, err := s.Search(context.Background(), "glucose hemoglobin", "alice", SearchOptions{MaxResults: 50})
			if err == nil {
				// Every visible document must expose both chunks.
				seen := map[string]int{}
				for _, h := range hits {
					seen[h.DocumentID]++
				}
				// Inserts are atomic: a visible document exposes both chunks.
				for id, n := range seen {
					if n != 2 {
						err = fmt.Errorf("document %s visible with %d of 2 chunks", id, n)
					}
				}
			}
			done <- err
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent op: %v", err)
		}
	}
	st, _ := s.Stats(context.Background())
	if st.TotalDocuments != 10 || st.TotalChunks != 20 {
		t.Errorf("stats after concurrent adds = %+v", st)
	}
}
