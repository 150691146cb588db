//go:build cgo

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/schema"
	"github.com/lexgraph/lexgraph/store"
	"github.com/lexgraph/lexgraph/vector"
)

const testDim = 4

// fakeEmbedder returns a fixed-dimension vector per text. failAll simulates
// an embedding outage while graph writes keep succeeding.
type fakeEmbedder struct {
	failAll bool
	calls   int
}

func (f *fakeEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("chat not supported")
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failAll {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text) % 7), 1, 0, 0}
	}
	return out, nil
}

type fixture struct {
	store    *store.Store
	index    *vector.Index
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), schema.Default())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ix, err := vector.NewIndex(s.DB(), testDim)
	if err != nil {
		t.Fatalf("creating index: %v", err)
	}

	embedder := &fakeEmbedder{}
	p, err := NewPipeline(s, ix, embedder, 1)
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}
	t.Cleanup(p.Release)
	return &fixture{store: s, index: ix, embedder: embedder, pipeline: p}
}

func sampleExtraction(contractID int64) *Extraction {
	return &Extraction{
		ContractID:     contractID,
		AgreementName:  "Master Service Agreement",
		AgreementType:  "Service Agreement",
		EffectiveDate:  "2021-06-01",
		ExpirationDate: "2026-06-01",
		Parties: []ExtractedParty{
			{Role: "Vendor", Name: "AT&T Corp.", IncorporationCountry: "United States", IncorporationState: "New York"},
			{Role: "Customer", Name: "Birch Communications"},
		},
		GoverningLaw: GoverningLaw{Country: "United States", State: "Georgia", MostFavoredCountry: "United States"},
		Clauses: []ExtractedClause{
			{ClauseType: "Insurance", Exists: true, Excerpts: []string{
				"Each party shall maintain commercial general liability insurance.",
			}},
			{ClauseType: "Non-Compete", Exists: false, Excerpts: nil},
		},
	}
}

func TestIngestBuildsGraph(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.pipeline.Ingest(ctx, sampleExtraction(1)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	a, err := fx.store.AgreementDetail(ctx, "1")
	if err != nil {
		t.Fatalf("agreement detail: %v", err)
	}
	if a.ContractID != 1 || a.Name != "Master Service Agreement" {
		t.Errorf("unexpected agreement %+v", a)
	}
	if a.GoverningLaw != "United States" {
		t.Errorf("expected governing law, got %q", a.GoverningLaw)
	}
	if len(a.Parties) != 2 {
		t.Fatalf("expected 2 parties, got %d", len(a.Parties))
	}
	if a.Parties[0].IncorporationState != "New York" {
		t.Errorf("expected incorporation state, got %+v", a.Parties[0])
	}

	// The Exists=false clause must leave no trace in the graph.
	if len(a.Clauses) != 1 || a.Clauses[0].Type != "Insurance" {
		t.Fatalf("expected only the Insurance clause, got %+v", a.Clauses)
	}

	n, err := fx.index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 indexed excerpt, got %d", n)
	}
}

func TestIngestAbsentClauseHasNoPath(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if err := fx.pipeline.Ingest(ctx, sampleExtraction(1)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	got, err := fx.store.AgreementsByClausePresence(ctx, nil, []string{"Non-Compete"})
	if err != nil {
		t.Fatalf("by clause presence: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("absent clause should match via missing path, got %+v", got)
	}
}

func TestIngestIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := fx.pipeline.Ingest(ctx, sampleExtraction(1)); err != nil {
			t.Fatalf("ingest round %d: %v", i, err)
		}
	}

	stats, err := fx.store.GraphStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes["Agreement"] != 1 {
		t.Errorf("expected 1 agreement, got %d", stats.Nodes["Agreement"])
	}
	if stats.Nodes["Organization"] != 2 {
		t.Errorf("expected 2 organizations, got %d", stats.Nodes["Organization"])
	}
	if stats.Nodes["Excerpt"] != 1 {
		t.Errorf("expected 1 excerpt, got %d", stats.Nodes["Excerpt"])
	}

	n, err := fx.index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 embedding after re-ingestion, got %d", n)
	}
}

func TestIngestSharedOrganizationAcrossContracts(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first := sampleExtraction(1)
	second := sampleExtraction(2)
	second.AgreementName = "Reseller Agreement"
	second.Clauses = nil

	if err := fx.pipeline.Ingest(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := fx.pipeline.Ingest(ctx, second); err != nil {
		t.Fatal(err)
	}

	agreements, err := fx.store.AgreementsByParty(ctx, "AT&T")
	if err != nil {
		t.Fatal(err)
	}
	if len(agreements) != 2 {
		t.Fatalf("expected shared organization to link both contracts, got %d", len(agreements))
	}

	stats, err := fx.store.GraphStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes["Organization"] != 2 {
		t.Errorf("organizations must merge by name, got %d", stats.Nodes["Organization"])
	}
}

func TestIngestResumeAfterEmbeddingFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// First run: graph writes succeed, embeddings fail.
	fx.embedder.failAll = true
	if err := fx.pipeline.Ingest(ctx, sampleExtraction(1)); err != nil {
		t.Fatalf("ingest with failing embedder: %v", err)
	}
	n, err := fx.index.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no embeddings after outage, got %d", n)
	}

	// Resume: only the missing embeddings are generated.
	fx.embedder.failAll = false
	embedded, err := fx.pipeline.EmbedPending(ctx)
	if err != nil {
		t.Fatalf("embed pending: %v", err)
	}
	if embedded != 1 {
		t.Errorf("expected 1 resumed embedding, got %d", embedded)
	}

	// A second resume pass has nothing to do.
	embedded, err = fx.pipeline.EmbedPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if embedded != 0 {
		t.Errorf("expected nothing pending, got %d", embedded)
	}
}

func TestIngestRejectsUnassignedContractID(t *testing.T) {
	fx := newFixture(t)
	ex := sampleExtraction(0)
	if err := fx.pipeline.Ingest(context.Background(), ex); err == nil {
		t.Fatal("expected error for unassigned contract id")
	}
}

func TestIngestDirAssignsSequentialIDs(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	writeExtraction := func(name string, ex *Extraction) {
		data, err := json.Marshal(extractionFile{Agreement: *ex})
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	b := sampleExtraction(0)
	b.AgreementName = "B Agreement"
	a := sampleExtraction(0)
	a.AgreementName = "A Agreement"

	// Written out of order; ids follow sorted filename order.
	writeExtraction("b_contract.json", b)
	writeExtraction("a_contract.json", a)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := fx.pipeline.IngestDir(ctx, dir)
	if err != nil {
		t.Fatalf("ingest dir: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 ingested files, got %d", n)
	}

	first, err := fx.store.AgreementDetail(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Name != "A Agreement" {
		t.Errorf("expected sorted order assignment, contract 1 is %q", first.Name)
	}
	second, err := fx.store.AgreementDetail(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if second.Name != "B Agreement" {
		t.Errorf("contract 2 is %q", second.Name)
	}
}

func TestIngestDirSkipsMalformedFile(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(extractionFile{Agreement: *sampleExtraction(0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	n, err := fx.pipeline.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("ingest dir: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 ingested file, got %d", n)
	}
}

func TestExcerptIDDeterministic(t *testing.T) {
	a := ExcerptID("some clause text")
	b := ExcerptID("some clause text")
	c := ExcerptID("other clause text")
	if a != b {
		t.Error("same text must yield same id")
	}
	if a == c {
		t.Error("different text must yield different ids")
	}
	if len(a) != 64 {
		t.Errorf("expected sha256 hex id, got length %d", len(a))
	}
}
