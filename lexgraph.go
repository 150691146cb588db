// Package lexgraph is a hybrid retrieval engine over a contract knowledge
// graph. Contracts are ingested as schema-validated nodes and edges in a
// SQLite property graph with clause excerpts embedded in a vector index;
// questions are answered by structured lookup, similarity search, or
// LLM query translation, routed deterministically.
package lexgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lexgraph/lexgraph/ingest"
	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/router"
	"github.com/lexgraph/lexgraph/schema"
	"github.com/lexgraph/lexgraph/store"
	"github.com/lexgraph/lexgraph/translate"
	"github.com/lexgraph/lexgraph/vector"
)

// Engine is the main entry point for the contract retrieval engine.
type Engine interface {
	// LookupAgreement returns the full agreement for a contract id, with
	// parties, governing law, and clauses. ErrNotFound if the id is unknown.
	LookupAgreement(ctx context.Context, contractID string) (*store.Agreement, error)

	// FindContractsByParty returns agreements with a party whose name
	// contains the given string, case-insensitively. Empty result is not
	// an error.
	FindContractsByParty(ctx context.Context, name string) ([]store.Agreement, error)

	// FindContractsByClausePresence returns agreements that have every
	// clause type in present and none in absent.
	FindContractsByClausePresence(ctx context.Context, present, absent []string) ([]store.Agreement, error)

	// SemanticSearch embeds the text and returns the topK most similar
	// excerpts, each resolved to its clause and agreement. A non-positive
	// topK is ErrInvalidArgument.
	SemanticSearch(ctx context.Context, text string, topK int) ([]router.Result, error)

	// Answer translates the question into a structured query, executes it,
	// and returns the rows plus the query that ran.
	Answer(ctx context.Context, question string) (*store.QueryResult, string, error)

	// Ask routes the question to exactly one retrieval strategy and returns
	// the merged result set.
	Ask(ctx context.Context, question string) (*router.ResultSet, error)

	// IngestExtraction writes one extraction record into the graph.
	IngestExtraction(ctx context.Context, ex *ingest.Extraction) error

	// IngestExtractionDir ingests every extraction JSON file in a directory.
	IngestExtractionDir(ctx context.Context, dir string) (int, error)

	// IngestPDF extracts a contract PDF with the chat model and ingests it
	// under the given contract id.
	IngestPDF(ctx context.Context, path string, contractID int64) error

	// EmbedPending embeds excerpts left without vectors by earlier runs.
	EmbedPending(ctx context.Context) (int, error)

	// SchemaText returns the deterministic textual rendering of the schema.
	SchemaText() string

	// Stats reports node counts per label and the edge total.
	Stats(ctx context.Context) (*store.Stats, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	desc     *schema.Descriptor
	store    *store.Store
	index    *vector.Index
	chat     llm.Provider
	embedder llm.Provider
	trans    *translate.Translator
	router   *router.Router
	pipeline *ingest.Pipeline
	extract  *ingest.Extractor
}

// New creates a LexGraph engine with the given configuration.
func New(cfg Config) (Engine, error) {
	desc := schema.Default()
	if cfg.SchemaPath != "" {
		loaded, err := schema.Load(cfg.SchemaPath)
		if err != nil {
			return nil, fmt.Errorf("loading schema: %w", err)
		}
		desc = loaded
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = desc.EmbeddingDim
	}

	s, err := store.New(cfg.resolveDBPath(), desc)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	index, err := vector.NewIndex(s.DB(), cfg.EmbeddingDim)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening vector index: %w", err)
	}

	chat, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	embedder, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	trans := translate.New(chat, s, cfg.resolveTranslateRetries())
	rt := router.New(s, index, embedder, trans, router.Config{
		TopK:          cfg.TopK,
		MinSimilarity: cfg.MinSimilarity,
	})

	pipeline, err := ingest.NewPipeline(s, index, embedder, cfg.EmbedPoolSize)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	return &engine{
		cfg:      cfg,
		desc:     desc,
		store:    s,
		index:    index,
		chat:     chat,
		embedder: embedder,
		trans:    trans,
		router:   rt,
		pipeline: pipeline,
		extract:  ingest.NewExtractor(chat, desc),
	}, nil
}

// opContext applies the configured per-operation deadline.
func (e *engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(e.cfg.OperationTimeout)*time.Second)
}

// mapTimeout rewrites deadline errors to the engine's sentinel.
func mapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func (e *engine) LookupAgreement(ctx context.Context, contractID string) (*store.Agreement, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	a, err := e.store.AgreementDetail(ctx, contractID)
	return a, mapTimeout(err)
}

func (e *engine) FindContractsByParty(ctx context.Context, name string) ([]store.Agreement, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	as, err := e.store.AgreementsByParty(ctx, name)
	return as, mapTimeout(err)
}

func (e *engine) FindContractsByClausePresence(ctx context.Context, present, absent []string) ([]store.Agreement, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	as, err := e.store.AgreementsByClausePresence(ctx, present, absent)
	return as, mapTimeout(err)
}

func (e *engine) SemanticSearch(ctx context.Context, text string, topK int) ([]router.Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	hits, err := e.router.SemanticHits(ctx, text, topK)
	return hits, mapTimeout(err)
}

func (e *engine) Answer(ctx context.Context, question string) (*store.QueryResult, string, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	rows, query, err := e.trans.Answer(ctx, question)
	return rows, query, mapTimeout(err)
}

func (e *engine) Ask(ctx context.Context, question string) (*router.ResultSet, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	rs, err := e.router.Route(ctx, question)
	return rs, mapTimeout(err)
}

func (e *engine) IngestExtraction(ctx context.Context, ex *ingest.Extraction) error {
	return mapTimeout(e.pipeline.Ingest(ctx, ex))
}

func (e *engine) IngestExtractionDir(ctx context.Context, dir string) (int, error) {
	n, err := e.pipeline.IngestDir(ctx, dir)
	return n, mapTimeout(err)
}

func (e *engine) IngestPDF(ctx context.Context, path string, contractID int64) error {
	ex, err := e.extract.ExtractPDF(ctx, path)
	if err != nil {
		return mapTimeout(err)
	}
	ex.ContractID = contractID
	return mapTimeout(e.pipeline.Ingest(ctx, ex))
}

func (e *engine) EmbedPending(ctx context.Context) (int, error) {
	n, err := e.pipeline.EmbedPending(ctx)
	return n, mapTimeout(err)
}

func (e *engine) SchemaText() string {
	return e.desc.Describe()
}

func (e *engine) Stats(ctx context.Context) (*store.Stats, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()
	st, err := e.store.GraphStats(ctx)
	return st, mapTimeout(err)
}

func (e *engine) Close() error {
	e.pipeline.Release()
	return e.store.Close()
}
