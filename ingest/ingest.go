// Package ingest turns extracted contract records into graph writes and
// excerpt embeddings. Every write goes through the schema-validated store
// with deterministic ids, so re-running ingestion converges instead of
// duplicating, and a partially ingested document can be resumed.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/schema"
	"github.com/lexgraph/lexgraph/store"
	"github.com/lexgraph/lexgraph/vector"
)

// ExtractedParty is one party to an agreement.
type ExtractedParty struct {
	Role                 string `json:"role"`
	Name                 string `json:"name"`
	IncorporationCountry string `json:"incorporation_country"`
	IncorporationState   string `json:"incorporation_state"`
}

// GoverningLaw holds the governing jurisdiction of an agreement.
type GoverningLaw struct {
	Country            string `json:"country"`
	State              string `json:"state"`
	MostFavoredCountry string `json:"most_favored_country"`
}

// ExtractedClause is one clause type with its existence flag and supporting
// excerpts. Clauses with Exists=false produce no graph writes; absence is
// represented by the missing path, not by a node.
type ExtractedClause struct {
	ClauseType string   `json:"clause_type"`
	Exists     bool     `json:"exists"`
	Excerpts   []string `json:"excerpts"`
}

// Extraction is the structured output of contract extraction, one record
// per source document. ContractID is assigned at ingest time, not extracted.
type Extraction struct {
	ContractID                     int64             `json:"contract_id,omitempty"`
	AgreementName                  string            `json:"agreement_name"`
	AgreementType                  string            `json:"agreement_type"`
	AgreementDate                  string            `json:"agreement_date"`
	EffectiveDate                  string            `json:"effective_date"`
	ExpirationDate                 string            `json:"expiration_date"`
	RenewalTerm                    string            `json:"renewal_term"`
	NoticePeriodToTerminateRenewal string            `json:"Notice_period_to_Terminate_Renewal"`
	Parties                        []ExtractedParty  `json:"parties"`
	GoverningLaw                   GoverningLaw      `json:"governing_law"`
	Clauses                        []ExtractedClause `json:"clauses"`
}

// extractionFile is the on-disk envelope around one Extraction.
type extractionFile struct {
	Agreement Extraction `json:"agreement"`
}

// Pipeline writes extractions into the graph store and vector index.
type Pipeline struct {
	store    *store.Store
	index    *vector.Index
	embedder llm.Provider

	pool      *ants.Pool
	batchSize int
}

// NewPipeline creates an ingestion pipeline with a bounded embedding pool.
// poolSize <= 0 picks a default based on available CPUs.
func NewPipeline(s *store.Store, ix *vector.Index, embedder llm.Provider, poolSize int) (*Pipeline, error) {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU() / 2
		if poolSize < 1 {
			poolSize = 1
		}
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding pool: %w", err)
	}
	return &Pipeline{
		store:     s,
		index:     ix,
		embedder:  embedder,
		pool:      pool,
		batchSize: 16,
	}, nil
}

// Release shuts down the embedding pool. The pipeline must not be used after.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// ExcerptID derives the deterministic node id for an excerpt text.
func ExcerptID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ClauseID derives the deterministic node id for a contract clause.
func ClauseID(contractID int64, clauseType string) string {
	return strconv.FormatInt(contractID, 10) + ":" + clauseType
}

// Ingest writes one extraction into the graph and embeds its excerpts.
// Writes are idempotent node/edge upserts, not a single transaction: a
// failure partway leaves a valid partial graph that the next run completes.
func (p *Pipeline) Ingest(ctx context.Context, ex *Extraction) error {
	if ex.ContractID <= 0 {
		return fmt.Errorf("ingest: contract id must be assigned before ingestion")
	}

	agreementID := strconv.FormatInt(ex.ContractID, 10)
	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label: "Agreement",
		ID:    agreementID,
		Properties: map[string]any{
			"contract_id":                        ex.ContractID,
			"name":                               ex.AgreementName,
			"agreement_type":                     ex.AgreementType,
			"effective_date":                     ex.EffectiveDate,
			"expiration_date":                    ex.ExpirationDate,
			"renewal_term":                       ex.RenewalTerm,
			"notice_period_to_terminate_renewal": ex.NoticePeriodToTerminateRenewal,
			"most_favored_country":               ex.GoverningLaw.MostFavoredCountry,
		},
	}); err != nil {
		return fmt.Errorf("agreement %d: %w", ex.ContractID, err)
	}

	if err := p.ingestGoverningLaw(ctx, agreementID, ex.GoverningLaw); err != nil {
		return fmt.Errorf("agreement %d: %w", ex.ContractID, err)
	}
	for _, party := range ex.Parties {
		if err := p.ingestParty(ctx, agreementID, party); err != nil {
			return fmt.Errorf("agreement %d: %w", ex.ContractID, err)
		}
	}

	var pending []pendingExcerpt
	for _, clause := range ex.Clauses {
		if !clause.Exists {
			continue
		}
		excerpts, err := p.ingestClause(ctx, ex.ContractID, agreementID, clause)
		if err != nil {
			return fmt.Errorf("agreement %d: %w", ex.ContractID, err)
		}
		pending = append(pending, excerpts...)
	}

	embedded, err := p.embedExcerpts(ctx, pending)
	if err != nil {
		return fmt.Errorf("agreement %d: %w", ex.ContractID, err)
	}
	slog.Info("ingested contract",
		"contract_id", ex.ContractID,
		"name", ex.AgreementName,
		"parties", len(ex.Parties),
		"excerpts_embedded", embedded)
	return nil
}

func (p *Pipeline) ingestGoverningLaw(ctx context.Context, agreementID string, gl GoverningLaw) error {
	if gl.Country == "" {
		return nil
	}
	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label:      "Country",
		ID:         gl.Country,
		Properties: map[string]any{"name": gl.Country},
	}); err != nil {
		return err
	}
	return p.store.UpsertRelationship(ctx, schema.Relationship{
		Type:        "GOVERNED_BY_LAW",
		SourceLabel: "Agreement",
		SourceID:    agreementID,
		TargetLabel: "Country",
		TargetID:    gl.Country,
		Properties:  map[string]any{"state": gl.State},
	})
}

func (p *Pipeline) ingestParty(ctx context.Context, agreementID string, party ExtractedParty) error {
	if party.Name == "" {
		return nil
	}
	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label:      "Organization",
		ID:         party.Name,
		Properties: map[string]any{"name": party.Name},
	}); err != nil {
		return err
	}
	if err := p.store.UpsertRelationship(ctx, schema.Relationship{
		Type:        "IS_PARTY_TO",
		SourceLabel: "Organization",
		SourceID:    party.Name,
		TargetLabel: "Agreement",
		TargetID:    agreementID,
		Properties:  map[string]any{"role": party.Role},
	}); err != nil {
		return err
	}
	if party.IncorporationCountry == "" {
		return nil
	}
	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label:      "Country",
		ID:         party.IncorporationCountry,
		Properties: map[string]any{"name": party.IncorporationCountry},
	}); err != nil {
		return err
	}
	return p.store.UpsertRelationship(ctx, schema.Relationship{
		Type:        "INCORPORATED_IN",
		SourceLabel: "Organization",
		SourceID:    party.Name,
		TargetLabel: "Country",
		TargetID:    party.IncorporationCountry,
		Properties:  map[string]any{"state": party.IncorporationState},
	})
}

// pendingExcerpt is an excerpt node awaiting an embedding.
type pendingExcerpt struct {
	rowID int64
	text  string
}

func (p *Pipeline) ingestClause(ctx context.Context, contractID int64, agreementID string, clause ExtractedClause) ([]pendingExcerpt, error) {
	clauseID := ClauseID(contractID, clause.ClauseType)
	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label:      "ContractClause",
		ID:         clauseID,
		Properties: map[string]any{"type": clause.ClauseType},
	}); err != nil {
		return nil, err
	}
	if err := p.store.UpsertRelationship(ctx, schema.Relationship{
		Type:        "HAS_CLAUSE",
		SourceLabel: "Agreement",
		SourceID:    agreementID,
		TargetLabel: "ContractClause",
		TargetID:    clauseID,
		Properties:  map[string]any{"type": clause.ClauseType},
	}); err != nil {
		return nil, err
	}

	if _, err := p.store.UpsertEntity(ctx, schema.Entity{
		Label:      "ClauseType",
		ID:         clause.ClauseType,
		Properties: map[string]any{"name": clause.ClauseType},
	}); err != nil {
		return nil, err
	}
	if err := p.store.UpsertRelationship(ctx, schema.Relationship{
		Type:        "HAS_TYPE",
		SourceLabel: "ContractClause",
		SourceID:    clauseID,
		TargetLabel: "ClauseType",
		TargetID:    clause.ClauseType,
	}); err != nil {
		return nil, err
	}

	var pending []pendingExcerpt
	for _, text := range clause.Excerpts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		excerptID := ExcerptID(text)
		rowID, err := p.store.UpsertEntity(ctx, schema.Entity{
			Label:      "Excerpt",
			ID:         excerptID,
			Properties: map[string]any{"text": text},
		})
		if err != nil {
			return nil, err
		}
		if err := p.store.UpsertRelationship(ctx, schema.Relationship{
			Type:        "HAS_EXCERPT",
			SourceLabel: "ContractClause",
			SourceID:    clauseID,
			TargetLabel: "Excerpt",
			TargetID:    excerptID,
		}); err != nil {
			return nil, err
		}

		indexed, err := p.index.Has(ctx, rowID)
		if err != nil {
			return nil, err
		}
		if !indexed {
			pending = append(pending, pendingExcerpt{rowID: rowID, text: text})
		}
	}
	return pending, nil
}

// embedExcerpts generates embeddings for the pending excerpts in batches on
// the worker pool. A batch that fails to embed is logged and skipped; its
// excerpt nodes stay in the graph and EmbedPending picks them up later.
func (p *Pipeline) embedExcerpts(ctx context.Context, pending []pendingExcerpt) (int, error) {
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		embedded int
	)
	for start := 0; start < len(pending); start += p.batchSize {
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			n, err := p.embedBatch(ctx, batch)
			if err != nil {
				slog.Warn("embedding batch failed, excerpts left for resume",
					"batch_size", len(batch), "error", err)
				return
			}
			mu.Lock()
			embedded += n
			mu.Unlock()
		}); err != nil {
			wg.Done()
			wg.Wait()
			return embedded, fmt.Errorf("submitting embedding batch: %w", err)
		}
	}
	wg.Wait()
	return embedded, ctx.Err()
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []pendingExcerpt) (int, error) {
	texts := make([]string, len(batch))
	for i, pe := range batch {
		texts[i] = pe.text
	}
	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	for i, pe := range batch {
		if err := p.index.IndexEmbedding(ctx, pe.rowID, vecs[i]); err != nil {
			return 0, err
		}
	}
	return len(batch), nil
}

// EmbedPending finds excerpt nodes that have no vector yet and embeds them.
// This is the resume path after an interrupted or partially failed run.
func (p *Pipeline) EmbedPending(ctx context.Context) (int, error) {
	rows, err := p.store.DB().QueryContext(ctx,
		`SELECT id, json_extract(properties, '$.text') FROM nodes WHERE label = 'Excerpt' ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("listing excerpts: %w", err)
	}
	defer rows.Close()

	var pending []pendingExcerpt
	for rows.Next() {
		var pe pendingExcerpt
		if err := rows.Scan(&pe.rowID, &pe.text); err != nil {
			return 0, err
		}
		indexed, err := p.index.Has(ctx, pe.rowID)
		if err != nil {
			return 0, err
		}
		if !indexed && pe.text != "" {
			pending = append(pending, pe)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(pending) == 0 {
		slog.Debug("no pending excerpt embeddings")
		return 0, nil
	}
	slog.Info("embedding pending excerpts", "count", len(pending))
	return p.embedExcerpts(ctx, pending)
}

// IngestFile loads one extraction JSON file and ingests it under the given
// contract id.
func (p *Pipeline) IngestFile(ctx context.Context, path string, contractID int64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading extraction file: %w", err)
	}
	var ef extractionFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	ex := ef.Agreement
	ex.ContractID = contractID
	return p.Ingest(ctx, &ex)
}

// IngestDir ingests every .json file in dir. Files are processed in sorted
// name order and contract ids are assigned from that order starting at 1, so
// repeated runs over the same directory produce identical ids.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading extraction dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	ingested := 0
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		contractID := int64(i + 1)
		if err := p.IngestFile(ctx, filepath.Join(dir, name), contractID); err != nil {
			slog.Warn("skipping extraction file", "file", name, "error", err)
			continue
		}
		ingested++
	}
	slog.Info("directory ingestion complete", "dir", dir, "files", len(names), "ingested", ingested)
	return ingested, nil
}
