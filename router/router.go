// Package router classifies incoming requests and dispatches them to one of
// three retrieval strategies: direct structured lookup against the graph
// store, similarity search over the vector index, or natural-language query
// translation. Exactly one strategy runs per request; results come back as
// domain entities, never raw vector hits.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/store"
	"github.com/lexgraph/lexgraph/translate"
	"github.com/lexgraph/lexgraph/vector"
)

// Strategy identifies the retrieval path a request was routed to.
type Strategy string

const (
	StrategyStructured Strategy = "structured"
	StrategySemantic   Strategy = "semantic"
	StrategyTranslated Strategy = "translated"
)

// Result is one ranked answer entity. Semantic hits carry the matching
// excerpt and clause type alongside the resolved agreement.
type Result struct {
	Agreement  store.Agreement `json:"agreement"`
	ClauseType string          `json:"clause_type,omitempty"`
	Excerpt    string          `json:"excerpt,omitempty"`
	Score      float64         `json:"score"`
}

// ResultSet is the single merged output of one routed request. Structured
// and semantic paths populate Results; the translated path populates Rows
// plus the query actually executed.
type ResultSet struct {
	Strategy Strategy           `json:"strategy"`
	Results  []Result           `json:"results,omitempty"`
	Rows     *store.QueryResult `json:"rows,omitempty"`
	Query    string             `json:"query,omitempty"`
	Trace    *Trace             `json:"trace,omitempty"`
}

// Trace records how a request moved through the router, for diagnostics.
type Trace struct {
	Strategy  Strategy `json:"strategy"`
	Rule      string   `json:"rule"`
	RawHits   int      `json:"raw_hits"`
	Merged    int      `json:"merged"`
	ElapsedMs int64    `json:"elapsed_ms"`
}

// Config holds router policy parameters.
type Config struct {
	TopK          int     // semantic search window (default 5)
	MinSimilarity float64 // semantic score floor (default 0, no floor)
}

// Router dispatches requests across the three retrieval strategies.
type Router struct {
	store      *store.Store
	index      *vector.Index
	embedder   llm.Provider
	translator *translate.Translator
	cfg        Config
}

// New creates a Router over the given adapters.
func New(s *store.Store, ix *vector.Index, embedder llm.Provider, tr *translate.Translator, cfg Config) *Router {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Router{store: s, index: ix, embedder: embedder, translator: tr, cfg: cfg}
}

// Classification rules, checked in order. First match wins; ambiguity is not
// auto-escalated across strategies.
var (
	contractIDRe = regexp.MustCompile(`(?i)\b(?:contract|agreement)\s+#?(\d+)\b`)
	orgNamedRe   = regexp.MustCompile(`(?i)\b(?:organization|organisation|company|party)\s+(?:named|called)\s+"?([^"?.]+?)"?\s*[?.]?$`)
	orgForRe     = regexp.MustCompile(`(?i)\bcontracts?\s+(?:for|involving|with)\s+"?([^"?.]+?)"?\s*[?.]?$`)
	semanticRe   = regexp.MustCompile(`(?i)\b(mentioning|about|similar to|related to|regarding|concerning)\b`)
)

// classification is the outcome of the deterministic routing policy.
type classification struct {
	strategy Strategy
	rule     string
	argument string // contract id, organization name, or topic text
}

// classify applies the ordered rule list. Deterministic: identical input
// always yields the identical strategy and argument.
func classify(question string) classification {
	q := strings.TrimSpace(question)

	if m := contractIDRe.FindStringSubmatch(q); m != nil {
		return classification{StrategyStructured, "contract-id", m[1]}
	}
	if m := orgNamedRe.FindStringSubmatch(q); m != nil {
		return classification{StrategyStructured, "organization-name", strings.TrimSpace(m[1])}
	}
	if m := orgForRe.FindStringSubmatch(q); m != nil {
		return classification{StrategyStructured, "organization-name", strings.TrimSpace(m[1])}
	}
	if m := semanticRe.FindStringSubmatchIndex(q); m != nil {
		topic := strings.TrimSpace(strings.Trim(q[m[1]:], " ?."))
		if topic == "" {
			topic = q
		}
		return classification{StrategySemantic, "similarity-cue", topic}
	}
	return classification{StrategyTranslated, "open-question", q}
}

// Route classifies the question and runs exactly one retrieval strategy.
// Failures surface from the owning path: adapter errors for the structured
// and semantic paths, ErrTranslationFailed for the translated path.
func (r *Router) Route(ctx context.Context, question string) (*ResultSet, error) {
	start := time.Now()
	c := classify(question)
	slog.Debug("router: classified request",
		"strategy", c.strategy, "rule", c.rule, "argument", c.argument)

	var (
		rs  *ResultSet
		err error
	)
	switch c.strategy {
	case StrategyStructured:
		rs, err = r.structuredLookup(ctx, c)
	case StrategySemantic:
		rs, err = r.semanticSearch(ctx, c.argument, r.cfg.TopK)
	default:
		rs, err = r.translated(ctx, question)
	}
	if err != nil {
		return nil, err
	}

	rs.Trace.Rule = c.rule
	rs.Trace.ElapsedMs = time.Since(start).Milliseconds()
	return rs, nil
}

// structuredLookup issues a pre-templated parameterized traversal.
func (r *Router) structuredLookup(ctx context.Context, c classification) (*ResultSet, error) {
	rs := &ResultSet{Strategy: StrategyStructured, Trace: &Trace{Strategy: StrategyStructured}}

	switch c.rule {
	case "contract-id":
		a, err := r.store.AgreementDetail(ctx, c.argument)
		if err != nil {
			return nil, err
		}
		rs.Results = []Result{{Agreement: *a, Score: 1.0}}
	default:
		agreements, err := r.store.AgreementsByParty(ctx, c.argument)
		if err != nil {
			return nil, err
		}
		for _, a := range agreements {
			rs.Results = append(rs.Results, Result{Agreement: a, Score: 1.0})
		}
	}

	rs.Trace.RawHits = len(rs.Results)
	rs.Results = dedupeByAgreement(rs.Results)
	rs.Trace.Merged = len(rs.Results)
	return rs, nil
}

// semanticSearch embeds the topic text, queries the vector index, and
// resolves every excerpt hit to its owning clause and agreement.
func (r *Router) semanticSearch(ctx context.Context, topic string, topK int) (*ResultSet, error) {
	hits, err := r.SemanticHits(ctx, topic, topK)
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{
		Strategy: StrategySemantic,
		Trace:    &Trace{Strategy: StrategySemantic, RawHits: len(hits)},
	}
	rs.Results = dedupeByAgreement(hits)
	rs.Trace.Merged = len(rs.Results)
	return rs, nil
}

// SemanticHits returns the ranked (agreement, excerpt, score) triples for a
// similarity query, one entry per matching excerpt, without agreement-level
// deduplication. Used directly by the semanticSearch engine operation.
func (r *Router) SemanticHits(ctx context.Context, text string, topK int) ([]Result, error) {
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query text: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding query text: empty embedding returned")
	}

	hits, err := r.index.Search(ctx, vecs[0], topK, r.cfg.MinSimilarity)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		origin, err := r.store.ResolveExcerptByRowID(ctx, h.ExcerptRowID)
		if err != nil {
			// An indexed vector without a graph path means a partial
			// ingestion; skip the orphan rather than failing the search.
			slog.Warn("router: unresolvable vector hit",
				"excerpt_rowid", h.ExcerptRowID, "error", err)
			continue
		}
		a, err := r.store.AgreementDetail(ctx, origin.AgreementID)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Agreement:  *a,
			ClauseType: origin.ClauseType,
			Excerpt:    origin.Text,
			Score:      h.Similarity,
		})
	}
	return results, nil
}

// translated hands the question to the query translator.
func (r *Router) translated(ctx context.Context, question string) (*ResultSet, error) {
	rows, query, err := r.translator.Answer(ctx, question)
	if err != nil {
		return nil, err
	}
	return &ResultSet{
		Strategy: StrategyTranslated,
		Rows:     rows,
		Query:    query,
		Trace: &Trace{
			Strategy: StrategyTranslated,
			RawHits:  len(rows.Rows),
			Merged:   len(rows.Rows),
		},
	}, nil
}

// dedupeByAgreement keys results by contract id, keeping the first (highest
// ranked) entry for each agreement. Input order is preserved.
func dedupeByAgreement(results []Result) []Result {
	seen := make(map[int64]bool, len(results))
	out := results[:0]
	for _, res := range results {
		if seen[res.Agreement.ContractID] {
			continue
		}
		seen[res.Agreement.ContractID] = true
		out = append(out, res)
	}
	return out
}
