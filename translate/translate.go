// Package translate turns natural-language questions into structured queries
// that are guaranteed schema-valid before execution. Translation is delegated
// to an external chat model; this package owns the grounding prompt, the
// static validation gate, and the bounded self-correction retry loop. No
// candidate query ever reaches the store without passing validation.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/schema"
	"github.com/lexgraph/lexgraph/store"
)

// ErrTranslationFailed is returned when the retry budget is exhausted without
// a schema-valid candidate. The wrapped message carries the last rejection
// reason for diagnosis.
var ErrTranslationFailed = errors.New("lexgraph: translation failed")

// DefaultRetries is the number of self-correction attempts after the first
// candidate is rejected.
const DefaultRetries = 2

// Plan is the transient output of one translation: the candidate query, the
// schema elements it references, and whether it passed validation. Discarded
// and regenerated on validation failure.
type Plan struct {
	Query  string   `json:"query"`
	Tokens []string `json:"tokens"`
	Valid  bool     `json:"valid"`
}

// Translator converts questions to validated read-only queries over the
// graph's relational encoding.
type Translator struct {
	chat    llm.Provider
	desc    *schema.Descriptor
	store   *store.Store
	retries int
}

// New creates a Translator. retries < 0 selects DefaultRetries.
func New(chat llm.Provider, s *store.Store, retries int) *Translator {
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Translator{
		chat:    chat,
		desc:    s.Descriptor(),
		store:   s,
		retries: retries,
	}
}

const systemPrompt = `You translate questions about a contract knowledge graph into a single read-only SQLite SELECT statement.

The graph is stored relationally:
  nodes(label TEXT, node_id TEXT, properties JSON)   -- one row per entity
  edges(rel_type TEXT, source_label TEXT, source_id TEXT, target_label TEXT, target_id TEXT, properties JSON)

node_id is the entity identity: the contract_id for Agreement, the name for Organization, Country, and ClauseType. Read node and edge properties with json_extract(properties, '$.<property>').

Use ONLY labels, relationship types, and properties from this schema:

%s

Rules:
- Exactly one SELECT statement. Never write, delete, or alter anything.
- Filter labels with nodes.label = '<Label>' and edge types with edges.rel_type = '<TYPE>', spelled exactly as in the schema.
- Return ONLY the SQL. No markdown fences, no explanation.`

const fewShot = `Question: How many contracts are there?
SQL: SELECT COUNT(*) AS contracts FROM nodes WHERE label = 'Agreement'

Question: Which organizations are party to contract 3?
SQL: SELECT json_extract(n.properties, '$.name') AS organization FROM nodes n JOIN edges e ON e.rel_type = 'IS_PARTY_TO' AND e.source_id = n.node_id WHERE n.label = 'Organization' AND e.target_id = '3' ORDER BY organization

Question: What is the average number of clauses per contract?
SQL: SELECT AVG(clause_count) AS avg_clauses FROM (SELECT COUNT(e.id) AS clause_count FROM nodes a LEFT JOIN edges e ON e.rel_type = 'HAS_CLAUSE' AND e.source_id = a.node_id WHERE a.label = 'Agreement' GROUP BY a.node_id)

Question: Which countries govern the most agreements?
SQL: SELECT e.target_id AS country, COUNT(*) AS agreements FROM edges e WHERE e.rel_type = 'GOVERNED_BY_LAW' GROUP BY e.target_id ORDER BY agreements DESC`

// Translate produces a schema-valid Plan for the question, retrying with the
// rejection reason appended so the model can self-correct. Exhausting the
// budget yields ErrTranslationFailed; no unvalidated query is ever returned.
func (t *Translator) Translate(ctx context.Context, question string) (*Plan, error) {
	if t.chat == nil {
		return nil, fmt.Errorf("%w: no chat provider configured", ErrTranslationFailed)
	}

	messages := []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, t.desc.Describe())},
		{Role: "user", Content: fewShot + "\n\nQuestion: " + question + "\nSQL:"},
	}

	var lastReason string
	for attempt := 0; attempt <= t.retries; attempt++ {
		resp, err := t.chat.Chat(ctx, llm.ChatRequest{
			Messages:    messages,
			Temperature: 0,
			MaxTokens:   512,
		})
		if err != nil {
			return nil, fmt.Errorf("translation request: %w", err)
		}

		candidate := cleanCandidate(resp.Content)
		plan, verr := t.validate(candidate)
		if verr == nil {
			slog.Debug("translate: candidate accepted",
				"attempt", attempt, "tokens", len(plan.Tokens))
			return plan, nil
		}

		lastReason = verr.Error()
		slog.Debug("translate: candidate rejected",
			"attempt", attempt, "reason", lastReason)

		// Feed the rejection back so the model can correct itself.
		messages = append(messages,
			llm.Message{Role: "assistant", Content: candidate},
			llm.Message{Role: "user", Content: "That query was rejected: " + lastReason +
				". Produce a corrected SELECT statement using only schema tokens. Return ONLY the SQL."})
	}

	return nil, fmt.Errorf("%w after %d attempts: %s", ErrTranslationFailed, t.retries+1, lastReason)
}

// Answer translates the question, executes the validated query, and returns
// the rows together with the query actually run, for auditability.
func (t *Translator) Answer(ctx context.Context, question string) (*store.QueryResult, string, error) {
	plan, err := t.Translate(ctx, question)
	if err != nil {
		return nil, "", err
	}

	res, err := t.store.RunStructuredQuery(ctx, plan.Query)
	if err != nil {
		return nil, plan.Query, err
	}
	return res, plan.Query, nil
}

// cleanCandidate strips markdown fences, model reasoning blocks, and a
// leading "SQL:" tag from the raw completion.
func cleanCandidate(raw string) string {
	s := stripThinking(strings.TrimSpace(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "SQL:"); ok {
		s = strings.TrimSpace(rest)
	}
	return strings.TrimSuffix(strings.TrimSpace(s), ";")
}

// stripThinking removes <think>...</think> blocks that some models wrap
// around their output.
func stripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s, "</think>")
		if end == -1 {
			s = s[:start]
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
