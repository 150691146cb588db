//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lexgraph/lexgraph/schema"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, schema.Default())
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustUpsertEntity(t *testing.T, s *Store, e schema.Entity) int64 {
	t.Helper()
	rowid, err := s.UpsertEntity(context.Background(), e)
	if err != nil {
		t.Fatalf("upserting %s %s: %v", e.Label, e.ID, err)
	}
	return rowid
}

func mustUpsertRel(t *testing.T, s *Store, r schema.Relationship) {
	t.Helper()
	if err := s.UpsertRelationship(context.Background(), r); err != nil {
		t.Fatalf("upserting (%s)-[%s]->(%s): %v", r.SourceID, r.Type, r.TargetID, err)
	}
}

// seedAgreement writes a minimal contract: one agreement, two parties,
// governing law, and an Insurance clause with one excerpt.
func seedAgreement(t *testing.T, s *Store, contractID string) {
	t.Helper()
	mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: contractID, Properties: map[string]any{
		"contract_id":    int64(3),
		"name":           "Master Service Agreement",
		"agreement_type": "Service Agreement",
		"effective_date": "2021-06-01",
	}})
	mustUpsertEntity(t, s, schema.Entity{Label: "Organization", ID: "AT&T Corp.", Properties: map[string]any{"name": "AT&T Corp."}})
	mustUpsertEntity(t, s, schema.Entity{Label: "Organization", ID: "Birch Communications", Properties: map[string]any{"name": "Birch Communications"}})
	mustUpsertEntity(t, s, schema.Entity{Label: "Country", ID: "United States", Properties: map[string]any{"name": "United States"}})
	mustUpsertRel(t, s, schema.Relationship{Type: "IS_PARTY_TO", SourceLabel: "Organization", SourceID: "AT&T Corp.", TargetLabel: "Agreement", TargetID: contractID, Properties: map[string]any{"role": "Vendor"}})
	mustUpsertRel(t, s, schema.Relationship{Type: "IS_PARTY_TO", SourceLabel: "Organization", SourceID: "Birch Communications", TargetLabel: "Agreement", TargetID: contractID, Properties: map[string]any{"role": "Customer"}})
	mustUpsertRel(t, s, schema.Relationship{Type: "INCORPORATED_IN", SourceLabel: "Organization", SourceID: "AT&T Corp.", TargetLabel: "Country", TargetID: "United States", Properties: map[string]any{"state": "New York"}})
	mustUpsertRel(t, s, schema.Relationship{Type: "GOVERNED_BY_LAW", SourceLabel: "Agreement", SourceID: contractID, TargetLabel: "Country", TargetID: "United States", Properties: map[string]any{"state": "Georgia"}})

	seedClause(t, s, contractID, "Insurance", "Each party shall maintain commercial general liability insurance.")
}

func seedClause(t *testing.T, s *Store, contractID, clauseType, excerpt string) {
	t.Helper()
	clauseID := contractID + ":" + clauseType
	mustUpsertEntity(t, s, schema.Entity{Label: "ContractClause", ID: clauseID, Properties: map[string]any{"type": clauseType}})
	mustUpsertRel(t, s, schema.Relationship{Type: "HAS_CLAUSE", SourceLabel: "Agreement", SourceID: contractID, TargetLabel: "ContractClause", TargetID: clauseID, Properties: map[string]any{"type": clauseType}})
	mustUpsertEntity(t, s, schema.Entity{Label: "ClauseType", ID: clauseType, Properties: map[string]any{"name": clauseType}})
	mustUpsertRel(t, s, schema.Relationship{Type: "HAS_TYPE", SourceLabel: "ContractClause", SourceID: clauseID, TargetLabel: "ClauseType", TargetID: clauseType})
	if excerpt != "" {
		mustUpsertEntity(t, s, schema.Entity{Label: "Excerpt", ID: "x-" + clauseID, Properties: map[string]any{"text": excerpt}})
		mustUpsertRel(t, s, schema.Relationship{Type: "HAS_EXCERPT", SourceLabel: "ContractClause", SourceID: clauseID, TargetLabel: "Excerpt", TargetID: "x-" + clauseID})
	}
}

// ---------------------------------------------------------------------------
// Construction / writes
// ---------------------------------------------------------------------------

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	s, err := New(dbPath, schema.Default())
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestUpsertEntityAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsertEntity(t, s, schema.Entity{Label: "Organization", ID: "Acme", Properties: map[string]any{"name": "Acme"}})

	e, err := s.GetEntity(ctx, "Organization", "Acme")
	if err != nil {
		t.Fatalf("getting entity: %v", err)
	}
	if e.Properties["name"] != "Acme" {
		t.Errorf("expected name Acme, got %v", e.Properties["name"])
	}
}

func TestUpsertEntityIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := schema.Entity{Label: "Organization", ID: "Acme", Properties: map[string]any{"name": "Acme"}}
	first := mustUpsertEntity(t, s, e)
	second := mustUpsertEntity(t, s, e)
	if first != second {
		t.Errorf("re-upsert changed rowid: %d != %d", first, second)
	}

	stats, err := s.GraphStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Nodes["Organization"] != 1 {
		t.Errorf("expected 1 organization node, got %d", stats.Nodes["Organization"])
	}
}

func TestUpsertEntityOverwritesProperties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: "1", Properties: map[string]any{
		"contract_id": int64(1), "name": "Old Name",
	}})
	mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: "1", Properties: map[string]any{
		"contract_id": int64(1), "name": "New Name",
	}})

	e, err := s.GetEntity(ctx, "Agreement", "1")
	if err != nil {
		t.Fatalf("getting entity: %v", err)
	}
	if e.Properties["name"] != "New Name" {
		t.Errorf("expected overwritten name, got %v", e.Properties["name"])
	}
}

func TestUpsertEntityRejectsUnknownLabel(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertEntity(context.Background(), schema.Entity{Label: "Widget", ID: "w1"})
	if !errors.Is(err, schema.ErrViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestUpsertEntityRejectsUnknownProperty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertEntity(context.Background(), schema.Entity{
		Label: "Organization", ID: "Acme",
		Properties: map[string]any{"name": "Acme", "color": "blue"},
	})
	if !errors.Is(err, schema.ErrViolation) {
		t.Fatalf("expected schema violation for unknown property, got %v", err)
	}
}

func TestUpsertRelationshipRejectsUnknownTriple(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertRelationship(context.Background(), schema.Relationship{
		Type:        "IS_PARTY_TO",
		SourceLabel: "Country", SourceID: "United States",
		TargetLabel: "Agreement", TargetID: "1",
	})
	if !errors.Is(err, schema.ErrViolation) {
		t.Fatalf("expected schema violation for disallowed triple, got %v", err)
	}
}

func TestSameIDDifferentLabelIsDistinctNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsertEntity(t, s, schema.Entity{Label: "Organization", ID: "Samoa", Properties: map[string]any{"name": "Samoa"}})
	mustUpsertEntity(t, s, schema.Entity{Label: "Country", ID: "Samoa", Properties: map[string]any{"name": "Samoa"}})

	stats, err := s.GraphStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Nodes["Organization"] != 1 || stats.Nodes["Country"] != 1 {
		t.Errorf("expected one node per label, got %v", stats.Nodes)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity(context.Background(), "Organization", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Agreement traversals
// ---------------------------------------------------------------------------

func TestAgreementDetail(t *testing.T) {
	s := newTestStore(t)
	seedAgreement(t, s, "3")

	a, err := s.AgreementDetail(context.Background(), "3")
	if err != nil {
		t.Fatalf("agreement detail: %v", err)
	}
	if a.ContractID != 3 {
		t.Errorf("expected contract id 3, got %d", a.ContractID)
	}
	if a.Name != "Master Service Agreement" {
		t.Errorf("unexpected name %q", a.Name)
	}
	if a.GoverningLaw != "United States" {
		t.Errorf("expected governing law United States, got %q", a.GoverningLaw)
	}
	if len(a.Parties) != 2 {
		t.Fatalf("expected 2 parties, got %d", len(a.Parties))
	}
	// Parties ordered by organization id: AT&T before Birch.
	if a.Parties[0].Name != "AT&T Corp." || a.Parties[0].Role != "Vendor" {
		t.Errorf("unexpected first party %+v", a.Parties[0])
	}
	if a.Parties[0].IncorporationState != "New York" {
		t.Errorf("expected incorporation state New York, got %q", a.Parties[0].IncorporationState)
	}
	if len(a.Clauses) != 1 || a.Clauses[0].Type != "Insurance" {
		t.Fatalf("expected one Insurance clause, got %+v", a.Clauses)
	}
	if len(a.Clauses[0].Excerpts) != 1 {
		t.Errorf("expected one excerpt, got %d", len(a.Clauses[0].Excerpts))
	}
}

func TestAgreementDetailNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AgreementDetail(context.Background(), "999")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAgreementsByParty(t *testing.T) {
	s := newTestStore(t)
	seedAgreement(t, s, "3")

	// Partial, case-insensitive match.
	agreements, err := s.AgreementsByParty(context.Background(), "at&t")
	if err != nil {
		t.Fatalf("by party: %v", err)
	}
	if len(agreements) != 1 || agreements[0].ContractID != 3 {
		t.Fatalf("expected contract 3, got %+v", agreements)
	}
}

func TestAgreementsByPartyNoMatchIsEmpty(t *testing.T) {
	s := newTestStore(t)
	seedAgreement(t, s, "3")

	agreements, err := s.AgreementsByParty(context.Background(), "Globex")
	if err != nil {
		t.Fatalf("expected empty result, not error: %v", err)
	}
	if len(agreements) != 0 {
		t.Errorf("expected no agreements, got %d", len(agreements))
	}
}

func TestAgreementsByPartyEmptyName(t *testing.T) {
	s := newTestStore(t)
	agreements, err := s.AgreementsByParty(context.Background(), "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agreements) != 0 {
		t.Errorf("expected no agreements for blank name, got %d", len(agreements))
	}
}

func TestAgreementsByClausePresence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAgreement(t, s, "3")

	// Second agreement with Insurance and Price Restrictions.
	mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: "4", Properties: map[string]any{"contract_id": int64(4), "name": "Supply Agreement"}})
	seedClause(t, s, "4", "Insurance", "")
	seedClause(t, s, "4", "Price Restrictions", "Prices shall not increase by more than 2% annually.")

	got, err := s.AgreementsByClausePresence(ctx, []string{"Insurance"}, []string{"Price Restrictions"})
	if err != nil {
		t.Fatalf("by clause presence: %v", err)
	}
	if len(got) != 1 || got[0].ContractID != 3 {
		t.Fatalf("expected only contract 3, got %+v", got)
	}

	got, err = s.AgreementsByClausePresence(ctx, []string{"Insurance", "Price Restrictions"}, nil)
	if err != nil {
		t.Fatalf("by clause presence: %v", err)
	}
	if len(got) != 1 || got[0].ContractID != 4 {
		t.Fatalf("expected only contract 4, got %+v", got)
	}
}

func TestAgreementsByClausePresenceZeroClauseSatisfiesAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: "7", Properties: map[string]any{"contract_id": int64(7), "name": "Bare Agreement"}})

	got, err := s.AgreementsByClausePresence(ctx, nil, []string{"Non-Compete"})
	if err != nil {
		t.Fatalf("by clause presence: %v", err)
	}
	if len(got) != 1 || got[0].ContractID != 7 {
		t.Fatalf("expected the clause-free agreement, got %+v", got)
	}
}

func TestAgreementsByClausePresenceUnknownType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AgreementsByClausePresence(context.Background(), []string{"Secret Handshake"}, nil)
	if !errors.Is(err, schema.ErrViolation) {
		t.Fatalf("expected schema violation for unknown clause type, got %v", err)
	}
}

func TestResolveExcerptByRowID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAgreement(t, s, "3")

	rowid, err := s.EntityRowID(ctx, "Excerpt", "x-3:Insurance")
	if err != nil {
		t.Fatalf("excerpt rowid: %v", err)
	}

	origin, err := s.ResolveExcerptByRowID(ctx, rowid)
	if err != nil {
		t.Fatalf("resolving excerpt: %v", err)
	}
	if origin.AgreementID != "3" {
		t.Errorf("expected agreement 3, got %q", origin.AgreementID)
	}
	if origin.ClauseType != "Insurance" {
		t.Errorf("expected Insurance, got %q", origin.ClauseType)
	}
	if origin.Text == "" {
		t.Error("expected excerpt text")
	}
}

func TestResolveExcerptByRowIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveExcerptByRowID(context.Background(), 12345)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveExcerptSharedAcrossContracts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Identical boilerplate hashes to one Excerpt node owned by clauses of
	// two contracts. Resolution must pick the lowest contract id no matter
	// which owner was written first.
	boilerplate := "Audits may be conducted no more than once per calendar year upon thirty days notice."
	for i, contractID := range []string{"12", "3"} {
		mustUpsertEntity(t, s, schema.Entity{Label: "Agreement", ID: contractID, Properties: map[string]any{
			"contract_id": int64(i + 1), "name": "Contract " + contractID,
		}})
		clauseID := contractID + ":Audit Rights"
		mustUpsertEntity(t, s, schema.Entity{Label: "ContractClause", ID: clauseID, Properties: map[string]any{"type": "Audit Rights"}})
		mustUpsertRel(t, s, schema.Relationship{Type: "HAS_CLAUSE", SourceLabel: "Agreement", SourceID: contractID, TargetLabel: "ContractClause", TargetID: clauseID, Properties: map[string]any{"type": "Audit Rights"}})
		mustUpsertEntity(t, s, schema.Entity{Label: "Excerpt", ID: "x-shared", Properties: map[string]any{"text": boilerplate}})
		mustUpsertRel(t, s, schema.Relationship{Type: "HAS_EXCERPT", SourceLabel: "ContractClause", SourceID: clauseID, TargetLabel: "Excerpt", TargetID: "x-shared"})
	}

	rowid, err := s.EntityRowID(ctx, "Excerpt", "x-shared")
	if err != nil {
		t.Fatalf("excerpt rowid: %v", err)
	}

	origin, err := s.ResolveExcerptByRowID(ctx, rowid)
	if err != nil {
		t.Fatalf("resolving excerpt: %v", err)
	}
	if origin.AgreementID != "3" {
		t.Errorf("expected lowest contract id 3, got %q", origin.AgreementID)
	}
	if origin.Text != boilerplate {
		t.Errorf("unexpected text %q", origin.Text)
	}
}

// ---------------------------------------------------------------------------
// Structured queries
// ---------------------------------------------------------------------------

func TestRunStructuredQuery(t *testing.T) {
	s := newTestStore(t)
	seedAgreement(t, s, "3")

	res, err := s.RunStructuredQuery(context.Background(),
		"SELECT COUNT(*) AS n FROM nodes WHERE label = 'Agreement'")
	if err != nil {
		t.Fatalf("running query: %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "n" {
		t.Fatalf("unexpected columns %v", res.Columns)
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != int64(1) {
		t.Fatalf("unexpected rows %v", res.Rows)
	}
}

func TestRunStructuredQueryExecutionError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RunStructuredQuery(context.Background(), "SELECT * FROM missing_table")
	if !errors.Is(err, ErrQueryExecution) {
		t.Fatalf("expected ErrQueryExecution, got %v", err)
	}
}

func TestGraphStats(t *testing.T) {
	s := newTestStore(t)
	seedAgreement(t, s, "3")

	stats, err := s.GraphStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Nodes["Agreement"] != 1 {
		t.Errorf("expected 1 agreement, got %d", stats.Nodes["Agreement"])
	}
	if stats.Nodes["Organization"] != 2 {
		t.Errorf("expected 2 organizations, got %d", stats.Nodes["Organization"])
	}
	if stats.Edges == 0 {
		t.Error("expected nonzero edge count")
	}
}
