package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lexgraph/lexgraph/schema"
)

// Party is one organization's participation in an agreement, with its role
// on the IS_PARTY_TO edge and incorporation details.
type Party struct {
	Name                 string `json:"name"`
	Role                 string `json:"role"`
	IncorporationCountry string `json:"incorporation_country,omitempty"`
	IncorporationState   string `json:"incorporation_state,omitempty"`
}

// Clause is a contract clause with the excerpts that support it.
type Clause struct {
	Type     string   `json:"clause_type"`
	Excerpts []string `json:"excerpts,omitempty"`
}

// Agreement is the fully resolved view of an Agreement node: its properties
// plus related parties and clauses gathered by traversal.
type Agreement struct {
	ContractID    int64    `json:"contract_id"`
	Name          string   `json:"name"`
	AgreementType string   `json:"agreement_type"`
	EffectiveDate string   `json:"effective_date,omitempty"`
	ExpirationDate string  `json:"expiration_date,omitempty"`
	RenewalTerm   string   `json:"renewal_term,omitempty"`
	GoverningLaw  string   `json:"governing_law,omitempty"`
	Parties       []Party  `json:"parties"`
	Clauses       []Clause `json:"clauses"`
}

// ExcerptOrigin resolves a vector hit back to its owning domain entities.
type ExcerptOrigin struct {
	AgreementID string `json:"agreement_id"`
	ClauseType  string `json:"clause_type"`
	Text        string `json:"text"`
}

// AgreementDetail returns the agreement with the given contract id, with its
// parties and clauses resolved. Returns ErrNotFound for an unknown id.
func (s *Store) AgreementDetail(ctx context.Context, contractID string) (*Agreement, error) {
	var props string
	err := s.db.QueryRowContext(ctx,
		"SELECT properties FROM nodes WHERE label = 'Agreement' AND node_id = ?", contractID).Scan(&props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: Agreement %s", ErrNotFound, contractID)
	}
	if err != nil {
		return nil, err
	}

	a := &Agreement{}
	if err := s.scanAgreementProps(ctx, contractID, a); err != nil {
		return nil, err
	}

	parties, err := s.agreementParties(ctx, contractID)
	if err != nil {
		return nil, err
	}
	a.Parties = parties

	clauses, err := s.agreementClauses(ctx, contractID)
	if err != nil {
		return nil, err
	}
	a.Clauses = clauses
	return a, nil
}

func (s *Store) scanAgreementProps(ctx context.Context, contractID string, a *Agreement) error {
	return s.db.QueryRowContext(ctx, `
		SELECT COALESCE(json_extract(properties, '$.contract_id'), 0),
			COALESCE(json_extract(properties, '$.name'), ''),
			COALESCE(json_extract(properties, '$.agreement_type'), ''),
			COALESCE(json_extract(properties, '$.effective_date'), ''),
			COALESCE(json_extract(properties, '$.expiration_date'), ''),
			COALESCE(json_extract(properties, '$.renewal_term'), ''),
			COALESCE((SELECT target_id FROM edges
				WHERE rel_type = 'GOVERNED_BY_LAW' AND source_id = nodes.node_id LIMIT 1), '')
		FROM nodes WHERE label = 'Agreement' AND node_id = ?
	`, contractID).Scan(&a.ContractID, &a.Name, &a.AgreementType,
		&a.EffectiveDate, &a.ExpirationDate, &a.RenewalTerm, &a.GoverningLaw)
}

func (s *Store) agreementParties(ctx context.Context, contractID string) ([]Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(json_extract(o.properties, '$.name'), o.node_id),
			COALESCE(json_extract(e.properties, '$.role'), ''),
			COALESCE(inc.target_id, ''),
			COALESCE(json_extract(inc.properties, '$.state'), '')
		FROM edges e
		JOIN nodes o ON o.label = 'Organization' AND o.node_id = e.source_id
		LEFT JOIN edges inc ON inc.rel_type = 'INCORPORATED_IN' AND inc.source_id = o.node_id
		WHERE e.rel_type = 'IS_PARTY_TO' AND e.target_id = ?
		ORDER BY o.node_id
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.Name, &p.Role, &p.IncorporationCountry, &p.IncorporationState); err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

func (s *Store) agreementClauses(ctx context.Context, contractID string) ([]Clause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(json_extract(c.properties, '$.type'), ''),
			COALESCE(json_extract(x.properties, '$.text'), '')
		FROM edges hc
		JOIN nodes c ON c.label = 'ContractClause' AND c.node_id = hc.target_id
		LEFT JOIN edges hx ON hx.rel_type = 'HAS_EXCERPT' AND hx.source_id = c.node_id
		LEFT JOIN nodes x ON x.label = 'Excerpt' AND x.node_id = hx.target_id
		WHERE hc.rel_type = 'HAS_CLAUSE' AND hc.source_id = ?
		ORDER BY c.node_id, x.node_id
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clauses []Clause
	index := make(map[string]int)
	for rows.Next() {
		var clauseType, excerpt string
		if err := rows.Scan(&clauseType, &excerpt); err != nil {
			return nil, err
		}
		i, ok := index[clauseType]
		if !ok {
			i = len(clauses)
			index[clauseType] = i
			clauses = append(clauses, Clause{Type: clauseType})
		}
		if excerpt != "" {
			clauses[i].Excerpts = append(clauses[i].Excerpts, excerpt)
		}
	}
	return clauses, rows.Err()
}

// AgreementsByParty finds agreements where an organization whose name
// contains the given text (case-insensitive) is a party. An empty match set
// is an empty slice, never an error.
func (s *Store) AgreementsByParty(ctx context.Context, name string) ([]Agreement, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT a.node_id
		FROM nodes o
		JOIN edges e ON e.rel_type = 'IS_PARTY_TO' AND e.source_id = o.node_id
		JOIN nodes a ON a.label = 'Agreement' AND a.node_id = e.target_id
		WHERE o.label = 'Organization'
		  AND instr(lower(COALESCE(json_extract(o.properties, '$.name'), o.node_id)), lower(?)) > 0
		ORDER BY CAST(a.node_id AS INTEGER)
	`, name)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	return s.agreementsByIDs(ctx, ids)
}

// AgreementsByClausePresence finds agreements containing every clause type in
// present and none in absent. Absence means no HAS_CLAUSE then HAS_TYPE path
// to that type, so an agreement with zero clauses satisfies any absent
// constraint. Unknown clause type names are a schema violation.
func (s *Store) AgreementsByClausePresence(ctx context.Context, present, absent []string) ([]Agreement, error) {
	for _, ct := range append(append([]string{}, present...), absent...) {
		if !s.desc.HasClauseType(ct) {
			return nil, fmt.Errorf("%w: unknown clause type %q", schema.ErrViolation, ct)
		}
	}

	query := "SELECT a.node_id FROM nodes a WHERE a.label = 'Agreement'"
	var args []any
	const pathCond = `EXISTS (
		SELECT 1 FROM edges hc
		JOIN edges ht ON ht.rel_type = 'HAS_TYPE' AND ht.source_id = hc.target_id
		WHERE hc.rel_type = 'HAS_CLAUSE' AND hc.source_id = a.node_id AND ht.target_id = ?
	)`
	for _, ct := range present {
		query += " AND " + pathCond
		args = append(args, ct)
	}
	for _, ct := range absent {
		query += " AND NOT " + pathCond
		args = append(args, ct)
	}
	query += " ORDER BY CAST(a.node_id AS INTEGER)"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	return s.agreementsByIDs(ctx, ids)
}

func (s *Store) agreementsByIDs(ctx context.Context, ids []string) ([]Agreement, error) {
	agreements := make([]Agreement, 0, len(ids))
	for _, id := range ids {
		a, err := s.AgreementDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		agreements = append(agreements, *a)
	}
	return agreements, nil
}

// ResolveExcerptByRowID walks from an Excerpt node rowid back to its owning
// clause and agreement, so vector hits surface as domain entities. Excerpts
// are keyed by text hash, so identical boilerplate shared by several
// contracts is one node with several owners; the lowest contract id wins.
func (s *Store) ResolveExcerptByRowID(ctx context.Context, rowid int64) (*ExcerptOrigin, error) {
	var origin ExcerptOrigin
	err := s.db.QueryRowContext(ctx, `
		SELECT hc.source_id,
			COALESCE(json_extract(c.properties, '$.type'), ''),
			COALESCE(json_extract(x.properties, '$.text'), '')
		FROM nodes x
		JOIN edges hx ON hx.rel_type = 'HAS_EXCERPT' AND hx.target_id = x.node_id
		JOIN nodes c ON c.label = 'ContractClause' AND c.node_id = hx.source_id
		JOIN edges hc ON hc.rel_type = 'HAS_CLAUSE' AND hc.target_id = c.node_id
		WHERE x.label = 'Excerpt' AND x.id = ?
		ORDER BY CAST(hc.source_id AS INTEGER), c.node_id
		LIMIT 1
	`, rowid).Scan(&origin.AgreementID, &origin.ClauseType, &origin.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: excerpt rowid %d", ErrNotFound, rowid)
	}
	if err != nil {
		return nil, err
	}
	return &origin, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
