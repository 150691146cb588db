package translate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Static validation of a candidate query. Purely syntactic: the query must be
// a single read-only SELECT over the graph's relational surface, and every
// label, relationship-type, and property token it references must exist in
// the schema descriptor. Value literals (party names, dates, ids) pass
// through unchecked. A query can pass validation and still answer the wrong
// question; only schema conformance is guaranteed here.

// Tables and columns of the graph's relational encoding.
var allowedTables = map[string]bool{
	"nodes": true,
	"edges": true,
}

var allowedColumns = map[string]bool{
	"id": true, "label": true, "node_id": true, "properties": true,
	"rel_type": true, "source_label": true, "source_id": true,
	"target_label": true, "target_id": true,
	"created_at": true, "updated_at": true,
}

// SQL keywords and functions a read-only SELECT may use.
var allowedKeywords = map[string]bool{
	"select": true, "from": true, "where": true, "join": true, "left": true,
	"right": true, "inner": true, "outer": true, "cross": true, "on": true,
	"and": true, "or": true, "not": true, "in": true, "exists": true,
	"as": true, "order": true, "by": true, "group": true, "having": true,
	"limit": true, "offset": true, "distinct": true, "union": true,
	"all": true, "case": true, "when": true, "then": true, "else": true,
	"end": true, "null": true, "is": true, "like": true, "glob": true,
	"between": true, "asc": true, "desc": true, "with": true,
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"total": true, "abs": true, "round": true, "length": true,
	"lower": true, "upper": true, "trim": true, "substr": true,
	"instr": true, "coalesce": true, "ifnull": true, "nullif": true,
	"json_extract": true, "json_array_length": true, "json_each": true,
	"cast": true, "integer": true, "real": true, "text": true, "numeric": true,
	"value": true, // json_each column
}

// Verbs that make a statement non-read-only, checked outside string literals.
var forbiddenRe = regexp.MustCompile(`\b(insert|update|delete|drop|alter|create|replace|pragma|attach|detach|vacuum|reindex|truncate)\b`)

const (
	litPat       = `'(?:[^']|'')*'`
	schemaColPat = `(label|source_label|target_label|rel_type)`
	aliasPat     = `(?:[A-Za-z_][A-Za-z0-9_]*\.)?`
)

var (
	literalRe = regexp.MustCompile(litPat)
	identRe   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	// Comparisons binding a schema-token column to one or more literals.
	// The column may sit on either side of the operator: label = 'Agreement',
	// 'Agreement' = label, rel_type IN ('HAS_CLAUSE', 'HAS_TYPE').
	schemaCmpRe    = regexp.MustCompile(`(?i)\b` + schemaColPat + `\s*(?:=|==|!=|<>|\s+not\s+like|\s+like|\s+glob|\s+in)\s*(\(\s*` + litPat + `(?:\s*,\s*` + litPat + `)*\s*\)|` + litPat + `)`)
	schemaCmpRevRe = regexp.MustCompile(`(?i)(` + litPat + `)\s*(?:=|==|!=|<>|\bnot\s+like\b|\blike\b|\bglob\b)\s*` + aliasPat + schemaColPat + `\b`)
	// A literal membership-tested against a list naming a schema column,
	// e.g. 'Widget' IN (label, rel_type).
	schemaInListRe  = regexp.MustCompile(`(?i)(` + litPat + `)\s+in\s*\(([^()]*)\)`)
	schemaColBareRe = regexp.MustCompile(`(?i)\b(?:label|source_label|target_label|rel_type)\b`)
	// Schema columns wrapped in concatenation or a function call defeat
	// token extraction, so such expressions are rejected outright.
	schemaExprRe = regexp.MustCompile(`(?i)(?:\|\|\s*|\b(?:count|sum|avg|min|max|total|abs|round|length|lower|upper|trim|substr|instr|coalesce|ifnull|nullif|json_extract|cast|replace)\s*\([^()]*)` + aliasPat + schemaColPat + `\b|\b` + aliasPat + schemaColPat + `\s*\|\|`)
	jsonPathRe   = regexp.MustCompile(`\$\.([A-Za-z_][A-Za-z0-9_]*)`)
)

// validate checks the candidate and returns a Plan on success, or an error
// naming the first offending token. The returned Plan's Tokens list every
// schema element the query references.
func (t *Translator) validate(candidate string) (*Plan, error) {
	q := strings.TrimSpace(candidate)
	if q == "" {
		return nil, fmt.Errorf("empty query")
	}
	if strings.Contains(q, ";") {
		return nil, fmt.Errorf("multiple statements are not allowed")
	}

	// Blank out string literals so value content never trips token checks.
	stripped := literalRe.ReplaceAllString(q, "''")

	lowered := strings.ToLower(stripped)
	if !strings.HasPrefix(lowered, "select") && !strings.HasPrefix(lowered, "with") {
		return nil, fmt.Errorf("only SELECT statements may be executed")
	}
	if m := forbiddenRe.FindString(lowered); m != "" {
		return nil, fmt.Errorf("forbidden keyword %q", m)
	}

	// Every bare identifier must be a known table, column, keyword, or an
	// alias the query itself introduces.
	aliases := collectAliases(stripped)
	for _, ident := range identRe.FindAllString(stripped, -1) {
		low := strings.ToLower(ident)
		if allowedTables[low] || allowedColumns[low] || allowedKeywords[low] || aliases[low] {
			continue
		}
		return nil, fmt.Errorf("unknown identifier %q", ident)
	}

	tokens, err := t.checkSchemaTokens(q)
	if err != nil {
		return nil, err
	}

	return &Plan{Query: q, Tokens: tokens, Valid: true}, nil
}

// checkSchemaTokens extracts every label, relationship-type, and property
// token the query references and checks each against the descriptor.
func (t *Translator) checkSchemaTokens(q string) ([]string, error) {
	seen := make(map[string]bool)

	checkLiterals := func(column, blob string) error {
		for _, lit := range literalRe.FindAllString(blob, -1) {
			token := strings.ReplaceAll(strings.Trim(lit, "'"), "''", "'")
			// LIKE patterns on schema columns defeat static checking.
			if strings.Contains(token, "%") {
				return fmt.Errorf("pattern match on schema column %s is not allowed", column)
			}
			switch column {
			case "rel_type":
				if !t.desc.HasRelation(token) {
					return fmt.Errorf("unknown relationship type %q", token)
				}
			default:
				if !t.desc.HasLabel(token) {
					return fmt.Errorf("unknown label %q", token)
				}
			}
			seen[token] = true
		}
		return nil
	}

	if m := schemaExprRe.FindString(q); m != "" {
		return nil, fmt.Errorf("expression over schema column is not allowed: %q", strings.TrimSpace(m))
	}

	for _, m := range schemaCmpRe.FindAllStringSubmatch(q, -1) {
		if err := checkLiterals(strings.ToLower(m[1]), m[2]); err != nil {
			return nil, err
		}
	}
	for _, m := range schemaCmpRevRe.FindAllStringSubmatch(q, -1) {
		if err := checkLiterals(strings.ToLower(m[2]), m[1]); err != nil {
			return nil, err
		}
	}
	for _, m := range schemaInListRe.FindAllStringSubmatch(q, -1) {
		if !schemaColBareRe.MatchString(m[2]) {
			continue
		}
		token := strings.ReplaceAll(strings.Trim(m[1], "'"), "''", "'")
		if !t.desc.HasLabel(token) && !t.desc.HasRelation(token) {
			return nil, fmt.Errorf("unknown schema token %q", token)
		}
		seen[token] = true
	}

	for _, m := range jsonPathRe.FindAllStringSubmatch(q, -1) {
		prop := m[1]
		if !t.desc.HasProperty(prop) {
			return nil, fmt.Errorf("unknown property %q", prop)
		}
		seen[prop] = true
	}

	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens, nil
}

// collectAliases finds identifiers the query introduces itself: AS aliases
// and single-word table aliases after nodes/edges or a closing parenthesis.
func collectAliases(stripped string) map[string]bool {
	aliases := make(map[string]bool)

	asRe := regexp.MustCompile(`(?i)\bas\s+([A-Za-z_][A-Za-z0-9_]*)`)
	for _, m := range asRe.FindAllStringSubmatch(stripped, -1) {
		aliases[strings.ToLower(m[1])] = true
	}

	tableAliasRe := regexp.MustCompile(`(?i)\b(?:nodes|edges|\))\s+([A-Za-z_][A-Za-z0-9_]*)`)
	for _, m := range tableAliasRe.FindAllStringSubmatch(stripped, -1) {
		low := strings.ToLower(m[1])
		if allowedKeywords[low] || allowedColumns[low] || allowedTables[low] {
			continue
		}
		aliases[low] = true
	}
	return aliases
}
