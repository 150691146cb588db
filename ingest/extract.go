package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/lexgraph/lexgraph/llm"
	"github.com/lexgraph/lexgraph/schema"
)

// maxExtractChars bounds how much contract text goes into one extraction
// request. Long contracts are truncated from the tail; CUAD-relevant clause
// language is overwhelmingly in the body, not in back-matter exhibits.
const maxExtractChars = 120000

// Extractor turns raw contract PDFs into structured Extraction records by
// reading the document text and asking the chat model for JSON output.
type Extractor struct {
	chat llm.Provider
	desc *schema.Descriptor
}

// NewExtractor creates an Extractor using the given chat provider and schema.
func NewExtractor(chat llm.Provider, desc *schema.Descriptor) *Extractor {
	return &Extractor{chat: chat, desc: desc}
}

// ExtractPDF reads the text of a contract PDF and extracts a structured
// record from it. The returned Extraction has no contract id assigned.
func (e *Extractor) ExtractPDF(ctx context.Context, path string) (*Extraction, error) {
	text, err := readPDFText(path)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("no extractable text in %s", path)
	}
	if len(text) > maxExtractChars {
		slog.Warn("truncating contract text for extraction",
			"path", path, "chars", len(text), "limit", maxExtractChars)
		text = text[:maxExtractChars]
	}
	return e.Extract(ctx, text)
}

// Extract runs structured extraction over already-loaded contract text.
func (e *Extractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: e.systemPrompt()},
			{Role: "user", Content: "Extract the contract information from the following document.\n\n" + text},
		},
		Temperature:    0.1,
		MaxTokens:      4000,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}

	raw := cleanJSONResponse(resp.Content)

	// Accept both the {"agreement": {...}} envelope and a bare record.
	var ef extractionFile
	if err := json.Unmarshal([]byte(raw), &ef); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	ex := ef.Agreement
	if ex.AgreementType == "" && len(ex.Clauses) == 0 {
		if err := json.Unmarshal([]byte(raw), &ex); err != nil {
			return nil, fmt.Errorf("parsing extraction response: %w", err)
		}
	}

	e.normalize(&ex)
	return &ex, nil
}

// normalize drops clause entries whose type is outside the closed enum and
// clears unknown agreement types, so downstream schema validation sees only
// tokens it accepts.
func (e *Extractor) normalize(ex *Extraction) {
	kept := ex.Clauses[:0]
	for _, c := range ex.Clauses {
		if !e.desc.HasClauseType(c.ClauseType) {
			slog.Warn("dropping clause with unknown type", "clause_type", c.ClauseType)
			continue
		}
		kept = append(kept, c)
	}
	ex.Clauses = kept

	known := false
	for _, t := range e.desc.AgreementTypes {
		if t == ex.AgreementType {
			known = true
			break
		}
	}
	if !known && ex.AgreementType != "" {
		slog.Warn("unknown agreement type, using Other", "agreement_type", ex.AgreementType)
		ex.AgreementType = "Other"
	}
}

func (e *Extractor) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a legal contract analyst. Extract structured information from the contract you are given.\n\n")
	b.WriteString("Return a single JSON object with this shape:\n")
	b.WriteString(`{"agreement": {"agreement_name": "", "agreement_type": "", "agreement_date": "", "effective_date": "", "expiration_date": "", "renewal_term": "", "Notice_period_to_Terminate_Renewal": "", "parties": [{"role": "", "name": "", "incorporation_country": "", "incorporation_state": ""}], "governing_law": {"country": "", "state": "", "most_favored_country": ""}, "clauses": [{"clause_type": "", "exists": true, "excerpts": [""]}]}}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Dates in yyyy-mm-dd form when the document states an absolute date; empty string when not found.\n")
	b.WriteString("- For every clause type listed below, include one clauses entry with exists true or false. When a clause exists, copy the supporting passages verbatim into excerpts.\n")
	b.WriteString("- agreement_type must be exactly one of: ")
	b.WriteString(strings.Join(e.desc.AgreementTypes, "; "))
	b.WriteString("\n- clause_type must be exactly one of: ")
	b.WriteString(strings.Join(e.desc.ClauseTypes, "; "))
	b.WriteString("\n")
	return b.String()
}

// readPDFText extracts the plain text of every page, skipping pages that
// fail to decode.
func readPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// cleanJSONResponse strips code fences some models wrap around JSON output.
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
