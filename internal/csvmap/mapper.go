package csvmap

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/validation"
)

var amountJunkRe = regexp.MustCompile(`[^0-9.\-]`)

// Mapper resolves canonical fields from CSV columns. It is immutable and safe
// for concurrent use.
type Mapper struct {
	tokens Tokens
}

// New creates a Mapper with the given token lists. Tokens are lowercased.
func New(tokens Tokens) *Mapper {
	copied := make(Tokens, len(tokens))
	for field, list := range tokens {
		out := make([]string, 0, len(list))
		for _, tok := range list {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out = append(out, tok)
			}
		}
		copied[field] = out
	}
	return &Mapper{tokens: copied}
}

// NewDefault creates a Mapper with DefaultTokens.
func NewDefault() *Mapper {
	return New(DefaultTokens())
}

// Binding is a Mapper applied to one header row. Header normalization and
// token matching happen once; Map then only looks at values.
type Binding struct {
	headers    []string
	candidates map[Field][]int
}

// Bind normalizes headers and records, per field, the matching column indexes
// in column order.
func (m *Mapper) Bind(headers []string) *Binding {
	b := &Binding{
		headers:    make([]string, len(headers)),
		candidates: make(map[Field][]int, len(Fields)),
	}
	for i, h := range headers {
		b.headers[i] = NormalizeHeader(h)
	}
	for _, field := range Fields {
		for i, h := range b.headers {
			if h == "" {
				continue
			}
			for _, tok := range m.tokens[field] {
				if strings.Contains(h, tok) {
					b.candidates[field] = append(b.candidates[field], i)
					break
				}
			}
		}
	}
	return b
}

// Headers returns the normalized headers.
func (b *Binding) Headers() []string {
	return b.headers
}

// Matched reports whether any column could supply field.
func (b *Binding) Matched(field Field) bool {
	return len(b.candidates[field]) > 0
}

// Map resolves one record. Short records are treated as having blank trailing
// values; extra values are ignored.
func (b *Binding) Map(record []string) (Draft, error) {
	for i, v := range record {
		if !utf8.ValidString(v) {
			return Draft{}, fmt.Errorf("%w (column %d)", ErrInvalidEncoding, i+1)
		}
	}

	d := Draft{
		Amount:   parseAmount(b.resolve(FieldAmount, record)),
		Merchant: validation.SanitizeString(b.resolve(FieldMerchant, record), validation.MaxStringLength),
		Country:  validation.SanitizeString(b.resolve(FieldCountry, record), validation.MaxStringLength),
	}
	if d.Merchant == "" {
		d.Merchant = DefaultMerchant
	}
	if d.Country == "" {
		d.Country = DefaultCountry
	}
	d.Timestamp = canonicalTimestamp(b.resolve(FieldTimestamp, record))
	return d, nil
}

// MapRow binds headers and maps a single record.
func (m *Mapper) MapRow(headers, record []string) (Draft, error) {
	return m.Bind(headers).Map(record)
}

// resolve returns the trimmed value of the first candidate column that is
// not blank, or "".
func (b *Binding) resolve(field Field, record []string) string {
	for _, idx := range b.candidates[field] {
		if idx >= len(record) {
			continue
		}
		if v := strings.TrimSpace(record[idx]); v != "" {
			return v
		}
	}
	return ""
}

func parseAmount(raw string) float64 {
	cleaned := amountJunkRe.ReplaceAllString(raw, "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// canonicalTimestamp rewrites parseable dates as ISO instants and passes
// anything else through unchanged.
func canonicalTimestamp(raw string) string {
	if raw == "" {
		return ""
	}
	t, ok := risk.ParseTimestamp(raw)
	if !ok {
		return raw
	}
	return t.UTC().Format(CanonicalTimestampLayout)
}
