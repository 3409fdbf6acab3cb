// Package csvmap turns CSV rows with arbitrary, inconsistently named headers
// into canonical transaction drafts.
//
// Headers are normalized and matched against per-field synonym tokens by
// substring containment. For each field the first column, in column order,
// whose header contains any of the field's tokens and whose value is not
// blank wins. Token order does not matter, column order does.
package csvmap

import (
	"errors"
	"regexp"
	"strings"

	"github.com/mbd888/riskintake/internal/risk"
)

// Field is a canonical transaction attribute.
type Field string

const (
	FieldAmount    Field = "amount"
	FieldMerchant  Field = "merchant"
	FieldCountry   Field = "country"
	FieldTimestamp Field = "timestamp"
)

// Fields lists every canonical field.
var Fields = []Field{FieldAmount, FieldMerchant, FieldCountry, FieldTimestamp}

// Defaults applied when a field has no matching, non-blank column.
const (
	DefaultMerchant = "unknown"
	DefaultCountry  = "Ireland"
)

// CanonicalTimestampLayout is the ISO instant format parsed dates are written in.
const CanonicalTimestampLayout = "2006-01-02T15:04:05.000Z"

// ErrInvalidEncoding is returned for rows containing bytes that are not UTF-8.
var ErrInvalidEncoding = errors.New("csvmap: row contains invalid UTF-8")

// Tokens maps each field to its acceptable header substrings.
type Tokens map[Field][]string

// DefaultTokens returns the synonym lists used for bank and card exports.
func DefaultTokens() Tokens {
	return Tokens{
		FieldAmount:    {"amount", "amt", "value", "price", "debit", "credit", "transaction_amount"},
		FieldMerchant:  {"merchant", "shop", "payee", "vendor", "store", "description", "narrative"},
		FieldCountry:   {"country", "location", "country_code", "countryname"},
		FieldTimestamp: {"timestamp", "date", "datetime", "transaction_date", "posted_date", "created_at", "time"},
	}
}

// Draft is a mapped but not yet persisted transaction.
type Draft struct {
	Amount    float64 `json:"amount"`
	Merchant  string  `json:"merchant"`
	Country   string  `json:"country"`
	Timestamp string  `json:"timestamp"`
}

// RiskInput adapts the draft for scoring.
func (d Draft) RiskInput() risk.Input {
	return risk.Input{
		Amount:    d.Amount,
		Country:   d.Country,
		Merchant:  d.Merchant,
		Timestamp: d.Timestamp,
	}
}

var (
	bracketsRe = regexp.MustCompile("[()\\[\\]{}<>\"'`]")
	nonWordRe  = regexp.MustCompile(`[^\w\s-]`)
	spacesRe   = regexp.MustCompile(`\s+`)
)

// NormalizeHeader strips a byte-order mark, brackets and quotes, replaces
// other non-word characters (except '-' and '_') with spaces, collapses
// whitespace and lowercases.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = bracketsRe.ReplaceAllString(h, "")
	h = nonWordRe.ReplaceAllString(h, " ")
	h = spacesRe.ReplaceAllString(h, " ")
	return strings.TrimSpace(strings.ToLower(h))
}
