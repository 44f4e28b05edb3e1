// Package normalizer turns free-text transaction descriptions into stable
// merchant keys used to group charges from the same payee.
package normalizer

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
)

// MaxKeyTokens is the number of significant words kept for unknown merchants.
const MaxKeyTokens = 3

// minTokenLength excludes short fragments such as "ab", "de" or "gb".
const minTokenLength = 3

var (
	longDigitRun = regexp.MustCompile(`\d{4,}`)
	noiseWords   = regexp.MustCompile(`\b(paypal|payment|lastschrift|sepa|kartenzahlung)\b`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// MerchantInfo is the result of normalizing a description.
type MerchantInfo struct {
	Original string            `json:"original"`
	Key      string            `json:"key"`
	Provider *catalog.Provider `json:"provider,omitempty"`
}

// Normalizer derives merchant keys against a provider catalog.
type Normalizer struct {
	catalog *catalog.Catalog
}

// New creates a Normalizer. A nil catalog behaves like an empty one.
func New(cat *catalog.Catalog) *Normalizer {
	return &Normalizer{catalog: cat}
}

// Key returns the merchant key for description.
func (n *Normalizer) Key(description string) string {
	return n.Normalize(description).Key
}

// Normalize returns the merchant key and the matched provider, if any.
func (n *Normalizer) Normalize(description string) MerchantInfo {
	info := MerchantInfo{Original: description}
	cleaned := clean(description)

	if p, ok := n.catalog.MatchIn(cleaned); ok {
		info.Key = strings.ToLower(p.Name)
		info.Provider = &p
		return info
	}

	info.Key = significantTokens(cleaned)
	return info
}

// Key is a convenience for one-off normalization.
func Key(description string, cat *catalog.Catalog) string {
	return New(cat).Key(description)
}

// clean lower-cases the text and strips reference numbers, asterisks and
// payment-rail words.
func clean(s string) string {
	s = strings.ToLower(s)
	s = longDigitRun.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "*", " ")
	s = noiseWords.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func significantTokens(cleaned string) string {
	tokens := make([]string, 0, MaxKeyTokens)
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) < minTokenLength {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == MaxKeyTokens {
			break
		}
	}
	if len(tokens) > 0 {
		return strings.Join(tokens, " ")
	}
	return strings.Trim(cleaned, " -./:,;")
}
