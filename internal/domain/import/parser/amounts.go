package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/subscription-tracker/pkg/money"
)

// Placement of the currency marker relative to the number.
type Placement int

const (
	MarkerAfter Placement = iota
	MarkerBefore
	NoMarker
)

// AmountRule accepts a number when the required currency marker sits next
// to it. NoMarker rules accept any bare number and infer the currency from
// the rest of the line.
type AmountRule struct {
	Currency  string
	Placement Placement
	marker    *regexp.Regexp
}

// numberPattern: digits grouped by '.' or ',' with a final 2-decimal group.
var numberPattern = regexp.MustCompile(`-?(?:\d{1,3}(?:[.,]\d{3})+|\d+)[.,]\d{2}`)

var (
	eurMarker = `(?:€|EUR)`
	usdMarker = `(?:US\$|\$|USD)`
	gbpMarker = `(?:£|GBP)`

	currencyTokens = regexp.MustCompile(`(?i)\b(?:EUR|USD|GBP)\b|US\$|[€$£]`)
)

func after(currency, marker string) AmountRule {
	return AmountRule{Currency: currency, Placement: MarkerAfter, marker: regexp.MustCompile(`^\s*` + marker)}
}

func before(currency, marker string) AmountRule {
	return AmountRule{Currency: currency, Placement: MarkerBefore, marker: regexp.MustCompile(marker + `\s*$`)}
}

// AmountRules are tried in order; within a rule, numbers are tried left to right.
var AmountRules = []AmountRule{
	after(money.EUR, eurMarker),
	before(money.EUR, eurMarker),
	after(money.USD, usdMarker),
	before(money.USD, usdMarker),
	after(money.GBP, gbpMarker),
	before(money.GBP, gbpMarker),
	{Placement: NoMarker},
}

// Amount is a parsed monetary amount.
type Amount struct {
	Value    decimal.Decimal
	Currency string
}

type numberSpan struct {
	start, end int
	text       string
}

// FindAmount returns the first non-zero amount in text according to AmountRules.
// text should already have dates stripped.
func FindAmount(text string) (Amount, bool) {
	spans := numberSpans(text)
	if len(spans) == 0 {
		return Amount{}, false
	}

	for _, rule := range AmountRules {
		for _, s := range spans {
			if !rule.accepts(text, s) {
				continue
			}
			value, ok := NormalizeNumber(s.text)
			if !ok || value.IsZero() {
				continue
			}
			currency := rule.Currency
			if rule.Placement == NoMarker {
				currency = inferCurrency(text)
			}
			return Amount{Value: value, Currency: currency}, true
		}
	}
	return Amount{}, false
}

// StripAmounts removes numbers and currency markers from text.
func StripAmounts(text string) string {
	spans := numberSpans(text)
	var b strings.Builder
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		b.WriteByte(' ')
		last = s.end
	}
	b.WriteString(text[last:])
	return currencyTokens.ReplaceAllString(b.String(), " ")
}

// NormalizeNumber converts a grouped number with a 2-digit decimal part to
// an absolute decimal: the last separator is the decimal point, every other
// '.' or ',' is grouping.
func NormalizeNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "-")
	if len(s) < 4 {
		return decimal.Zero, false
	}
	intPart := strings.NewReplacer(".", "", ",", "").Replace(s[:len(s)-3])
	d, err := decimal.NewFromString(intPart + "." + s[len(s)-2:])
	if err != nil {
		return decimal.Zero, false
	}
	return d.Abs(), true
}

func (r AmountRule) accepts(text string, s numberSpan) bool {
	switch r.Placement {
	case MarkerAfter:
		return r.marker.MatchString(text[s.end:])
	case MarkerBefore:
		return r.marker.MatchString(text[:s.start])
	default:
		return true
	}
}

// numberSpans finds standalone numbers: not glued to other digits or separators.
func numberSpans(text string) []numberSpan {
	var spans []numberSpan
	for _, loc := range numberPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isNumberByte(text[start-1]) {
			continue
		}
		if end < len(text) && (isDigit(text[end]) || ((text[end] == '.' || text[end] == ',') && end+1 < len(text) && isDigit(text[end+1]))) {
			continue
		}
		spans = append(spans, numberSpan{start: start, end: end, text: text[start:end]})
	}
	return spans
}

func inferCurrency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "€") || strings.Contains(upper, "EUR"):
		return money.EUR
	case strings.Contains(upper, "$") || strings.Contains(upper, "USD"):
		return money.USD
	case strings.Contains(upper, "£") || strings.Contains(upper, "GBP"):
		return money.GBP
	}
	return money.DefaultCurrency
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isNumberByte(b byte) bool {
	return isDigit(b) || b == '.' || b == ','
}
