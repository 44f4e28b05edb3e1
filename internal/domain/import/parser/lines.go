package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
)

// minDescriptionLength: descriptions this short or shorter are noise.
const minDescriptionLength = 2

var (
	// A line without its own description may borrow the payee from the
	// invoice header above it, or the summary line below it.
	previousLineHints = []string{"invoice", "rechnung", "bill", "from", "von"}
	nextLineHints     = []string{"total", "gesamt", "summe"}

	spaceRun = regexp.MustCompile(`\s+`)
)

// ExtractTransactions scans text extracted from a PDF statement and returns
// one transaction per line carrying both a date and an amount.
func ExtractTransactions(text string) []model.RawTransaction {
	lines := splitLines(text)
	txs := make([]model.RawTransaction, 0, len(lines)/2)

	for i, line := range lines {
		date, ok := FindDate(line)
		if !ok {
			continue
		}

		withoutDates := StripDates(line)
		amount, ok := FindAmount(withoutDates)
		if !ok {
			continue
		}

		description := cleanDescription(StripAmounts(withoutDates))
		if description == "" {
			description = borrowDescription(lines, i)
		}
		if utf8.RuneCountInString(description) <= minDescriptionLength {
			continue
		}

		txs = append(txs, model.RawTransaction{
			Date:        date,
			Description: description,
			Amount:      amount.Value,
			Currency:    amount.Currency,
			Source: model.Source{
				Kind: model.SourcePDF,
				Row:  i + 1,
				Line: line,
			},
		})
	}
	return txs
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func borrowDescription(lines []string, i int) string {
	if i > 0 && containsAny(lines[i-1], previousLineHints) {
		if d := cleanDescription(StripAmounts(StripDates(lines[i-1]))); d != "" {
			return d
		}
	}
	if i+1 < len(lines) && containsAny(lines[i+1], nextLineHints) {
		return cleanDescription(StripAmounts(StripDates(lines[i+1])))
	}
	return ""
}

func cleanDescription(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, " -–|:;,")
}

func containsAny(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
