package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
)

// twoDigitYearPivot: two-digit years at or above it are 19xx, below it 20xx.
const twoDigitYearPivot = 50

// DateRule recognises one date notation. Build returns false for matches
// that are not real calendar dates (e.g. 31.02.2025).
type DateRule struct {
	Name    string
	Pattern *regexp.Regexp
	Build   func(m []string) (time.Time, bool)
}

var germanMonths = map[string]time.Month{
	"januar": time.January, "jänner": time.January, "jan": time.January,
	"februar": time.February, "feb": time.February,
	"märz": time.March, "maerz": time.March, "mär": time.March, "mrz": time.March,
	"april": time.April, "apr": time.April,
	"mai":  time.May,
	"juni": time.June, "jun": time.June,
	"juli": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November,
	"dezember": time.December, "dez": time.December,
}

var englishMonths = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// DateRules are tried in order; the first rule producing a valid date wins.
var DateRules = []DateRule{
	{
		Name: "german-long",
		Pattern: regexp.MustCompile(`(?i)\b(\d{1,2})\.?\s+` +
			`(januar|jänner|februar|märz|maerz|april|mai|juni|juli|august|september|oktober|november|dezember|` +
			`jan|feb|mär|mrz|apr|jun|jul|aug|sept|sep|okt|nov|dez)\.?\s+(\d{4})\b`),
		Build: monthNameBuilder(germanMonths),
	},
	{
		Name: "english-long",
		Pattern: regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\.?\s+` +
			`(january|february|march|april|may|june|july|august|september|october|november|december|` +
			`jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?,?\s+(\d{4})\b`),
		Build: monthNameBuilder(englishMonths),
	},
	{
		Name:    "numeric-dmy",
		Pattern: regexp.MustCompile(`\b(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})\b`),
		Build: func(m []string) (time.Time, bool) {
			return buildDate(expandYear(m[3]), atoi(m[2]), atoi(m[1]))
		},
	},
	{
		Name:    "iso",
		// An optional time of day, as in 2025-01-15T10:00:00Z, is dropped.
		Pattern: regexp.MustCompile(`\b(\d{4})[./-](\d{1,2})[./-](\d{1,2})` +
			`(?:T\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`),
		Build: func(m []string) (time.Time, bool) {
			return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
		},
	},
}

// FindDate returns the first date found in line, normalized to YYYY-MM-DD.
func FindDate(line string) (string, bool) {
	for _, rule := range DateRules {
		for _, m := range rule.Pattern.FindAllStringSubmatch(line, -1) {
			if d, ok := rule.Build(m); ok {
				return d.Format(model.DateLayout), true
			}
		}
	}
	return "", false
}

// ParseDate normalizes a single date cell.
func ParseDate(cell string) (string, bool) {
	return FindDate(strings.TrimSpace(cell))
}

// StripDates removes every date-shaped substring from line.
func StripDates(line string) string {
	for _, rule := range DateRules {
		line = rule.Pattern.ReplaceAllString(line, " ")
	}
	return line
}

func monthNameBuilder(months map[string]time.Month) func(m []string) (time.Time, bool) {
	return func(m []string) (time.Time, bool) {
		month, ok := months[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		return buildDate(atoi(m[3]), int(month), atoi(m[1]))
	}
}

func expandYear(s string) int {
	y := atoi(s)
	if len(s) != 2 {
		return y
	}
	if y >= twoDigitYearPivot {
		return 1900 + y
	}
	return 2000 + y
}

func buildDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
