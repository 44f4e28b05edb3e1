// Package sniffer detects the layout of bank and PayPal CSV exports: the
// delimiter, the header row (exports often start with account metadata), and
// which header holds the date, description, amount and currency.
package sniffer

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"strings"
	"unicode"
)

// maxHeaderSearchLines bounds how far into the file the header row is searched.
const maxHeaderSearchLines = 20

// headerKeywords identify the header row; they are substrings, not synonyms.
var headerKeywords = []string{
	// German
	"datum", "buchungstag", "verwendungszweck", "betrag", "umsatz", "währung", "beschreibung",
	"empfänger", "auftraggeber", "buchungstext", "brutto",
	// English
	"date", "description", "amount", "currency", "merchant", "payee", "gross", "details",
}

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrNoHeadersFound   = errors.New("could not find data headers")
	ErrInvalidDelimiter = errors.New("could not detect valid delimiter")
)

// FileConfig is the detected layout of a delimited export.
type FileConfig struct {
	Delimiter   rune     // ';', ',', '\t' or '|'
	SkipLines   int      // metadata lines before the header row
	Headers     []string // trimmed header names
	Fingerprint string   // sha256 of normalized headers, identifies the bank layout
}

// DetectOptions overrides header row or delimiter detection.
type DetectOptions struct {
	// HeaderRowIndex is the 0-based header line. -1 auto-detects.
	HeaderRowIndex int
	// Delimiter overrides the detected delimiter when non-zero.
	Delimiter rune
}

// DetectConfig analyzes a delimited export.
func DetectConfig(data []byte) (*FileConfig, error) {
	return DetectConfigWithOptions(data, nil)
}

// DetectConfigWithOptions analyzes a delimited export with optional overrides.
func DetectConfigWithOptions(data []byte, opts *DetectOptions) (*FileConfig, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyFile
	}

	lines := strings.Split(string(data), "\n")

	var (
		delimiter rune
		skipLines int
		err       error
	)
	if opts != nil && opts.HeaderRowIndex >= 0 {
		if opts.HeaderRowIndex >= len(lines) {
			return nil, ErrNoHeadersFound
		}
		skipLines = opts.HeaderRowIndex
		delimiter = opts.Delimiter
		if delimiter == 0 {
			delimiter, _ = detectDelimiter(cleanLine(lines[skipLines], skipLines == 0))
		}
		if delimiter == 0 {
			return nil, ErrInvalidDelimiter
		}
	} else {
		delimiter, skipLines, err = findHeaderRow(lines)
		if err != nil {
			return nil, err
		}
		if opts != nil && opts.Delimiter != 0 {
			delimiter = opts.Delimiter
		}
	}

	reader := csv.NewReader(strings.NewReader(cleanLine(lines[skipLines], skipLines == 0)))
	reader.Comma = delimiter
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	for i, h := range headers {
		headers[i] = strings.TrimSpace(h)
	}

	return &FileConfig{
		Delimiter:   delimiter,
		SkipLines:   skipLines,
		Headers:     headers,
		Fingerprint: generateFingerprint(headers),
	}, nil
}

// findHeaderRow picks the line that looks most like a header: keyword lines
// win over plain lines, and among them the one with more columns.
func findHeaderRow(lines []string) (rune, int, error) {
	keywordIndex, keywordDelimiter, keywordCols, keywordScore := -1, rune(0), 0, 0
	fallbackIndex, fallbackDelimiter, fallbackCols := -1, rune(0), 0

	for i, line := range lines {
		if i > maxHeaderSearchLines {
			break
		}
		line = cleanLine(line, i == 0)
		if line == "" {
			continue
		}

		delimiter, count := detectDelimiter(line)
		if count < 1 {
			continue
		}

		lower := strings.ToLower(line)
		matches := 0
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				matches++
			}
		}

		if matches > 0 {
			score := count*10 + matches
			if keywordIndex == -1 || score > keywordScore {
				keywordIndex, keywordDelimiter, keywordCols, keywordScore = i, delimiter, count, score
			}
			continue
		}
		if count > fallbackCols {
			fallbackIndex, fallbackDelimiter, fallbackCols = i, delimiter, count
		}
	}

	if keywordIndex >= 0 && keywordCols >= 1 {
		return keywordDelimiter, keywordIndex, nil
	}
	if fallbackIndex >= 0 && fallbackCols >= 2 {
		return fallbackDelimiter, fallbackIndex, nil
	}
	return 0, 0, ErrNoHeadersFound
}

func cleanLine(line string, firstLine bool) string {
	line = strings.TrimRight(line, "\r")
	if firstLine {
		line = strings.TrimPrefix(line, "\uFEFF")
	}
	return strings.TrimSpace(line)
}

// detectDelimiter returns the delimiter occurring most often outside quotes.
func detectDelimiter(line string) (rune, int) {
	unquoted := stripQuoted(line)
	best, bestCount := rune(0), 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		if count := strings.Count(unquoted, string(d)); count > bestCount {
			best, bestCount = d, count
		}
	}
	return best, bestCount
}

func stripQuoted(line string) string {
	var b strings.Builder
	inQuotes := false
	for _, r := range line {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func generateFingerprint(headers []string) string {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}
	hash := sha256.Sum256([]byte(strings.Join(normalized, "|")))
	return hex.EncodeToString(hash[:])
}
