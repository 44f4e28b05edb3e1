package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectConfig(t *testing.T) {
	tests := []struct {
		name          string
		data          string
		wantDelimiter rune
		wantSkip      int
		wantHeaders   []string
	}{
		{
			name:          "comma with quoted amounts",
			data:          "Datum,Verwendungszweck,Betrag\n01.01.2025,Spotify,\"9,99\"\n",
			wantDelimiter: ',',
			wantSkip:      0,
			wantHeaders:   []string{"Datum", "Verwendungszweck", "Betrag"},
		},
		{
			name: "semicolon with metadata preamble",
			data: "Kontonummer;DE12 3456\nZeitraum;01.01.2025 - 31.03.2025\n\n" +
				"Buchungstag;Valutadatum;Verwendungszweck;Betrag;Währung\n02.01.2025;02.01.2025;Netflix;-12,99;EUR\n",
			wantDelimiter: ';',
			wantSkip:      3,
			wantHeaders:   []string{"Buchungstag", "Valutadatum", "Verwendungszweck", "Betrag", "Währung"},
		},
		{
			name:          "bom and tabs",
			data:          "\uFEFFDate\tDescription\tAmount\r\n2025-01-01\tNetflix\t12.99\r\n",
			wantDelimiter: '\t',
			wantSkip:      0,
			wantHeaders:   []string{"Date", "Description", "Amount"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := DetectConfig([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelimiter, cfg.Delimiter)
			assert.Equal(t, tt.wantSkip, cfg.SkipLines)
			assert.Equal(t, tt.wantHeaders, cfg.Headers)
			assert.Len(t, cfg.Fingerprint, 64)
		})
	}
}

func TestDetectConfigErrors(t *testing.T) {
	_, err := DetectConfig(nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = DetectConfig([]byte("   \n  "))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = DetectConfig([]byte("just one line of prose\n"))
	assert.ErrorIs(t, err, ErrNoHeadersFound)

	_, err = DetectConfigWithOptions([]byte("a;b\n"), &DetectOptions{HeaderRowIndex: 5})
	assert.ErrorIs(t, err, ErrNoHeadersFound)
}

func TestDetectConfigWithOptions(t *testing.T) {
	data := []byte("foo|bar|baz\n1|2|3\n")
	cfg, err := DetectConfigWithOptions(data, &DetectOptions{HeaderRowIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, '|', cfg.Delimiter)
	assert.Equal(t, []string{"foo", "bar", "baz"}, cfg.Headers)
}

func TestFingerprintIgnoresCaseAndPunctuation(t *testing.T) {
	a := generateFingerprint([]string{"Buchungstag", "Betrag (EUR)"})
	b := generateFingerprint([]string{" buchungstag", "betrag eur"})
	assert.Equal(t, a, b)
}

func TestDetectColumns(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    ColumnMapping
	}{
		{
			name:    "german bank export",
			headers: []string{"Datum", "Verwendungszweck", "Betrag"},
			want:    ColumnMapping{Date: "Datum", Description: "Verwendungszweck", Amount: "Betrag"},
		},
		{
			name:    "english with currency",
			headers: []string{"DATE", "Description", "AMOUNT", "Currency"},
			want:    ColumnMapping{Date: "DATE", Description: "Description", Amount: "AMOUNT", Currency: "Currency"},
		},
		{
			name:    "paypal german export",
			headers: []string{"Datum", "Uhrzeit", "Zeitzone", "Name", "Typ", "Status", "Währung", "Brutto", "Gebühr", "Netto"},
			want:    ColumnMapping{Date: "Datum", Description: "Name", Amount: "Brutto", Currency: "Währung"},
		},
		{
			name:    "synonym priority beats column order",
			headers: []string{"Valutadatum", "Buchungstag", "Buchungstext", "Verwendungszweck", "Betrag"},
			want:    ColumnMapping{Date: "Buchungstag", Description: "Verwendungszweck", Amount: "Betrag"},
		},
		{
			name:    "whole field only",
			headers: []string{"Transaction Date Local", "Amount Due"},
			want:    ColumnMapping{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectColumns(tt.headers))
		})
	}
}

func TestColumnMapping(t *testing.T) {
	m := DetectColumns([]string{"Datum", "Text"})
	assert.Equal(t, []string{FieldAmount}, m.Missing())
	assert.False(t, m.Complete())

	m = m.Merge(ColumnMapping{Amount: "Soll"})
	assert.True(t, m.Complete())
	assert.Equal(t, "Text", m.Description)
	assert.Equal(t, "Soll", m.Amount)
}
