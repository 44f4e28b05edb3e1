package sniffer

import "strings"

// Field names used in ColumnMapping.Missing.
const (
	FieldDate        = "date"
	FieldDescription = "description"
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
)

// Synonyms are matched case-insensitively against the whole header cell.
// Within a field, earlier synonyms take priority over later ones.
var (
	dateSynonyms = []string{
		"date", "datum", "buchungstag", "buchungsdatum", "transaction date", "booking date",
		"posting date", "belegdatum", "valutadatum", "wertstellung", "valuta", "value date",
	}
	descriptionSynonyms = []string{
		"description", "verwendungszweck", "beschreibung", "merchant", "payee", "name",
		"empfänger", "empfaenger", "zahlungsempfänger", "beguenstigter/zahlungspflichtiger",
		"begünstigter/zahlungspflichtiger", "auftraggeber/empfänger", "details", "memo",
		"text", "buchungstext", "vorgang",
	}
	amountSynonyms = []string{
		"amount", "betrag", "betrag (eur)", "betrag (€)", "amount (eur)", "umsatz",
		"gross", "brutto", "value", "wert",
	}
	currencySynonyms = []string{
		"currency", "währung", "waehrung", "whg", "whrg", "curr",
	}
)

// ColumnMapping names the header holding each field. Empty means unmatched.
type ColumnMapping struct {
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// Missing lists the required fields without a column. Currency is optional.
func (m ColumnMapping) Missing() []string {
	var missing []string
	if m.Date == "" {
		missing = append(missing, FieldDate)
	}
	if m.Description == "" {
		missing = append(missing, FieldDescription)
	}
	if m.Amount == "" {
		missing = append(missing, FieldAmount)
	}
	return missing
}

// Complete reports whether every required field has a column.
func (m ColumnMapping) Complete() bool {
	return len(m.Missing()) == 0
}

// Merge returns m with every non-empty field of override applied.
func (m ColumnMapping) Merge(override ColumnMapping) ColumnMapping {
	if override.Date != "" {
		m.Date = override.Date
	}
	if override.Description != "" {
		m.Description = override.Description
	}
	if override.Amount != "" {
		m.Amount = override.Amount
	}
	if override.Currency != "" {
		m.Currency = override.Currency
	}
	return m
}

// DetectColumns maps headers to fields by synonym.
func DetectColumns(headers []string) ColumnMapping {
	index := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(strings.Trim(h, `"`)))
		if _, seen := index[key]; !seen {
			index[key] = h
		}
	}

	return ColumnMapping{
		Date:        firstMatch(index, dateSynonyms),
		Description: firstMatch(index, descriptionSynonyms),
		Amount:      firstMatch(index, amountSynonyms),
		Currency:    firstMatch(index, currencySynonyms),
	}
}

func firstMatch(index map[string]string, synonyms []string) string {
	for _, s := range synonyms {
		if h, ok := index[s]; ok {
			return h
		}
	}
	return ""
}
