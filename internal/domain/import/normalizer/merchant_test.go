package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Provider{
		{ID: "netflix", Name: "Netflix", Category: "Streaming"},
		{ID: "spotify", Name: "Spotify", Category: "Music"},
		{ID: "disney", Name: "Disney+", Category: "Streaming"},
	})
	require.NoError(t, err)
	return c
}

func TestNormalizer_Key(t *testing.T) {
	n := New(testCatalog(t))

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"provider with reference", "NETFLIX.COM 1234567", "netflix"},
		{"paypal prefix", "PAYPAL *SPOTIFY 9876543", "spotify"},
		{"sepa direct debit", "SEPA-Lastschrift Spotify AB", "spotify"},
		{"provider with symbol", "DISNEY+ MONTHLY", "disney+"},
		{"unknown merchant keeps three words", "Rewe Markt GmbH Berlin 4711", "rewe markt gmbh"},
		{"short tokens dropped", "DB Vertrieb AB Fernverkehr", "vertrieb fernverkehr"},
		{"card payment noise", "Kartenzahlung Fitnessstudio Sportpark", "fitnessstudio sportpark"},
		{"payment word", "Payment to Acme Hosting", "acme hosting"},
		{"short name fallback", "DM", "dm"},
		{"only noise", "SEPA-LASTSCHRIFT 123456", ""},
		{"three digit runs survive", "Microsoft 365 Family", "microsoft 365 family"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Key(tt.input))
		})
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	n := New(testCatalog(t))
	inputs := []string{
		"NETFLIX.COM 1234567",
		"Rewe Markt GmbH Berlin 4711",
		"PAYPAL *Some Shop Ltd",
		"DM",
		"Stadtwerke München Strom Abschlag",
	}

	for _, in := range inputs {
		once := n.Key(in)
		assert.Equal(t, once, n.Key(once), "input %q", in)
	}
}

func TestNormalizer_Provider(t *testing.T) {
	n := New(testCatalog(t))

	info := n.Normalize("Spotify P1A2B3 Stockholm")
	require.NotNil(t, info.Provider)
	assert.Equal(t, "spotify", info.Provider.ID)
	assert.Equal(t, "spotify", info.Key)

	info = n.Normalize("Bäckerei Schmidt")
	assert.Nil(t, info.Provider)
	assert.Equal(t, "bäckerei schmidt", info.Key)
}

func TestNormalizer_NilCatalog(t *testing.T) {
	assert.Equal(t, "netflix.com", Key("NETFLIX.COM 1234567", nil))
}
