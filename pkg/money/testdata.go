package money

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
)

// TestDataGenerator produces statement rows for tests: regular recurring
// series plus one-off noise purchases.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a random seed.
func NewTestDataGenerator() *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(0)}
}

// NewTestDataGeneratorWithSeed creates a generator with a fixed seed for reproducibility.
func NewTestDataGeneratorWithSeed(seed int64) *TestDataGenerator {
	return &TestDataGenerator{faker: gofakeit.New(seed)}
}

// TestCharge is a generated statement row.
type TestCharge struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Currency    string
}

// RecurringSeries generates count charges of the same amount, everyDays apart,
// each with a unique reference number appended to the merchant text.
func (g *TestDataGenerator) RecurringSeries(merchant string, amount decimal.Decimal, start time.Time, everyDays, count int) []TestCharge {
	charges := make([]TestCharge, 0, count)
	for i := 0; i < count; i++ {
		charges = append(charges, TestCharge{
			Date:        start.AddDate(0, 0, i*everyDays),
			Description: fmt.Sprintf("%s %d", merchant, g.faker.Number(100000, 999999)),
			Amount:      amount,
			Currency:    EUR,
		})
	}
	return charges
}

// NoiseCharges generates one-off purchases at distinct random merchants.
func (g *TestDataGenerator) NoiseCharges(start time.Time, count int) []TestCharge {
	charges := make([]TestCharge, 0, count)
	seen := make(map[string]struct{}, count)
	for len(charges) < count {
		company := strings.ToLower(g.faker.Company())
		if _, dup := seen[company]; dup {
			continue
		}
		seen[company] = struct{}{}
		charges = append(charges, TestCharge{
			Date:        start.AddDate(0, 0, g.faker.Number(0, 180)),
			Description: company,
			Amount:      decimal.NewFromFloat(g.faker.Price(1, 300)).Round(2),
			Currency:    EUR,
		})
	}
	return charges
}

// GermanCSV renders charges as a semicolon separated export with German
// headers, dates and decimal commas.
func GermanCSV(charges []TestCharge) []byte {
	var b strings.Builder
	b.WriteString("Buchungstag;Verwendungszweck;Betrag;Währung\n")
	for _, c := range charges {
		fmt.Fprintf(&b, "%s;%s;-%s;%s\n",
			c.Date.Format("02.01.2006"),
			c.Description,
			strings.Replace(c.Amount.StringFixed(2), ".", ",", 1),
			c.Currency,
		)
	}
	return []byte(b.String())
}
