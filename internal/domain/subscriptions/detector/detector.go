// Package detector finds recurring charges in a list of transactions and
// proposes subscription candidates. Detection is pure: no I/O, no shared
// state, deterministic for a given input and catalog.
package detector

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/normalizer"
	"github.com/FACorreiaa/subscription-tracker/pkg/money"
)

// Defaults for Options.
const (
	DefaultAmountTolerance = 0.10
	DefaultMinConfidence   = 40
	DefaultMinGroupSize    = 2
)

// Notice periods in days: providers publishing terms get the longer one.
const (
	DefaultNoticePeriodDays  = 14
	ProviderNoticePeriodDays = 30
)

const (
	priceChangeReason       = "Existing subscription - price change detected"
	transactionsDetectedFmt = "%d transactions detected"

	paymentMethodPayPal      = "PayPal"
	paymentMethodDirectDebit = "SEPA Direct Debit"
	paymentMethodCard        = "Card"

	hoursPerDay = 24
)

// Action tells the caller what to do with a candidate.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Options are the tunable thresholds.
type Options struct {
	// AmountTolerance rejects a group when the min-max spread of its
	// amounts reaches this fraction of the mean.
	AmountTolerance float64
	// MinConfidence discards candidates scoring below it.
	MinConfidence int
	// MinGroupSize is the fewest charges that can form a series.
	MinGroupSize int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		AmountTolerance: DefaultAmountTolerance,
		MinConfidence:   DefaultMinConfidence,
		MinGroupSize:    DefaultMinGroupSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AmountTolerance <= 0 {
		o.AmountTolerance = d.AmountTolerance
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = d.MinConfidence
	}
	if o.MinGroupSize < d.MinGroupSize {
		o.MinGroupSize = d.MinGroupSize
	}
	return o
}

// ExistingSubscription is the subset of a tracked subscription needed for
// reconciliation.
type ExistingSubscription struct {
	ID         string
	Name       string
	ProviderID string
}

// Candidate is a proposed subscription. It is never persisted by this package.
type Candidate struct {
	Name               string                 `json:"name"`
	MerchantKey        string                 `json:"merchant_key"`
	Price              decimal.Decimal        `json:"price"`
	LatestAmount       decimal.Decimal        `json:"latest_amount"`
	Currency           string                 `json:"currency"`
	Interval           Interval               `json:"interval"`
	IntervalDays       int                    `json:"interval_days"`
	Category           string                 `json:"category"`
	ProviderID         string                 `json:"provider_id,omitempty"`
	StartDate          string                 `json:"start_date"`
	NextPaymentDate    string                 `json:"next_payment_date"`
	PaymentMethod      string                 `json:"payment_method,omitempty"`
	NoticePeriodDays   int                    `json:"notice_period_days"`
	Confidence         int                    `json:"confidence"`
	Reason             string                 `json:"reason"`
	Action             Action                 `json:"action"`
	ExistingID         string                 `json:"existing_id,omitempty"`
	SourceTransactions []model.RawTransaction `json:"source_transactions"`
}

// Result is the outcome of one detection run. Zero candidates is a valid result.
type Result struct {
	Candidates           []Candidate `json:"candidates"`
	TransactionsAnalyzed int         `json:"transactions_analyzed"`
	GroupsConsidered     int         `json:"groups_considered"`
	GroupsRejected       int         `json:"groups_rejected"`
}

// Detector groups transactions and scores recurring series.
type Detector struct {
	catalog    *catalog.Catalog
	normalizer *normalizer.Normalizer
	opts       Options
}

// New creates a Detector bound to a provider catalog.
func New(cat *catalog.Catalog, opts Options) *Detector {
	return &Detector{
		catalog:    cat,
		normalizer: normalizer.New(cat),
		opts:       opts.withDefaults(),
	}
}

// Detect runs the detector with default options.
func Detect(txs []model.RawTransaction, existing []ExistingSubscription, cat *catalog.Catalog) *Result {
	return New(cat, DefaultOptions()).Detect(txs, existing)
}

type dated struct {
	tx   model.RawTransaction
	date time.Time
}

type group struct {
	key     string
	members []dated
}

// Detect returns candidates ranked by confidence, highest first.
func (d *Detector) Detect(txs []model.RawTransaction, existing []ExistingSubscription) *Result {
	result := &Result{
		Candidates:           []Candidate{},
		TransactionsAnalyzed: len(txs),
	}

	for _, g := range d.group(txs) {
		if len(g.members) < d.opts.MinGroupSize {
			continue
		}
		result.GroupsConsidered++

		c, ok := d.evaluate(g)
		if !ok {
			result.GroupsRejected++
			continue
		}
		d.reconcile(&c, existing)
		result.Candidates = append(result.Candidates, c)
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Confidence > result.Candidates[j].Confidence
	})
	return result
}

// group buckets transactions by merchant key in order of first appearance.
// Transactions with malformed dates or empty keys are dropped.
func (d *Detector) group(txs []model.RawTransaction) []*group {
	index := make(map[string]*group)
	var ordered []*group

	for _, tx := range txs {
		date, ok := tx.Time()
		if !ok {
			continue
		}
		key := d.normalizer.Key(tx.Description)
		if key == "" {
			continue
		}
		g, exists := index[key]
		if !exists {
			g = &group{key: key}
			index[key] = g
			ordered = append(ordered, g)
		}
		g.members = append(g.members, dated{tx: tx, date: date})
	}

	for _, g := range ordered {
		sort.SliceStable(g.members, func(i, j int) bool {
			return g.members[i].date.Before(g.members[j].date)
		})
	}
	return ordered
}

func (d *Detector) evaluate(g *group) (Candidate, bool) {
	n := len(g.members)

	amounts := make([]float64, n)
	sum := decimal.Zero
	for i, m := range g.members {
		amounts[i] = m.tx.Amount.InexactFloat64()
		sum = sum.Add(m.tx.Amount)
	}
	avgAmount, _ := meanAndStdDev(amounts)
	minAmount, maxAmount := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		minAmount = min(minAmount, a)
		maxAmount = max(maxAmount, a)
	}
	if avgAmount <= 0 || (maxAmount-minAmount)/avgAmount >= d.opts.AmountTolerance {
		return Candidate{}, false
	}

	gaps := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		gaps = append(gaps, g.members[i].date.Sub(g.members[i-1].date).Hours()/hoursPerDay)
	}
	avgGap, stdDev := meanAndStdDev(gaps)

	interval, matched := ClassifyInterval(avgGap)
	ic := IntervalConfidence(stdDev, avgGap)
	if !matched {
		ic /= 2
	}
	confidence := Confidence(ic, AmountConsistency(minAmount, maxAmount, avgAmount), TransactionFrequency(n))
	if confidence < d.opts.MinConfidence {
		return Candidate{}, false
	}

	first, last := g.members[0], g.members[n-1]
	stepDays := int(math.Round(avgGap))

	c := Candidate{
		Name:               g.key,
		MerchantKey:        g.key,
		Price:              sum.Div(decimal.NewFromInt(int64(n))).Round(2),
		LatestAmount:       last.tx.Amount,
		Currency:           dominantCurrency(g.members),
		Interval:           interval,
		IntervalDays:       stepDays,
		Category:           catalog.DefaultCategory,
		StartDate:          first.date.Format(model.DateLayout),
		NextPaymentDate:    last.date.AddDate(0, 0, stepDays).Format(model.DateLayout),
		PaymentMethod:      inferPaymentMethod(g.members),
		NoticePeriodDays:   DefaultNoticePeriodDays,
		Confidence:         confidence,
		Reason:             fmt.Sprintf(transactionsDetectedFmt, n),
		Action:             ActionCreate,
		SourceTransactions: make([]model.RawTransaction, 0, n),
	}
	for _, m := range g.members {
		c.SourceTransactions = append(c.SourceTransactions, m.tx)
	}

	if p, ok := d.catalog.MatchIn(g.key); ok {
		c.Name = p.Name
		c.ProviderID = p.ID
		c.Category = p.Category
		if p.HasNoticeInfo() {
			c.NoticePeriodDays = ProviderNoticePeriodDays
		}
	}
	return c, true
}

// reconcile marks c as an update of the first existing subscription with
// the same merchant key or provider.
func (d *Detector) reconcile(c *Candidate, existing []ExistingSubscription) {
	for _, e := range existing {
		sameKey := strings.EqualFold(d.normalizer.Key(e.Name), c.MerchantKey)
		sameProvider := e.ProviderID != "" && c.ProviderID != "" && e.ProviderID == c.ProviderID
		if !sameKey && !sameProvider {
			continue
		}
		c.Action = ActionUpdate
		c.ExistingID = e.ID
		c.Reason = priceChangeReason
		return
	}
}

func dominantCurrency(members []dated) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, m := range members {
		code := money.NormalizeCurrency(m.tx.Currency)
		counts[code]++
		if counts[code] > bestCount {
			best, bestCount = code, counts[code]
		}
	}
	return best
}

func inferPaymentMethod(members []dated) string {
	var text strings.Builder
	for _, m := range members {
		text.WriteString(strings.ToLower(m.tx.Description))
		text.WriteByte(' ')
	}
	all := text.String()

	switch {
	case strings.Contains(all, "paypal"):
		return paymentMethodPayPal
	case strings.Contains(all, "lastschrift"), strings.Contains(all, "sepa"), strings.Contains(all, "direct debit"):
		return paymentMethodDirectDebit
	case strings.Contains(all, "kartenzahlung"), strings.Contains(all, "visa"), strings.Contains(all, "mastercard"), strings.Contains(all, "card"):
		return paymentMethodCard
	}
	return ""
}
