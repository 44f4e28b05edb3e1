// Package e2etest provides end-to-end integration tests for import flows.
package e2etest

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/catalog"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/extract"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/normalizer"
	importservice "github.com/FACorreiaa/subscription-tracker/internal/domain/import/service"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/detector"
	"github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/repository"
	subscriptionsservice "github.com/FACorreiaa/subscription-tracker/internal/domain/subscriptions/service"
	"github.com/FACorreiaa/subscription-tracker/pkg/db"
	"github.com/FACorreiaa/subscription-tracker/pkg/logger"
)

// dsnEnv names a disposable PostgreSQL database for TestPostgresFlow.
const dsnEnv = "SUBTRACK_TEST_DSN"

const germanStatement = "Kontoumsätze Girokonto DE12 3456 7890\n" +
	"\n" +
	"Datum,Verwendungszweck,Betrag\n" +
	"01.01.2025,Spotify AB,\"-9,99\"\n" +
	"03.01.2025,REWE Markt GmbH,\"-54,20\"\n" +
	"01.02.2025,Spotify AB,\"-9,99\"\n" +
	"14.02.2025,Bäckerei Lindner,\"-3,80\"\n" +
	"01.03.2025,Spotify AB,\"-9,99\"\n"

type memoryRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*repository.Subscription
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{subs: make(map[uuid.UUID]*repository.Subscription)}
}

func (m *memoryRepo) Create(ctx context.Context, sub *repository.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = uuid.New()
	m.subs[sub.ID] = sub
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.UserID != userID {
		return nil, sql.ErrNoRows
	}
	return sub, nil
}

func (m *memoryRepo) Update(ctx context.Context, sub *repository.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *memoryRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *memoryRepo) ListByUserID(ctx context.Context, userID uuid.UUID, statusFilter *repository.Status, includeCanceled bool) ([]*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Subscription
	for _, sub := range m.subs {
		if sub.UserID == userID && (statusFilter == nil || sub.Status == *statusFilter) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListDue(ctx context.Context, before time.Time) ([]*repository.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Subscription
	for _, sub := range m.subs {
		if sub.Status == repository.StatusActive && sub.NextPaymentDate.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, userID, id uuid.UUID, status repository.Status) error {
	sub, err := m.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	sub.Status = status
	return nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(repo repository.SubscriptionRepository) error) error {
	m.mu.Lock()
	snapshot := make(map[uuid.UUID]*repository.Subscription, len(m.subs))
	for id, sub := range m.subs {
		cp := *sub
		snapshot[id] = &cp
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.subs = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func newServices(t *testing.T, repo repository.SubscriptionRepository) (*importservice.ImportService, *subscriptionsservice.Service) {
	t.Helper()
	cat, err := catalog.Builtin()
	require.NoError(t, err)

	log := logger.Discard()
	subs := subscriptionsservice.NewService(repo, cat, log)
	imports := importservice.NewImportService(extract.NewPDFExtractor(), subs, cat, nil, importservice.Config{}, log)
	return imports, subs
}

// TestStatementToSubscriptions previews a German bank export, applies the
// candidate, and re-imports the same statement to get an update proposal.
func TestStatementToSubscriptions(t *testing.T) {
	ctx := context.Background()
	imports, subs := newServices(t, newMemoryRepo())
	userID := uuid.New()

	preview, err := imports.Preview(ctx, importservice.PreviewRequest{
		UserID:   userID,
		Filename: "umsaetze.csv",
		Data:     []byte(germanStatement),
	})
	require.NoError(t, err)

	assert.Equal(t, importservice.OutcomeCandidatesFound, preview.Outcome)
	assert.Len(t, preview.Transactions, 5)
	require.Len(t, preview.Candidates, 1)

	spotify := preview.Candidates[0]
	assert.Equal(t, "Spotify", spotify.Name)
	assert.Equal(t, "Music", spotify.Category)
	assert.Equal(t, detector.IntervalMonthly, spotify.Interval)
	assert.True(t, decimal.RequireFromString("9.99").Equal(spotify.Price))
	assert.GreaterOrEqual(t, spotify.Confidence, 80)
	assert.Equal(t, detector.ActionCreate, spotify.Action)

	applied, err := subs.ApplyCandidates(ctx, userID, preview.Candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, applied.Created)

	tracked, err := subs.ListSubscriptions(ctx, userID, nil, false)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, int64(999), tracked[0].AmountMinor)
	assert.Equal(t, repository.SourceImport, tracked[0].Source)
	require.NotNil(t, tracked[0].ProviderID)
	assert.Equal(t, "spotify", *tracked[0].ProviderID)

	again, err := imports.Preview(ctx, importservice.PreviewRequest{UserID: userID, Filename: "umsaetze.csv", Data: []byte(germanStatement)})
	require.NoError(t, err)
	require.Len(t, again.Candidates, 1)
	assert.Equal(t, detector.ActionUpdate, again.Candidates[0].Action)
	assert.Equal(t, tracked[0].ID.String(), again.Candidates[0].ExistingID)

	applied, err = subs.ApplyCandidates(ctx, userID, again.Candidates)
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Created)
	assert.Equal(t, 1, applied.Updated)

	// A past next payment date is rolled forward to today or later.
	updated, err := subs.RollForwardDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	totals, count, err := subs.GetTotalMonthlyCost(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(999), totals["EUR"].Amount())
}

// TestPostgresFlow runs the same flow against a real database.
func TestPostgresFlow(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set (point it at a disposable PostgreSQL database to run this test)", dsnEnv)
	}

	database, err := db.New(db.Config{DSN: dsn}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(database.Close)
	require.NoError(t, database.RunMigrations())

	ctx := context.Background()
	imports, subs := newServices(t, repository.NewPostgresSubscriptionRepository(database.Pool))
	overrides := normalizer.NewOverrideStore(database.Pool)
	imports.WithOverrides(overrides)
	userID := uuid.New()

	category := "Entertainment"
	saved, err := overrides.SaveOverride(ctx, normalizer.MerchantOverride{
		UserID:       userID,
		MatchPattern: "spotify ab",
		MatchType:    normalizer.MatchExact,
		MerchantName: "Spotify",
		Category:     &category,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = overrides.DeleteOverride(context.Background(), userID, saved.ID) })

	preview, err := imports.Preview(ctx, importservice.PreviewRequest{UserID: userID, Filename: "umsaetze.csv", Data: []byte(germanStatement)})
	require.NoError(t, err)
	require.Len(t, preview.Candidates, 1)
	assert.Equal(t, "Entertainment", preview.Candidates[0].Category)

	stored, err := overrides.GetOverridesForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].MatchCount)

	_, err = subs.ApplyCandidates(ctx, userID, preview.Candidates)
	require.NoError(t, err)

	tracked, err := subs.ListSubscriptions(ctx, userID, nil, false)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "Spotify", tracked[0].Name)
	assert.Equal(t, int64(999), tracked[0].AmountMinor)

	require.NoError(t, subs.DeleteSubscription(ctx, userID, tracked[0].ID))
}
