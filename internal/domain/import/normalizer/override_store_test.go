package normalizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
)

var overrideRowColumns = []string{
	"id", "user_id", "match_pattern", "match_type", "merchant_name", "category",
	"match_count", "last_matched_at", "created_at", "updated_at",
}

func TestMerchantOverride_Matches(t *testing.T) {
	tests := []struct {
		name        string
		override    MerchantOverride
		description string
		want        bool
	}{
		{"exact ignores case", MerchantOverride{MatchPattern: "ZH HOSTING", MatchType: MatchExact}, "zh hosting", true},
		{"exact trims", MerchantOverride{MatchPattern: "ZH HOSTING", MatchType: MatchExact}, "  ZH HOSTING ", true},
		{"exact rejects partial", MerchantOverride{MatchPattern: "ZH", MatchType: MatchExact}, "ZH HOSTING", false},
		{"contains", MerchantOverride{MatchPattern: "pp*zorb", MatchType: MatchContains}, "PAYPAL PP*ZORB 4411", true},
		{"contains miss", MerchantOverride{MatchPattern: "zorb", MatchType: MatchContains}, "Spotify AB", false},
		{"regex", MerchantOverride{MatchPattern: `^lastschrift \d+ gym`, MatchType: MatchRegex}, "LASTSCHRIFT 8812 GYM BERLIN", true},
		{"regex miss", MerchantOverride{MatchPattern: `^gym`, MatchType: MatchRegex}, "LASTSCHRIFT GYM", false},
		{"broken regex", MerchantOverride{MatchPattern: `gym(`, MatchType: MatchRegex}, "gym(", false},
		{"unknown type", MerchantOverride{MatchPattern: "gym", MatchType: "fuzzy"}, "gym", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.override.Matches(tt.description))

			tt.override.MerchantName = "Renamed"
			applied := ApplyOverrides([]MerchantOverride{tt.override}, []model.RawTransaction{{Description: tt.description}})
			assert.Equal(t, tt.want, applied.Transactions[0].Description == "Renamed", "batch matching agrees with Matches")
		})
	}
}

func TestMerchantOverride_Validate(t *testing.T) {
	tests := []struct {
		name     string
		override MerchantOverride
		wantErr  bool
	}{
		{"valid contains", MerchantOverride{MatchPattern: "ZORB", MatchType: MatchContains, MerchantName: "Zorblax"}, false},
		{"valid regex", MerchantOverride{MatchPattern: `zorb\d+`, MatchType: MatchRegex, MerchantName: "Zorblax"}, false},
		{"blank pattern", MerchantOverride{MatchPattern: "  ", MatchType: MatchExact, MerchantName: "Zorblax"}, true},
		{"blank name", MerchantOverride{MatchPattern: "ZORB", MatchType: MatchExact}, true},
		{"bad regex", MerchantOverride{MatchPattern: `zorb(`, MatchType: MatchRegex, MerchantName: "Zorblax"}, true},
		{"unknown type", MerchantOverride{MatchPattern: "ZORB", MatchType: "prefix", MerchantName: "Zorblax"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.override.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOverride)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	first := MerchantOverride{ID: uuid.New(), MatchPattern: "CAFE", MatchType: MatchContains, MerchantName: "Generic Coffee"}
	second := MerchantOverride{ID: uuid.New(), MatchPattern: "STARBUCKS", MatchType: MatchContains, MerchantName: "Starbucks"}
	unused := MerchantOverride{ID: uuid.New(), MatchPattern: "GYM", MatchType: MatchExact, MerchantName: "Gym"}

	txs := []model.RawTransaction{
		{Date: "2025-01-01", Description: "STARBUCKS CAFE 12", Amount: decimal.NewFromInt(4)},
		{Date: "2025-01-02", Description: "STARBUCKS 881", Amount: decimal.NewFromInt(5)},
		{Date: "2025-01-03", Description: "REWE", Amount: decimal.NewFromInt(20)},
	}

	applied := ApplyOverrides([]MerchantOverride{first, second, unused}, txs)

	require.Len(t, applied.Transactions, 3)
	assert.Equal(t, "Generic Coffee", applied.Transactions[0].Description, "first matching override wins")
	assert.Equal(t, "Starbucks", applied.Transactions[1].Description)
	assert.Equal(t, "REWE", applied.Transactions[2].Description)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, applied.Matched)
	assert.Equal(t, []MerchantOverride{first, second}, applied.Used)

	assert.Equal(t, "STARBUCKS CAFE 12", txs[0].Description, "input is not modified")
}

func TestApplyOverrides_RegexBatch(t *testing.T) {
	gym := MerchantOverride{ID: uuid.New(), MatchPattern: `^lastschrift \d+ gym`, MatchType: MatchRegex, MerchantName: "Urban Gym"}
	broken := MerchantOverride{ID: uuid.New(), MatchPattern: `gym(`, MatchType: MatchRegex, MerchantName: "Broken"}

	txs := make([]model.RawTransaction, 0, 200)
	for i := 0; i < 100; i++ {
		txs = append(txs,
			model.RawTransaction{Description: fmt.Sprintf("LASTSCHRIFT %d GYM BERLIN", i)},
			model.RawTransaction{Description: fmt.Sprintf("KARTE %d gym(", i)},
		)
	}

	applied := ApplyOverrides([]MerchantOverride{broken, gym}, txs)

	require.Len(t, applied.Transactions, 200)
	for i, tx := range applied.Transactions {
		if i%2 == 0 {
			assert.Equal(t, "Urban Gym", tx.Description)
		} else {
			assert.Equal(t, txs[i].Description, tx.Description, "a broken regex never matches")
		}
	}
	assert.Equal(t, []uuid.UUID{gym.ID}, applied.Matched)
	assert.Equal(t, []MerchantOverride{gym}, applied.Used)
}

func TestApplyOverrides_UsedFollowsOverrideOrder(t *testing.T) {
	cafe := MerchantOverride{ID: uuid.New(), MatchPattern: "CAFE", MatchType: MatchContains, MerchantName: "Generic Coffee"}
	gym := MerchantOverride{ID: uuid.New(), MatchPattern: "GYM", MatchType: MatchContains, MerchantName: "Urban Gym"}

	txs := []model.RawTransaction{
		{Description: "URBAN GYM 01"},
		{Description: "CAFE 12"},
	}

	applied := ApplyOverrides([]MerchantOverride{cafe, gym}, txs)
	assert.Equal(t, []MerchantOverride{cafe, gym}, applied.Used, "stored order, not first transaction order")
	assert.Equal(t, []uuid.UUID{cafe.ID, gym.ID}, applied.Matched)
}

func TestApplyOverrides_None(t *testing.T) {
	txs := []model.RawTransaction{{Description: "Spotify AB"}}

	applied := ApplyOverrides(nil, txs)
	assert.Equal(t, txs, applied.Transactions)
	assert.Empty(t, applied.Matched)
}

func newOverrideMock(t *testing.T) (pgxmock.PgxPoolIface, *OverrideStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewOverrideStore(mock)
}

func TestOverrideStore_SaveOverride(t *testing.T) {
	mock, store := newOverrideMock(t)

	userID := uuid.New()
	overrideID := uuid.New()
	now := time.Now()
	category := "Cloud"

	mock.ExpectQuery(`INSERT INTO user_merchant_overrides`).
		WithArgs(pgxmock.AnyArg(), userID, "PP*ZORB", MatchContains, "Zorblax Hosting", &category).
		WillReturnRows(pgxmock.NewRows(overrideRowColumns).AddRow(
			overrideID, userID, "PP*ZORB", MatchContains, "Zorblax Hosting", &category, 0, nil, now, now,
		))

	saved, err := store.SaveOverride(context.Background(), MerchantOverride{
		UserID:       userID,
		MatchPattern: " PP*ZORB ",
		MatchType:    MatchContains,
		MerchantName: "Zorblax Hosting",
		Category:     &category,
	})
	require.NoError(t, err)
	assert.Equal(t, overrideID, saved.ID)
	assert.Equal(t, "Zorblax Hosting", saved.MerchantName)
	require.NotNil(t, saved.Category)
	assert.Equal(t, "Cloud", *saved.Category)
	assert.Nil(t, saved.LastMatchedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_SaveOverride_Invalid(t *testing.T) {
	mock, store := newOverrideMock(t)

	_, err := store.SaveOverride(context.Background(), MerchantOverride{UserID: uuid.New(), MatchType: MatchExact})
	assert.ErrorIs(t, err, ErrInvalidOverride)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_GetOverridesForUser(t *testing.T) {
	mock, store := newOverrideMock(t)

	userID := uuid.New()
	now := time.Now()
	category := "Fitness"

	mock.ExpectQuery(`SELECT id, user_id, match_pattern`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(overrideRowColumns).
			AddRow(uuid.New(), userID, "GYM", MatchContains, "Urban Gym", &category, 5, &now, now, now).
			AddRow(uuid.New(), userID, `^pp\*zorb`, MatchRegex, "Zorblax Hosting", nil, 3, &now, now, now))

	overrides, err := store.GetOverridesForUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, "Urban Gym", overrides[0].MerchantName)
	assert.Equal(t, 5, overrides[0].MatchCount)
	assert.Equal(t, MatchRegex, overrides[1].MatchType)
	assert.Nil(t, overrides[1].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_GetOverridesForUser_Empty(t *testing.T) {
	mock, store := newOverrideMock(t)
	userID := uuid.New()

	mock.ExpectQuery(`SELECT id, user_id, match_pattern`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(overrideRowColumns))

	overrides, err := store.GetOverridesForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.NotNil(t, overrides)
	assert.Empty(t, overrides)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_RecordMatches(t *testing.T) {
	mock, store := newOverrideMock(t)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec(`UPDATE user_merchant_overrides`).
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, store.RecordMatches(context.Background(), ids))
	require.NoError(t, store.RecordMatches(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_DeleteOverride(t *testing.T) {
	mock, store := newOverrideMock(t)
	userID := uuid.New()
	overrideID := uuid.New()

	mock.ExpectExec(`DELETE FROM user_merchant_overrides`).
		WithArgs(overrideID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteOverride(context.Background(), userID, overrideID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_DeleteOverride_NotFound(t *testing.T) {
	mock, store := newOverrideMock(t)
	userID := uuid.New()
	overrideID := uuid.New()

	mock.ExpectExec(`DELETE FROM user_merchant_overrides`).
		WithArgs(overrideID, userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := store.DeleteOverride(context.Background(), userID, overrideID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideStore_DeleteOverride_Error(t *testing.T) {
	mock, store := newOverrideMock(t)

	mock.ExpectExec(`DELETE FROM user_merchant_overrides`).
		WillReturnError(errors.New("connection reset"))

	err := store.DeleteOverride(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete merchant override")
	assert.NoError(t, mock.ExpectationsWereMet())
}
