package normalizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/subscription-tracker/internal/domain/import/model"
)

// MatchType controls how an override pattern is compared with a description.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// ErrInvalidOverride is returned for overrides that cannot be saved.
var ErrInvalidOverride = errors.New("invalid merchant override")

// MerchantOverride is a user's correction for a merchant: descriptions that
// match the pattern are treated as MerchantName before detection.
type MerchantOverride struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	MatchPattern  string     `json:"match_pattern"`
	MatchType     MatchType  `json:"match_type"`
	MerchantName  string     `json:"merchant_name"`
	Category      *string    `json:"category,omitempty"`
	MatchCount    int        `json:"match_count"`
	LastMatchedAt *time.Time `json:"last_matched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks the pattern, the match type and the merchant name.
func (o MerchantOverride) Validate() error {
	if strings.TrimSpace(o.MatchPattern) == "" {
		return fmt.Errorf("%w: match pattern is required", ErrInvalidOverride)
	}
	if strings.TrimSpace(o.MerchantName) == "" {
		return fmt.Errorf("%w: merchant name is required", ErrInvalidOverride)
	}
	switch o.MatchType {
	case MatchExact, MatchContains:
	case MatchRegex:
		if _, err := compilePattern(o.MatchPattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOverride, err)
		}
	default:
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidOverride, o.MatchType)
	}
	return nil
}

// Matches reports whether description is covered by the override. Comparison
// ignores case and surrounding whitespace. A broken regex never matches.
func (o MerchantOverride) Matches(description string) bool {
	return o.matcher()(description)
}

// matcher returns a predicate for the override with the pattern prepared
// once, so it can be reused across a batch of descriptions.
func (o MerchantOverride) matcher() func(string) bool {
	pattern := strings.TrimSpace(o.MatchPattern)
	switch o.MatchType {
	case MatchExact:
		return func(description string) bool {
			return strings.EqualFold(strings.TrimSpace(description), pattern)
		}
	case MatchContains:
		upper := strings.ToUpper(pattern)
		return func(description string) bool {
			return strings.Contains(strings.ToUpper(description), upper)
		}
	case MatchRegex:
		re, err := compilePattern(o.MatchPattern)
		if err != nil {
			return func(string) bool { return false }
		}
		return func(description string) bool {
			return re.MatchString(strings.TrimSpace(description))
		}
	}
	return func(string) bool { return false }
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Applied is the result of running overrides over a batch of transactions.
type Applied struct {
	Transactions []model.RawTransaction
	// Used lists the overrides that matched at least once, in the order they
	// were given.
	Used []MerchantOverride
	// Matched lists the IDs of Used.
	Matched []uuid.UUID
}

// ApplyOverrides returns a copy of txs where every description matched by an
// override is replaced by the override's merchant name. Overrides are tried
// in order and the first match wins. txs is not modified.
func ApplyOverrides(overrides []MerchantOverride, txs []model.RawTransaction) Applied {
	out := Applied{Transactions: make([]model.RawTransaction, len(txs))}
	copy(out.Transactions, txs)
	if len(overrides) == 0 {
		return out
	}

	matchers := make([]func(string) bool, len(overrides))
	for i, o := range overrides {
		matchers[i] = o.matcher()
	}

	used := make([]bool, len(overrides))
	for i := range out.Transactions {
		for j, match := range matchers {
			if !match(out.Transactions[i].Description) {
				continue
			}
			out.Transactions[i].Description = overrides[j].MerchantName
			used[j] = true
			break
		}
	}

	for j, o := range overrides {
		if used[j] {
			out.Used = append(out.Used, o)
			out.Matched = append(out.Matched, o.ID)
		}
	}
	return out
}

// DBTX is the subset of pgxpool.Pool used by the store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OverrideStore persists merchant overrides in PostgreSQL.
type OverrideStore struct {
	db DBTX
}

// NewOverrideStore creates a new override store
func NewOverrideStore(db DBTX) *OverrideStore {
	return &OverrideStore{db: db}
}

const overrideColumns = `id, user_id, match_pattern, match_type, merchant_name, category,
	match_count, last_matched_at, created_at, updated_at`

// SaveOverride creates an override, or replaces the merchant name, match type
// and category of the user's override with the same pattern.
func (s *OverrideStore) SaveOverride(ctx context.Context, override MerchantOverride) (*MerchantOverride, error) {
	if err := override.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO user_merchant_overrides (
			id, user_id, match_pattern, match_type, merchant_name, category
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, match_pattern) DO UPDATE SET
			match_type = EXCLUDED.match_type,
			merchant_name = EXCLUDED.merchant_name,
			category = EXCLUDED.category,
			updated_at = now()
		RETURNING ` + overrideColumns

	row := s.db.QueryRow(ctx, query,
		uuid.New(),
		override.UserID,
		strings.TrimSpace(override.MatchPattern),
		override.MatchType,
		strings.TrimSpace(override.MerchantName),
		override.Category,
	)
	result, err := scanOverride(row)
	if err != nil {
		return nil, fmt.Errorf("failed to save merchant override: %w", err)
	}
	return result, nil
}

// GetOverridesForUser returns the user's overrides, most used first.
func (s *OverrideStore) GetOverridesForUser(ctx context.Context, userID uuid.UUID) ([]MerchantOverride, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM user_merchant_overrides
		WHERE user_id = $1
		ORDER BY match_count DESC, updated_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merchant overrides: %w", err)
	}
	defer rows.Close()

	overrides := []MerchantOverride{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant override: %w", err)
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

// RecordMatches bumps the match counters of the given overrides.
func (s *OverrideStore) RecordMatches(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE user_merchant_overrides
		SET match_count = match_count + 1, last_matched_at = now()
		WHERE id = ANY($1)
	`
	if _, err := s.db.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to record override matches: %w", err)
	}
	return nil
}

// DeleteOverride removes an override. It returns sql.ErrNoRows when the user
// has no override with that ID.
func (s *OverrideStore) DeleteOverride(ctx context.Context, userID, overrideID uuid.UUID) error {
	query := `DELETE FROM user_merchant_overrides WHERE id = $1 AND user_id = $2`
	result, err := s.db.Exec(ctx, query, overrideID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete merchant override: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanOverride(row pgx.Row) (*MerchantOverride, error) {
	var o MerchantOverride
	err := row.Scan(
		&o.ID, &o.UserID, &o.MatchPattern, &o.MatchType, &o.MerchantName, &o.Category,
		&o.MatchCount, &o.LastMatchedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
