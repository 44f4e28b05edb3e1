// Package catalog holds the read-only list of known subscription providers.
// A Catalog is built once from configuration and passed explicitly to the
// normalizer and detector; it is immutable and safe for concurrent use.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"
)

// DefaultCategory is used for merchants that match no provider.
const DefaultCategory = "Other"

//go:embed providers.yaml
var builtinProviders []byte

var (
	ErrEmptyCatalog = errors.New("catalog contains no providers")
	ErrDuplicateID  = errors.New("duplicate provider id")
)

// Provider is a known subscription service.
type Provider struct {
	ID               string `yaml:"id" json:"id"`
	Name             string `yaml:"name" json:"name"`
	Category         string `yaml:"category" json:"category"`
	NoticePeriodInfo string `yaml:"notice_period_info,omitempty" json:"notice_period_info,omitempty"`
}

// HasNoticeInfo reports whether the provider publishes notice-period terms.
func (p Provider) HasNoticeInfo() bool {
	return strings.TrimSpace(p.NoticePeriodInfo) != ""
}

type file struct {
	Providers []Provider `yaml:"providers"`
}

// Catalog matches free text against provider names.
type Catalog struct {
	providers []Provider
	byID      map[string]int
	lowered   []string
	matcher   *ahocorasick.Matcher
}

// New builds a catalog. Order matters: when several provider names occur in
// the same text, the one listed first wins.
func New(providers []Provider) (*Catalog, error) {
	c := &Catalog{
		providers: make([]Provider, 0, len(providers)),
		byID:      make(map[string]int, len(providers)),
	}

	for _, p := range providers {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			continue
		}
		if p.Category == "" {
			p.Category = DefaultCategory
		}
		if p.ID != "" {
			if _, dup := c.byID[p.ID]; dup {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
			}
			c.byID[p.ID] = len(c.providers)
		}
		c.providers = append(c.providers, p)
		c.lowered = append(c.lowered, strings.ToLower(p.Name))
	}

	if len(c.lowered) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.lowered)
	}
	return c, nil
}

// Empty returns a catalog with no providers; every lookup misses.
func Empty() *Catalog {
	c, _ := New(nil)
	return c
}

// Load parses a YAML document of the form `providers: [{id, name, category, notice_period_info}]`.
func Load(r io.Reader) (*Catalog, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(f.Providers) == 0 {
		return nil, ErrEmptyCatalog
	}
	return New(f.Providers)
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// Builtin returns the catalog shipped with the binary.
func Builtin() (*Catalog, error) {
	return Load(strings.NewReader(string(builtinProviders)))
}

// Len returns the number of providers.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.providers)
}

// Providers returns a copy of all providers in catalog order.
func (c *Catalog) Providers() []Provider {
	if c == nil {
		return nil
	}
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// ByID looks a provider up by identifier.
func (c *Catalog) ByID(id string) (Provider, bool) {
	if c == nil || id == "" {
		return Provider{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Provider{}, false
	}
	return c.providers[i], true
}

// MatchIn returns the first provider (catalog order) whose lower-cased name
// occurs as a substring of text. text is expected to be lower-case already.
func (c *Catalog) MatchIn(text string) (Provider, bool) {
	if c == nil || c.matcher == nil || text == "" {
		return Provider{}, false
	}

	hits := c.matcher.Match([]byte(text))
	if len(hits) == 0 {
		return Provider{}, false
	}

	best := hits[0]
	for _, h := range hits[1:] {
		if h < best {
			best = h
		}
	}
	return c.providers[best], true
}

// Search ranks providers by fuzzy similarity to query, for manual entry.
func (c *Catalog) Search(query string, limit int) []Provider {
	query = strings.TrimSpace(query)
	if c == nil || query == "" || len(c.providers) == 0 {
		return nil
	}

	ranks := fuzzy.RankFindNormalizedFold(query, c.lowered)
	sort.Stable(ranks)

	if limit <= 0 || limit > len(ranks) {
		limit = len(ranks)
	}
	out := make([]Provider, 0, limit)
	for _, r := range ranks[:limit] {
		out = append(out, c.providers[r.OriginalIndex])
	}
	return out
}
