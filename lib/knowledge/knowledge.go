// Copyright 2026 The Overwatch Authors
// SPDX-License-Identifier: Apache-2.0

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/overwatch-ops/overwatch/lib/bm25"
)

// ErrInternetNotAllowed is returned for a query that names the
// internet tier without opting in, or when the router has internet
// access disabled.
var ErrInternetNotAllowed = errors.New("knowledge: internet tier not allowed")

// Tier is a knowledge provenance level.
type Tier int

const (
	Internal Tier = iota + 1
	Specialized
	Internet
)

func (t Tier) String() string {
	switch t {
	case Internal:
		return "internal"
	case Specialized:
		return "specialized"
	case Internet:
		return "internet"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier parses a tier name.
func ParseTier(name string) (Tier, error) {
	switch name {
	case "internal", "1":
		return Internal, nil
	case "specialized", "2":
		return Specialized, nil
	case "internet", "3":
		return Internet, nil
	}
	return 0, fmt.Errorf("knowledge: unknown tier %q", name)
}

func (t Tier) MarshalText() ([]byte, error) {
	switch t {
	case Internal, Specialized, Internet:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("knowledge: invalid tier %d", int(t))
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DefaultTrust is the trust score given to results from each tier.
var DefaultTrust = map[Tier]float64{
	Internal:    1.0,
	Specialized: 0.8,
	Internet:    0.4,
}

// DefaultLimit caps results when Query.Limit is zero.
const DefaultLimit = 10

// Query is one knowledge lookup.
type Query struct {
	Text string

	// Tiers to consult. Empty means internal and specialized.
	Tiers []Tier

	// Categories restricts results to these categories. Empty means
	// any.
	Categories []string

	// MinConfidence drops results scoring below it. Zero uses the
	// router's default.
	MinConfidence float64

	Limit int

	// AllowInternet opts this query in to the internet tier.
	AllowInternet bool
}

// Result is one retrieved passage.
type Result struct {
	Content string `json:"content"`

	// Score is the confidence in [0, 1] that the passage answers the
	// query.
	Score float64 `json:"score"`

	Tier       Tier    `json:"tier"`
	TrustScore float64 `json:"trust_score"`

	// Source locates the passage: a file and heading, or an evidence
	// run id.
	Source   string `json:"source"`
	Category string `json:"category,omitempty"`
}

// Service answers knowledge queries. *Router implements it.
type Service interface {
	Query(ctx context.Context, query Query) ([]Result, error)
}

// Source serves one tier.
type Source interface {
	Tier() Tier
	Search(ctx context.Context, query Query) ([]Result, error)
}

// RouterConfig holds the parameters for NewRouter.
type RouterConfig struct {
	Sources []Source

	// MinConfidence is the default floor for queries that set none.
	MinConfidence float64

	// AllowInternet enables the internet tier at all.
	AllowInternet bool

	Logger *slog.Logger
}

// Router fans a query out to the sources of the requested tiers and
// merges their results.
type Router struct {
	sources       map[Tier][]Source
	minConfidence float64
	allowInternet bool
	logger        *slog.Logger
}

var _ Service = (*Router)(nil)

// NewRouter returns a router over cfg.Sources.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	router := &Router{
		sources:       make(map[Tier][]Source),
		minConfidence: cfg.MinConfidence,
		allowInternet: cfg.AllowInternet,
		logger:        logger,
	}
	for _, source := range cfg.Sources {
		router.sources[source.Tier()] = append(router.sources[source.Tier()], source)
	}
	return router
}

// Query consults each requested tier in order and returns the merged
// results, best first. A failing source is logged and skipped unless
// every consulted source fails.
func (r *Router) Query(ctx context.Context, query Query) ([]Result, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("knowledge: empty query")
	}
	tiers := query.Tiers
	if len(tiers) == 0 {
		tiers = []Tier{Internal, Specialized}
	}
	if slices.Contains(tiers, Internet) && (!query.AllowInternet || !r.allowInternet) {
		return nil, ErrInternetNotAllowed
	}
	floor := query.MinConfidence
	if floor == 0 {
		floor = r.minConfidence
	}
	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		results  []Result
		failures []error
		asked    int
	)
	for _, tier := range tiers {
		for _, source := range r.sources[tier] {
			asked++
			found, err := source.Search(ctx, query)
			if err != nil {
				r.logger.Warn("knowledge source failed", "tier", tier.String(), "error", err)
				failures = append(failures, err)
				continue
			}
			for _, result := range found {
				if result.Score < floor {
					continue
				}
				if len(query.Categories) > 0 && !slices.Contains(query.Categories, result.Category) {
					continue
				}
				results = append(results, result)
			}
		}
	}
	if asked > 0 && len(failures) == asked {
		return nil, fmt.Errorf("knowledge: every source failed: %w", errors.Join(failures...))
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Tier < results[j].Tier
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// confidence turns a BM25 hit into a score in [0, 1]: its score
// relative to the best hit, scaled by the share of query terms the
// passage contains.
func confidence(hit bm25.Result, queryTerms []string, passageTerms map[string]struct{}) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	unique := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		unique[term] = struct{}{}
	}
	covered := 0
	for term := range unique {
		if _, ok := passageTerms[term]; ok {
			covered++
		}
	}
	return hit.Relative * float64(covered) / float64(len(unique))
}

func termSet(texts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, text := range texts {
		for _, term := range bm25.Tokenize(text) {
			set[term] = struct{}{}
		}
	}
	return set
}
