package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/grimoireapp/grimoire-server/internal/normalize"
)

// MaxLimit caps the number of hits a single search may return.
const MaxLimit = 100

// SearchParams configures a search query.
type SearchParams struct {
	Query string // User's search query; empty matches everything

	// Filters
	Genre   string // Matched by slug, so "Science Fiction" == "science-fiction"
	MinYear int
	MaxYear int

	// Pagination
	Limit  int
	Offset int
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{Limit: 20}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string      `json:"query"`
	Total  uint64      `json:"total"`
	TookMs int64       `json:"tookMs"`
	Hits   []SearchHit `json:"hits"`
}

// SearchHit represents a single search result.
type SearchHit struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
}

// IDs returns the hit ids in rank order.
func (r *SearchResult) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// Search executes a search query. Hits are ranked by relevance, or by
// creation time when the query text is empty.
func (s *SearchIndex) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}
	params.Limit = min(params.Limit, MaxLimit)
	params.Offset = max(params.Offset, 0)

	req := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)
	if strings.TrimSpace(params.Query) == "" {
		req.SortBy([]string{"created_at", "_id"})
	} else {
		req.SortBy([]string{"-_score", "created_at"})
	}
	req.Fields = []string{"title", "author"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(res.Hits)),
	}
	for _, hit := range res.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score}
		if t, ok := hit.Fields["title"].(string); ok {
			h.Title = t
		}
		if a, ok := hit.Fields["author"].(string); ok {
			h.Author = a
		}
		result.Hits = append(result.Hits, h)
	}
	return result, nil
}

// buildSearchQuery constructs the Bleve query from params.
// Text matches on title (boosted), author and genre are OR-ed together;
// filters are AND-ed on top.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	if q := strings.TrimSpace(params.Query); q != "" {
		titleMatch := bleve.NewMatchQuery(q)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)

		authorMatch := bleve.NewMatchQuery(q)
		authorMatch.SetField("author")
		authorMatch.SetBoost(2.0)

		genreMatch := bleve.NewMatchQuery(q)
		genreMatch.SetField("genre")

		// Typo tolerance on the title.
		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzy.SetFuzziness(1)
		fuzzy.SetField("title")
		fuzzy.SetBoost(0.8)

		textQueries := []query.Query{titleMatch, authorMatch, genreMatch, fuzzy}

		// Prefix query for autocomplete (minimum 2 chars)
		if len(q) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(q))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			textQueries = append(textQueries, prefix)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if slug := normalize.Slug(params.Genre); slug != "" {
		gq := bleve.NewTermQuery(slug)
		gq.SetField("genre_slug")
		queries = append(queries, gq)
	}

	if params.MinYear > 0 || params.MaxYear > 0 {
		lo := float64(params.MinYear)
		hi := float64(params.MaxYear)
		if params.MaxYear == 0 {
			hi = 1 << 20
		}
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &inclusive)
		rq.SetField("year")
		queries = append(queries, rq)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}
