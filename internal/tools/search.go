package tools

import (
	"context"
	"errors"

	"github.com/gammarips/tool-service/pkg/searchclient"
)

// WebSearcher runs a web search.
type WebSearcher interface {
	Search(ctx context.Context, query string, num int) ([]searchclient.Result, error)
}

// SearchResults is the envelope data for web_search.
type SearchResults struct {
	Query   string                `json:"query"`
	Count   int                   `json:"count"`
	Results []searchclient.Result `json:"results"`
}

func webSearch(s WebSearcher) Descriptor {
	return Descriptor{
		Name:        "web_search",
		Description: "Search the web for real-time news and facts. Returns title, source, URL and snippet for each result.",
		Schema: Schema{Fields: []Field{
			{Name: "query", Type: TypeString, Description: "The search query.", Required: true, MaxLength: 500},
			{Name: "num_results", Type: TypeInteger, Description: "Number of results to return.", Default: 5, Min: Bound(1), Max: Bound(searchclient.MaxResults)},
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			query := in.String("query")
			results, err := s.Search(ctx, query, in.Int("num_results"))
			if err != nil {
				if errors.Is(err, searchclient.ErrNotConfigured) {
					return nil, &Failure{Kind: ErrNotFound, Message: "Web search is not available on this server.", Cause: err}
				}
				return nil, err
			}
			if len(results) == 0 {
				return nil, NotFound("No results found for query: %q", query)
			}
			return &SearchResults{Query: query, Count: len(results), Results: results}, nil
		},
	}
}
