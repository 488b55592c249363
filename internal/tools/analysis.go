package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gammarips/tool-service/pkg/objectstore"
	"github.com/sourcegraph/conc/pool"
)

// AnalysisStore reads analysis documents from the bucket.
type AnalysisStore interface {
	FindLatest(ctx context.Context, prefix, contains, ext string) (string, error)
	GetJSON(ctx context.Context, name string) (any, error)
}

// AnalysisResult is the envelope data for a single analysis document.
type AnalysisResult struct {
	Ticker string `json:"ticker,omitempty"`
	AsOf   string `json:"as_of"`
	Source string `json:"source"`
	Data   any    `json:"data"`
}

type analysisKind struct {
	name   string
	label  string
	prefix string
	desc   string
}

var analysisKinds = []analysisKind{
	{name: "get_news_analysis", label: "news analysis", prefix: "headline-news/",
		desc: "Get the latest headline news analysis for a ticker: sentiment, catalysts and key stories."},
	{name: "get_business_summary", label: "business summary", prefix: "business-summaries/",
		desc: "Get the business summary and company profile for a ticker."},
	{name: "get_fundamental_analysis", label: "fundamental analysis", prefix: "fundamentals-analysis/",
		desc: "Get fundamental analysis for a ticker: valuation metrics such as P/E and market cap."},
	{name: "get_financial_analysis", label: "financial analysis", prefix: "financials-analysis/",
		desc: "Get a deep dive on financial health for a ticker: revenue, debt and cash flow."},
	{name: "get_mda_analysis", label: "MD&A analysis", prefix: "mda-analysis/",
		desc: "Get the analysis of management's discussion and analysis section from the latest filing for a ticker."},
	{name: "get_transcript_analysis", label: "earnings transcript analysis", prefix: "transcript-analysis/",
		desc: "Get the analysis of the latest earnings call transcript for a ticker."},
}

// fetchDated loads {prefix}{TICKER}_{date}.json, choosing the newest date for "latest".
func fetchDated(ctx context.Context, s AnalysisStore, prefix, label, ticker, asOf string) (*AnalysisResult, error) {
	name := fmt.Sprintf("%s%s_%s.json", prefix, ticker, asOf)
	if asOf == "latest" {
		latest, err := s.FindLatest(ctx, prefix, prefix+ticker+"_", ".json")
		if err != nil {
			return nil, objectError(err, label, ticker)
		}
		name = latest
	}

	data, err := s.GetJSON(ctx, name)
	if err != nil {
		return nil, objectError(err, label, ticker)
	}
	return &AnalysisResult{Ticker: ticker, AsOf: asOf, Source: name, Data: data}, nil
}

func fetchTechnicals(ctx context.Context, s AnalysisStore, ticker, asOf string) (*AnalysisResult, error) {
	// Technicals are rewritten in place daily, so as_of does not select a file.
	name := "technicals-analysis/" + ticker + "_technicals.json"
	data, err := s.GetJSON(ctx, name)
	if err != nil {
		return nil, objectError(err, "technical analysis", ticker)
	}
	return &AnalysisResult{Ticker: ticker, AsOf: asOf, Source: name, Data: data}, nil
}

func objectError(err error, label, ticker string) error {
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		if ticker == "" {
			return NotFound("No %s found.", label)
		}
		return NotFound("No %s found for %s.", label, ticker)
	}
	return err
}

func tickerAnalysis(s AnalysisStore, kind analysisKind) Descriptor {
	return Descriptor{
		Name:        kind.name,
		Description: kind.desc,
		Schema:      Schema{Fields: []Field{tickerField(), asOfField()}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			ticker, err := tickerArg(in)
			if err != nil {
				return nil, err
			}
			asOf, err := asOfArg(in)
			if err != nil {
				return nil, err
			}
			return fetchDated(ctx, s, kind.prefix, kind.label, ticker, asOf)
		},
	}
}

func technicalAnalysis(s AnalysisStore) Descriptor {
	return Descriptor{
		Name:        "get_technical_analysis",
		Description: "Get technical analysis for a ticker: trend, momentum indicators such as RSI and MACD, support and resistance, and chart patterns.",
		Schema:      Schema{Fields: []Field{tickerField(), asOfField()}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			ticker, err := tickerArg(in)
			if err != nil {
				return nil, err
			}
			asOf, err := asOfArg(in)
			if err != nil {
				return nil, err
			}
			return fetchTechnicals(ctx, s, ticker, asOf)
		},
	}
}

func macroThesis(s AnalysisStore) Descriptor {
	const prefix = "macro-thesis/"
	return Descriptor{
		Name:        "get_macro_thesis",
		Description: "Get the current macro-economic thesis: rates, inflation, growth and sector positioning.",
		Schema:      Schema{Fields: []Field{asOfField()}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			asOf, err := asOfArg(in)
			if err != nil {
				return nil, err
			}

			contains := prefix
			if asOf != "latest" {
				contains = asOf
			}
			name, err := s.FindLatest(ctx, prefix, contains, ".json")
			if err != nil {
				return nil, objectError(err, "macro thesis", "")
			}
			data, err := s.GetJSON(ctx, name)
			if err != nil {
				return nil, objectError(err, "macro thesis", "")
			}
			return &AnalysisResult{AsOf: asOf, Source: name, Data: data}, nil
		},
	}
}

var stockSections = []string{"business", "financials", "fundamentals", "news", "technicals"}

var sectionPrefixes = map[string]analysisKind{
	"business":     {label: "business summary", prefix: "business-summaries/"},
	"fundamentals": {label: "fundamental analysis", prefix: "fundamentals-analysis/"},
	"financials":   {label: "financial analysis", prefix: "financials-analysis/"},
	"news":         {label: "news analysis", prefix: "headline-news/"},
}

type sectionResult struct {
	name string
	data any
	err  error
}

// StockAnalysis is the combined multi-section view for one ticker.
type StockAnalysis struct {
	Ticker   string         `json:"ticker"`
	AsOf     string         `json:"as_of"`
	Sections map[string]any `json:"sections"`
	Missing  []string       `json:"missing,omitempty"`
}

func stockAnalysis(s AnalysisStore) Descriptor {
	return Descriptor{
		Name: "get_stock_analysis",
		Description: "Get comprehensive analysis for a stock combining business, fundamentals, financials, technicals and news. " +
			"Sections without data are listed under missing.",
		Schema: Schema{Fields: []Field{
			tickerField(),
			{Name: "include_sections", Type: TypeArray, Description: "Sections to include. Defaults to all.", Enum: stockSections, Max: Bound(float64(len(stockSections)))},
			asOfField(),
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			ticker, err := tickerArg(in)
			if err != nil {
				return nil, err
			}
			asOf, err := asOfArg(in)
			if err != nil {
				return nil, err
			}
			sections := in.Strings("include_sections")
			if len(sections) == 0 {
				sections = stockSections
			}

			p := pool.NewWithResults[sectionResult]().WithContext(ctx).WithMaxGoroutines(len(stockSections))
			seen := make(map[string]bool, len(sections))
			for _, section := range sections {
				if seen[section] {
					continue
				}
				seen[section] = true
				section := section
				p.Go(func(ctx context.Context) (sectionResult, error) {
					var (
						res *AnalysisResult
						err error
					)
					if section == "technicals" {
						res, err = fetchTechnicals(ctx, s, ticker, asOf)
					} else {
						kind := sectionPrefixes[section]
						res, err = fetchDated(ctx, s, kind.prefix, kind.label, ticker, asOf)
					}
					if err != nil {
						return sectionResult{name: section, err: err}, nil
					}
					return sectionResult{name: section, data: res.Data}, nil
				})
			}
			results, _ := p.Wait()

			out := &StockAnalysis{Ticker: ticker, AsOf: asOf, Sections: make(map[string]any, len(results))}
			for _, r := range results {
				if r.err != nil {
					if !errors.Is(r.err, ErrNotFound) {
						return nil, r.err
					}
					out.Missing = append(out.Missing, r.name)
					continue
				}
				out.Sections[r.name] = r.data
			}
			sort.Strings(out.Missing)
			if len(out.Sections) == 0 {
				return nil, NotFound("No analysis found for %s.", ticker)
			}
			return out, nil
		},
	}
}
