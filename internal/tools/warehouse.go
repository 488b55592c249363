package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
)

// warehouseError maps store sentinels to handler failures. Anything else passes
// through and is reported as a generic handler failure.
func warehouseError(err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNoWarehouseData):
		return &Failure{Kind: ErrNotFound, Message: "No " + what + " data available.", Cause: err}
	case errors.Is(err, store.ErrQueryRejected):
		return InvalidArgument("The request was rejected by the warehouse.", err)
	}
	return err
}

func winnersDashboard(w store.Warehouse) Descriptor {
	return Descriptor{
		Name: "get_winners_dashboard",
		Description: "Get today's top-ranked options signals across all tickers, ranked by setup quality, " +
			"trend alignment and volatility favorability. Use analyze_market_structure for contract-level positioning.",
		Schema: Schema{Fields: []Field{
			{Name: "limit", Type: TypeInteger, Description: "Maximum number of signals to return.", Default: 10, Min: Bound(1), Max: Bound(50)},
			{Name: "option_type", Type: TypeString, Description: "Filter by CALL or PUT.", Enum: optionTypeEnum, Uppercase: true},
			{Name: "min_quality", Type: TypeString, Description: "Minimum setup quality.", Enum: []string{"High", "Medium", "Low"}},
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			res, err := w.WinnersDashboard(ctx, domain.WinnersQuery{
				Limit:      in.Int("limit"),
				OptionType: in.String("option_type"),
				MinQuality: in.String("min_quality"),
				RunDate:    "latest",
			})
			if err != nil {
				return nil, warehouseError(err, "winners dashboard")
			}
			return res, nil
		},
	}
}

func performanceTracker(w store.Warehouse) Descriptor {
	return Descriptor{
		Name: "get_performance_tracker",
		Description: "Get performance metrics for tracked paper signals: entry price, current price and percent gain " +
			"from signal identification to current market price or expiration.",
		Schema: Schema{Fields: []Field{
			{Name: "status", Type: TypeString, Description: "Filter by signal status.", Enum: []string{"Active", "Expired", "Delisted"}},
			{Name: "ticker", Type: TypeString, Description: "Filter by ticker symbol.", MaxLength: 10, Uppercase: true},
			{Name: "option_type", Type: TypeString, Description: "Filter by CALL or PUT.", Enum: optionTypeEnum, Uppercase: true},
			{Name: "min_gain", Type: TypeNumber, Description: "Minimum percent gain (e.g. 10.0 for +10%)."},
			{Name: "limit", Type: TypeInteger, Description: "Maximum results to return.", Default: 50, Min: Bound(1), Max: Bound(100)},
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			if t := in.String("ticker"); t != "" && !tickerPattern.MatchString(t) {
				return nil, InvalidArgument("ticker must be 1-10 letters, digits, dots or dashes", nil)
			}
			res, err := w.PerformanceTracker(ctx, domain.PerformanceQuery{
				Status:     in.String("status"),
				Ticker:     in.String("ticker"),
				OptionType: in.String("option_type"),
				MinGain:    in.Float("min_gain"),
				Limit:      in.Int("limit"),
			})
			if err != nil {
				return nil, warehouseError(err, "performance")
			}
			return res, nil
		},
	}
}

func performanceSummary(w store.Warehouse) Descriptor {
	return Descriptor{
		Name:        "get_performance_summary",
		Description: "Get aggregate performance statistics for all tracked signals: win rate, average return, and breakdowns by status and setup quality.",
		Schema:      Schema{},
		Handler: func(ctx context.Context, in Input) (any, error) {
			res, err := w.PerformanceSummary(ctx)
			if err != nil {
				return nil, warehouseError(err, "performance")
			}
			return res, nil
		},
	}
}

func marketEvents(w store.Warehouse) Descriptor {
	return Descriptor{
		Name:        "get_market_events",
		Description: "Get upcoming market calendar events (earnings, dividends, economic releases) in a date range.",
		Schema: Schema{Fields: []Field{
			{Name: "start_date", Type: TypeString, Description: "Range start in YYYY-MM-DD format. Defaults to today.", MaxLength: 10},
			{Name: "days_forward", Type: TypeInteger, Description: "Number of days after start_date to include.", Default: 7, Min: Bound(0), Max: Bound(90)},
			{Name: "ticker", Type: TypeString, Description: "Filter by ticker symbol.", MaxLength: 10, Uppercase: true},
			{Name: "event_type", Type: TypeString, Description: "Filter by event type.", Enum: []string{"earnings", "dividend", "economic", "split"}},
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			start := in.String("start_date")
			if start != "" {
				if _, err := time.Parse("2006-01-02", start); err != nil {
					return nil, InvalidArgument("start_date must be YYYY-MM-DD", err)
				}
			}
			res, err := w.CalendarEvents(ctx, domain.CalendarQuery{
				StartDate:   start,
				DaysForward: in.Int("days_forward"),
				Ticker:      in.String("ticker"),
				EventType:   in.String("event_type"),
			})
			if err != nil {
				return nil, warehouseError(err, "calendar")
			}
			return res, nil
		},
	}
}

func marketStructure(w store.Warehouse) Descriptor {
	return Descriptor{
		Name: "analyze_market_structure",
		Description: "Analyze options positioning for a ticker: put/call ratios, total volume and open interest, " +
			"the strikes with the largest open interest (walls) and the most traded strikes (heat).",
		Schema: Schema{Fields: []Field{tickerField(), asOfField()}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			ticker, err := tickerArg(in)
			if err != nil {
				return nil, err
			}
			asOf, err := asOfArg(in)
			if err != nil {
				return nil, err
			}
			res, err := w.MarketStructure(ctx, ticker, asOf)
			if err != nil {
				return nil, warehouseError(err, "options")
			}
			return res, nil
		},
	}
}

func priceQuery(w store.Warehouse, priceTable string) Descriptor {
	if priceTable == "" {
		priceTable = "price_data"
	}
	return Descriptor{
		Name: "run_price_query",
		Description: fmt.Sprintf("Run a read-only SQL SELECT against the %s table (columns: ticker, date, open, high, low, adj_close, volume). "+
			"Only that table and common analytic functions are available. Results are capped at %d rows.", priceTable, store.MaxPriceQueryRows),
		Schema: Schema{Fields: []Field{
			{Name: "query", Type: TypeString, Description: "A single SELECT statement.", Required: true, MaxLength: 4000},
		}},
		Handler: func(ctx context.Context, in Input) (any, error) {
			stmt, err := store.ValidatePriceQuery(in.String("query"), priceTable)
			if err != nil {
				return nil, InvalidArgument(err.Error(), err)
			}
			res, err := w.RunPriceQuery(ctx, stmt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) {
					return nil, InvalidArgument(fmt.Sprintf("query could not be executed (SQLSTATE %s)", pgErr.Code), err)
				}
				return nil, err
			}
			return res, nil
		},
	}
}
