/**
 * @description
 * This file implements the read-only market-data warehouse on PostgreSQL. The signal
 * pipelines load the tables; the tool-service only ever reads them.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Query execution, dynamic row collection and identifier quoting.
 * - internal/domain: Warehouse query and result shapes.
 *
 * @notes
 * - Table names come from configuration and are always quoted with pgx.Identifier.
 * - Ad-hoc price queries run in a READ ONLY transaction with a statement timeout.
 */

package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxPriceQueryRows caps the rows returned by RunPriceQuery.
const MaxPriceQueryRows = 500

// WarehouseTables names the warehouse tables. Empty fields fall back to defaults.
type WarehouseTables struct {
	WinnersDashboard   string
	PerformanceTracker string
	CalendarEvents     string
	OptionsChain       string
	PriceData          string
}

func (t WarehouseTables) withDefaults() WarehouseTables {
	if t.WinnersDashboard == "" {
		t.WinnersDashboard = "winners_dashboard"
	}
	if t.PerformanceTracker == "" {
		t.PerformanceTracker = "performance_tracker"
	}
	if t.CalendarEvents == "" {
		t.CalendarEvents = "calendar_events"
	}
	if t.OptionsChain == "" {
		t.OptionsChain = "options_chain"
	}
	if t.PriceData == "" {
		t.PriceData = "price_data"
	}
	return t
}

// WarehouseRepository implements Warehouse.
type WarehouseRepository struct {
	db               *pgxpool.Pool
	tables           WarehouseTables
	statementTimeout time.Duration
	queryRole        string
	now              func() time.Time
}

// WithQueryRole makes RunPriceQuery switch to role for the ad-hoc statement. The role
// should hold SELECT on the price table only.
func (r *WarehouseRepository) WithQueryRole(role string) *WarehouseRepository {
	r.queryRole = strings.TrimSpace(role)
	return r
}

// NewWarehouseRepository creates a warehouse reader bound to the given tables.
func NewWarehouseRepository(db *pgxpool.Pool, tables WarehouseTables, statementTimeout time.Duration) *WarehouseRepository {
	if statementTimeout <= 0 {
		statementTimeout = 15 * time.Second
	}
	return &WarehouseRepository{
		db:               db,
		tables:           tables.withDefaults(),
		statementTimeout: statementTimeout,
		now:              time.Now,
	}
}

func quoteTable(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func toRows(maps []map[string]any) []domain.Row {
	out := make([]domain.Row, 0, len(maps))
	for _, m := range maps {
		out = append(out, domain.Row(m))
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// latestDate returns MAX(col) of the table as YYYY-MM-DD.
func (r *WarehouseRepository) latestDate(ctx context.Context, table, col string) (string, error) {
	query := fmt.Sprintf(`SELECT to_char(MAX(%s), 'YYYY-MM-DD') FROM %s`,
		pgx.Identifier{col}.Sanitize(), quoteTable(table))

	var latest *string
	if err := r.db.QueryRow(ctx, query).Scan(&latest); err != nil {
		return "", fmt.Errorf("latest %s of %s: %w", col, table, err)
	}
	if latest == nil {
		return "", ErrNoWarehouseData
	}
	return *latest, nil
}

// WinnersDashboard returns the top ranked signals for the requested (or latest) run date.
func (r *WarehouseRepository) WinnersDashboard(ctx context.Context, q domain.WinnersQuery) (*domain.WinnersDashboard, error) {
	runDate := q.RunDate
	if runDate == "" || runDate == "latest" {
		latest, err := r.latestDate(ctx, r.tables.WinnersDashboard, "run_date")
		if err != nil {
			return nil, err
		}
		runDate = latest
	}

	var sb strings.Builder
	args := []any{runDate}
	fmt.Fprintf(&sb, `SELECT * FROM %s WHERE run_date = $1::date`, quoteTable(r.tables.WinnersDashboard))
	if q.OptionType != "" {
		args = append(args, q.OptionType)
		fmt.Fprintf(&sb, ` AND option_type = $%d`, len(args))
	}
	if rank, ok := domain.QualityRank[q.MinQuality]; ok {
		args = append(args, rank)
		fmt.Fprintf(&sb, ` AND (CASE setup_quality_signal WHEN 'High' THEN 3 WHEN 'Medium' THEN 2 WHEN 'Low' THEN 1 ELSE 0 END) >= $%d`, len(args))
	}
	args = append(args, q.Limit)
	fmt.Fprintf(&sb, ` ORDER BY weighted_score DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query winners dashboard: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect winners dashboard: %w", err)
	}

	signals := toRows(maps)
	return &domain.WinnersDashboard{AsOf: runDate, Count: len(signals), Signals: signals}, nil
}

// PerformanceTracker lists tracked signals with a summary of the returned slice.
func (r *WarehouseRepository) PerformanceTracker(ctx context.Context, q domain.PerformanceQuery) (*domain.PerformanceReport, error) {
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, `
		SELECT contract_symbol, ticker, option_type, strike_price,
			to_char(run_date, 'YYYY-MM-DD') AS run_date,
			to_char(expiration_date, 'YYYY-MM-DD') AS expiration_date,
			initial_price::float8 AS initial_price, current_price::float8 AS current_price,
			percent_gain::float8 AS percent_gain, status,
			setup_quality_signal, stock_price_trend_signal, company_name, industry
		FROM %s WHERE TRUE`, quoteTable(r.tables.PerformanceTracker))

	if q.Status != "" {
		args = append(args, q.Status)
		fmt.Fprintf(&sb, ` AND status = $%d`, len(args))
	}
	if q.Ticker != "" {
		args = append(args, q.Ticker)
		fmt.Fprintf(&sb, ` AND ticker = $%d`, len(args))
	}
	if q.OptionType != "" {
		args = append(args, q.OptionType)
		fmt.Fprintf(&sb, ` AND option_type = $%d`, len(args))
	}
	if q.MinGain != nil {
		args = append(args, *q.MinGain)
		fmt.Fprintf(&sb, ` AND percent_gain >= $%d`, len(args))
	}
	args = append(args, q.Limit)
	fmt.Fprintf(&sb, ` ORDER BY run_date DESC, percent_gain DESC NULLS LAST LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query performance tracker: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect performance tracker: %w", err)
	}

	signals := toRows(maps)
	return &domain.PerformanceReport{Summary: SummarizeGains(signals), Signals: signals}, nil
}

// SummarizeGains computes winners, losers and averages over percent_gain.
// A missing or non-positive gain counts as a loser.
func SummarizeGains(signals []domain.Row) domain.PerformanceStats {
	stats := domain.PerformanceStats{TotalSignals: len(signals)}
	if len(signals) == 0 {
		return stats
	}

	var total float64
	for _, s := range signals {
		gain, _ := s["percent_gain"].(float64)
		total += gain
		if gain > 0 {
			stats.Winners++
		} else {
			stats.Losers++
		}
	}
	stats.WinRatePct = round(float64(stats.Winners)/float64(len(signals))*100, 1)
	stats.AvgGainPct = round(total/float64(len(signals)), 2)
	return stats
}

// PerformanceSummary aggregates every tracked signal by status and by setup quality.
func (r *WarehouseRepository) PerformanceSummary(ctx context.Context) (*domain.PerformanceSummary, error) {
	table := quoteTable(r.tables.PerformanceTracker)

	var (
		total, winners            int
		avgReturn                 *float64
		active, expired, delisted int
	)
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE percent_gain > 0),
			AVG(percent_gain)::float8,
			COUNT(*) FILTER (WHERE status = 'Active'),
			COUNT(*) FILTER (WHERE status = 'Expired'),
			COUNT(*) FILTER (WHERE status = 'Delisted')
		FROM %s`, table)).Scan(&total, &winners, &avgReturn, &active, &expired, &delisted)
	if err != nil {
		return nil, fmt.Errorf("query performance stats: %w", err)
	}
	if total == 0 {
		return nil, ErrNoWarehouseData
	}

	summary := &domain.PerformanceSummary{
		AsOf:         r.now().UTC().Format("2006-01-02"),
		TotalSignals: total,
		WinRatePct:   round(float64(winners)/float64(total)*100, 1),
		ByStatus: map[string]int{
			"active":   active,
			"expired":  expired,
			"delisted": delisted,
		},
		ByQuality: map[string]domain.QualityBreakdown{},
	}
	if avgReturn != nil {
		summary.AvgReturnPct = round(*avgReturn, 2)
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT setup_quality_signal, COUNT(*), COUNT(*) FILTER (WHERE percent_gain > 0), AVG(percent_gain)::float8
		FROM %s
		WHERE setup_quality_signal IS NOT NULL
		GROUP BY setup_quality_signal`, table))
	if err != nil {
		return nil, fmt.Errorf("query quality breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			quality     string
			count, wins int
			avg         *float64
		)
		if err := rows.Scan(&quality, &count, &wins, &avg); err != nil {
			return nil, fmt.Errorf("scan quality breakdown: %w", err)
		}
		b := domain.QualityBreakdown{Count: count}
		if count > 0 {
			b.WinRatePct = round(float64(wins)/float64(count)*100, 1)
		}
		if avg != nil {
			b.AvgReturnPct = round(*avg, 2)
		}
		summary.ByQuality[quality] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quality breakdown: %w", err)
	}
	return summary, nil
}

// CalendarEvents lists events between start_date and start_date+days_forward inclusive.
func (r *WarehouseRepository) CalendarEvents(ctx context.Context, q domain.CalendarQuery) (*domain.CalendarEvents, error) {
	start := r.now().UTC()
	if q.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", q.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", ErrQueryRejected)
		}
		start = parsed
	}
	startDate := start.Format("2006-01-02")
	endDate := start.AddDate(0, 0, q.DaysForward).Format("2006-01-02")

	var sb strings.Builder
	args := []any{startDate, endDate}
	fmt.Fprintf(&sb, `
		SELECT to_char(event_date, 'YYYY-MM-DD') AS event_date, entity, event_type, event_name
		FROM %s
		WHERE event_date BETWEEN $1::date AND $2::date`, quoteTable(r.tables.CalendarEvents))
	if q.Ticker != "" {
		args = append(args, q.Ticker)
		fmt.Fprintf(&sb, ` AND entity = $%d`, len(args))
	}
	if q.EventType != "" {
		args = append(args, q.EventType)
		fmt.Fprintf(&sb, ` AND event_type = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY event_date ASC LIMIT 50`)

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect calendar events: %w", err)
	}

	events := toRows(maps)
	return &domain.CalendarEvents{StartDate: startDate, EndDate: endDate, Count: len(events), Events: events}, nil
}

// MarketStructure aggregates volume and open interest for a ticker's option chain and
// lists the ten largest open-interest walls and volume strikes.
func (r *WarehouseRepository) MarketStructure(ctx context.Context, ticker string, asOf string) (*domain.MarketStructure, error) {
	fetchDate := asOf
	if fetchDate == "" || fetchDate == "latest" {
		latest, err := r.latestDate(ctx, r.tables.OptionsChain, "fetch_date")
		if err != nil {
			return nil, err
		}
		fetchDate = latest
	}
	table := quoteTable(r.tables.OptionsChain)

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT lower(option_type), COALESCE(SUM(volume), 0)::bigint, COALESCE(SUM(open_interest), 0)::bigint
		FROM %s
		WHERE fetch_date = $1::date AND ticker = $2
		GROUP BY lower(option_type)`, table), fetchDate, ticker)
	if err != nil {
		return nil, fmt.Errorf("query option aggregates: %w", err)
	}
	type side struct{ vol, oi int64 }
	sides := map[string]side{}
	for rows.Next() {
		var (
			optionType string
			s          side
		)
		if err := rows.Scan(&optionType, &s.vol, &s.oi); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan option aggregates: %w", err)
		}
		sides[optionType] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate option aggregates: %w", err)
	}

	call, put := sides["call"], sides["put"]
	result := &domain.MarketStructure{Ticker: ticker, AsOf: fetchDate}
	totalVol := call.vol + put.vol
	totalOI := call.oi + put.oi
	if totalVol == 0 && totalOI == 0 {
		result.Message = "No options data found."
		return result, nil
	}

	summary := &domain.MarketStructureSummary{TotalVolume: totalVol, TotalOpenInterest: totalOI}
	if call.vol > 0 {
		summary.PutCallRatioVol = round(float64(put.vol)/float64(call.vol), 2)
	}
	if call.oi > 0 {
		summary.PutCallRatioOI = round(float64(put.oi)/float64(call.oi), 2)
	}
	result.Summary = summary

	walls, err := r.strikeLevels(ctx, table, "open_interest", fetchDate, ticker)
	if err != nil {
		return nil, err
	}
	heat, err := r.strikeLevels(ctx, table, "volume", fetchDate, ticker)
	if err != nil {
		return nil, err
	}
	result.DominantWalls = walls
	result.ActiveHeat = heat
	return result, nil
}

func (r *WarehouseRepository) strikeLevels(ctx context.Context, table, orderCol, fetchDate, ticker string) ([]domain.StrikeLevel, error) {
	col := pgx.Identifier{orderCol}.Sanitize()
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT strike::float8, option_type, COALESCE(%s, 0)::bigint
		FROM %s
		WHERE fetch_date = $1::date AND ticker = $2
		ORDER BY %s DESC NULLS LAST
		LIMIT 10`, col, table, col), fetchDate, ticker)
	if err != nil {
		return nil, fmt.Errorf("query %s levels: %w", orderCol, err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StrikeLevel, error) {
		var (
			lvl domain.StrikeLevel
			n   int64
		)
		if err := row.Scan(&lvl.Strike, &lvl.OptionType, &n); err != nil {
			return lvl, err
		}
		if orderCol == "volume" {
			lvl.Volume = n
		} else {
			lvl.OpenInterest = n
		}
		return lvl, nil
	})
}

// RunPriceQuery executes a validated ad-hoc SELECT in a read-only transaction and
// returns at most MaxPriceQueryRows rows.
func (r *WarehouseRepository) RunPriceQuery(ctx context.Context, sql string) (*domain.QueryResult, error) {
	stmt, err := ValidatePriceQuery(sql, r.tables.PriceData)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin price query tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL statement_timeout = %d`, r.statementTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}
	schema, _ := splitTable(r.tables.PriceData)
	if _, err := tx.Exec(ctx, `SET LOCAL search_path TO `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return nil, fmt.Errorf("set search path: %w", err)
	}
	if r.queryRole != "" {
		if _, err := tx.Exec(ctx, `SET LOCAL ROLE `+pgx.Identifier{r.queryRole}.Sanitize()); err != nil {
			return nil, fmt.Errorf("set query role: %w", err)
		}
	}

	wrapped := fmt.Sprintf(`SELECT * FROM (%s) AS price_query LIMIT %d`, stmt, MaxPriceQueryRows+1)
	rows, err := tx.Query(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryRejected, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryRejected, err)
	}

	result := &domain.QueryResult{}
	if len(maps) > MaxPriceQueryRows {
		maps = maps[:MaxPriceQueryRows]
		result.Truncated = true
	}
	result.Results = toRows(maps)
	result.Count = len(result.Results)
	return result, nil
}
