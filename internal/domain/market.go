/**
 * @description
 * Query and result shapes for the market-data warehouse the tools read from.
 * Row payloads stay as generic maps because the warehouse owns the column set
 * and the tools only relay it.
 */

package domain

// Row is one warehouse row keyed by column name.
type Row map[string]any

// WinnersQuery filters the ranked signal dashboard.
type WinnersQuery struct {
	Limit      int
	OptionType string
	MinQuality string
	RunDate    string
}

// WinnersDashboard is the ranked signal list for one run date.
type WinnersDashboard struct {
	AsOf    string `json:"as_of"`
	Count   int    `json:"count"`
	Signals []Row  `json:"signals"`
}

// QualityRank orders setup quality labels for min_quality filtering.
var QualityRank = map[string]int{
	"High":   3,
	"Medium": 2,
	"Low":    1,
}

// PerformanceQuery filters tracked signal performance.
type PerformanceQuery struct {
	Status     string
	Ticker     string
	OptionType string
	MinGain    *float64
	Limit      int
}

// PerformanceStats summarizes a list of tracked signals.
type PerformanceStats struct {
	TotalSignals int     `json:"total_signals"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	WinRatePct   float64 `json:"win_rate_pct"`
	AvgGainPct   float64 `json:"avg_gain_pct"`
}

// PerformanceReport is the performance tracker result.
type PerformanceReport struct {
	Summary PerformanceStats `json:"summary"`
	Signals []Row            `json:"signals"`
}

// QualityBreakdown is the per-quality slice of the performance summary.
type QualityBreakdown struct {
	Count        int     `json:"count"`
	WinRatePct   float64 `json:"win_rate_pct"`
	AvgReturnPct float64 `json:"avg_return_pct"`
}

// PerformanceSummary aggregates every tracked signal.
type PerformanceSummary struct {
	AsOf         string                      `json:"as_of"`
	TotalSignals int                         `json:"total_signals"`
	WinRatePct   float64                     `json:"win_rate_pct"`
	AvgReturnPct float64                     `json:"avg_return_pct"`
	ByStatus     map[string]int              `json:"by_status"`
	ByQuality    map[string]QualityBreakdown `json:"by_quality"`
}

// CalendarQuery filters upcoming market events.
type CalendarQuery struct {
	StartDate   string
	DaysForward int
	Ticker      string
	EventType   string
}

// CalendarEvents lists market events in a date range.
type CalendarEvents struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Count     int    `json:"count"`
	Events    []Row  `json:"events"`
}

// StrikeLevel is one strike in the open-interest walls or volume heat lists.
type StrikeLevel struct {
	Strike       float64 `json:"strike"`
	OptionType   string  `json:"type"`
	OpenInterest int64   `json:"oi,omitempty"`
	Volume       int64   `json:"vol,omitempty"`
}

// MarketStructureSummary holds put/call aggregates for one ticker.
type MarketStructureSummary struct {
	TotalVolume       int64   `json:"total_volume"`
	TotalOpenInterest int64   `json:"total_open_interest"`
	PutCallRatioVol   float64 `json:"put_call_ratio_volume"`
	PutCallRatioOI    float64 `json:"put_call_ratio_oi"`
}

// MarketStructure is the options positioning view for one ticker.
type MarketStructure struct {
	Ticker        string                  `json:"ticker"`
	AsOf          string                  `json:"as_of"`
	Message       string                  `json:"message,omitempty"`
	Summary       *MarketStructureSummary `json:"summary,omitempty"`
	DominantWalls []StrikeLevel           `json:"dominant_walls,omitempty"`
	ActiveHeat    []StrikeLevel           `json:"active_heat,omitempty"`
}

// QueryResult is the output of an ad-hoc read-only price query.
type QueryResult struct {
	Count     int   `json:"count"`
	Truncated bool  `json:"truncated"`
	Results   []Row `json:"results"`
}
