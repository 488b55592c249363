package store

import (
	"errors"
	"testing"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePriceQuery(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		wantErr bool
	}{
		{
			name: "simple select",
			sql:  "SELECT * FROM price_data WHERE ticker = 'AAPL' ORDER BY date DESC LIMIT 5",
			want: "SELECT * FROM price_data WHERE ticker = 'AAPL' ORDER BY date DESC LIMIT 5",
		},
		{
			name: "trailing semicolon is stripped",
			sql:  "  select ticker, volume from price_data;  ",
			want: "select ticker, volume from price_data",
		},
		{
			name: "cte is allowed",
			sql:  "WITH recent AS (SELECT * FROM price_data) SELECT * FROM recent",
			want: "WITH recent AS (SELECT * FROM price_data) SELECT * FROM recent",
		},
		{
			name: "aggregates and window functions",
			sql:  "SELECT ticker, avg(close) OVER (PARTITION BY ticker ORDER BY date ROWS 19 PRECEDING), count(*) FROM price_data GROUP BY ticker, close, date",
			want: "SELECT ticker, avg(close) OVER (PARTITION BY ticker ORDER BY date ROWS 19 PRECEDING), count(*) FROM price_data GROUP BY ticker, close, date",
		},
		{
			name: "subquery over price table",
			sql:  "SELECT * FROM (SELECT ticker, max(close) AS hi FROM price_data GROUP BY ticker) p WHERE hi > 10",
			want: "SELECT * FROM (SELECT ticker, max(close) AS hi FROM price_data GROUP BY ticker) p WHERE hi > 10",
		},
		{name: "empty", sql: "   ", wantErr: true},
		{name: "unparseable", sql: "SELEC * FROM price_data", wantErr: true},
		{name: "multiple statements", sql: "SELECT 1 FROM price_data; SELECT 2", wantErr: true},
		{name: "not a select", sql: "DELETE FROM price_data", wantErr: true},
		{name: "write inside cte", sql: "WITH x AS (DELETE FROM price_data RETURNING *) SELECT * FROM x", wantErr: true},
		{name: "other table", sql: "SELECT * FROM subscribers", wantErr: true},
		{name: "comma join with another table", sql: "SELECT email, api_key_hash FROM subscribers, price_data LIMIT 1", wantErr: true},
		{name: "table name only in a literal", sql: "SELECT * FROM subscribers WHERE 'price_data' = 'price_data'", wantErr: true},
		{name: "explicit join", sql: "SELECT * FROM price_data p JOIN usage_logs u ON true", wantErr: true},
		{name: "scalar subquery", sql: "SELECT (SELECT email FROM subscribers LIMIT 1) FROM price_data", wantErr: true},
		{name: "exists subquery", sql: "SELECT * FROM price_data WHERE EXISTS (SELECT 1 FROM public.subscribers)", wantErr: true},
		{name: "cte shadowing a real table", sql: "WITH subscribers AS (SELECT * FROM subscribers) SELECT * FROM subscribers, price_data", wantErr: true},
		{name: "later cte is not visible earlier", sql: "WITH a AS (SELECT * FROM b), b AS (SELECT * FROM price_data) SELECT * FROM a", wantErr: true},
		{name: "other schema with same name", sql: "SELECT * FROM private.price_data", wantErr: true},
		{name: "catalog table", sql: "SELECT * FROM pg_catalog.pg_authid, price_data", wantErr: true},
		{name: "sql inside a string", sql: "SELECT query_to_xml('SELECT * FROM subscribers', true, false, '') FROM price_data", wantErr: true},
		{name: "file read", sql: "SELECT pg_read_file('/etc/passwd') FROM price_data", wantErr: true},
		{name: "select into", sql: "SELECT * INTO copy_of_prices FROM price_data", wantErr: true},
		{name: "row lock", sql: "SELECT * FROM price_data FOR UPDATE", wantErr: true},
		{name: "union with another table", sql: "SELECT ticker FROM price_data UNION SELECT email FROM subscribers", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidatePriceQuery(tc.sql, "price_data")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrQueryRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestValidatePriceQuery_SchemaQualifiedTable(t *testing.T) {
	_, err := ValidatePriceQuery("SELECT * FROM market.price_data LIMIT 1", "market.price_data")
	require.NoError(t, err)

	// The search path is pinned to the configured schema, so the bare name resolves there.
	_, err = ValidatePriceQuery("SELECT * FROM price_data LIMIT 1", "market.price_data")
	require.NoError(t, err)

	_, err = ValidatePriceQuery("SELECT * FROM public.price_data LIMIT 1", "market.price_data")
	assert.ErrorIs(t, err, ErrQueryRejected)
}

func TestSplitTable(t *testing.T) {
	schema, table := splitTable("price_data")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "price_data", table)

	schema, table = splitTable("market.prices")
	assert.Equal(t, "market", schema)
	assert.Equal(t, "prices", table)
}

func TestSummarizeGains(t *testing.T) {
	signals := []domain.Row{
		{"percent_gain": 10.0},
		{"percent_gain": -5.0},
		{"percent_gain": nil},
		{"percent_gain": 25.0},
	}

	stats := SummarizeGains(signals)
	assert.Equal(t, 4, stats.TotalSignals)
	assert.Equal(t, 2, stats.Winners)
	assert.Equal(t, 2, stats.Losers)
	assert.Equal(t, 50.0, stats.WinRatePct)
	assert.Equal(t, 7.5, stats.AvgGainPct)
}

func TestSummarizeGains_Empty(t *testing.T) {
	stats := SummarizeGains(nil)
	assert.Equal(t, domain.PerformanceStats{}, stats)
}

func TestWarehouseTablesDefaults(t *testing.T) {
	tables := WarehouseTables{PriceData: "market.prices"}.withDefaults()
	assert.Equal(t, "winners_dashboard", tables.WinnersDashboard)
	assert.Equal(t, "options_chain", tables.OptionsChain)
	assert.Equal(t, "market.prices", tables.PriceData)
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, `"price_data"`, quoteTable("price_data"))
	assert.Equal(t, `"market"."price_data"`, quoteTable("market.price_data"))
	assert.Equal(t, `"bad""name"`, quoteTable(`bad"name`))
}
