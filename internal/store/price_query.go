package store

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// priceQueryFunctions are the functions an ad-hoc price query may call. Anything else,
// including the xml and dblink families that run SQL held in strings, is refused.
var priceQueryFunctions = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true,
	"stddev": true, "stddev_pop": true, "stddev_samp": true,
	"variance": true, "var_pop": true, "var_samp": true,
	"corr": true, "covar_pop": true, "covar_samp": true,
	"regr_slope": true, "regr_intercept": true, "regr_r2": true,
	"percentile_cont": true, "percentile_disc": true, "mode": true,
	"array_agg": true, "string_agg": true, "bool_and": true, "bool_or": true,
	"row_number": true, "rank": true, "dense_rank": true, "percent_rank": true,
	"cume_dist": true, "ntile": true, "lag": true, "lead": true,
	"first_value": true, "last_value": true, "nth_value": true,
	"abs": true, "round": true, "trunc": true, "floor": true, "ceil": true, "ceiling": true,
	"sign": true, "sqrt": true, "cbrt": true, "power": true, "exp": true,
	"ln": true, "log": true, "log10": true, "mod": true, "width_bucket": true,
	"date_trunc": true, "date_part": true, "extract": true, "age": true,
	"to_char": true, "to_date": true, "to_timestamp": true, "make_date": true,
	"now": true, "timezone": true,
	"upper": true, "lower": true, "length": true, "substr": true, "substring": true,
	"btrim": true, "ltrim": true, "rtrim": true, "concat": true, "replace": true,
	"left": true, "right": true, "position": true,
}

// ValidatePriceQuery parses sql as PostgreSQL and accepts a single plain SELECT whose
// relations are all the price table or CTEs the query defines, and whose function
// calls are on the analytic allowlist. The returned statement has any trailing
// semicolon removed.
func ValidatePriceQuery(sql string, priceTable string) (string, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", fmt.Errorf("%w: query is empty", ErrQueryRejected)
	}
	if strings.HasSuffix(stmt, ";") {
		return "", fmt.Errorf("%w: only a single statement is allowed", ErrQueryRejected)
	}

	tree, err := pg_query.Parse(stmt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrQueryRejected, err)
	}
	if len(tree.GetStmts()) != 1 {
		return "", fmt.Errorf("%w: only a single statement is allowed", ErrQueryRejected)
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return "", fmt.Errorf("%w: only SELECT queries are allowed", ErrQueryRejected)
	}

	if priceTable == "" {
		priceTable = "price_data"
	}
	schema, table := splitTable(priceTable)
	check := relationCheck{schema: schema, table: table, display: priceTable}
	if err := check.walk(sel.ProtoReflect(), nil); err != nil {
		return "", err
	}
	return stmt, nil
}

// splitTable returns the schema and relation of a configured table name. Unqualified
// names live in public.
func splitTable(name string) (string, string) {
	if schema, table, ok := strings.Cut(name, "."); ok {
		return schema, table
	}
	return "public", name
}

type relationCheck struct {
	schema  string
	table   string
	display string
}

// walk visits every node below m. ctes holds the CTE names visible at m.
func (c relationCheck) walk(m protoreflect.Message, ctes map[string]bool) error {
	switch n := m.Interface().(type) {
	case *pg_query.SelectStmt:
		if n.GetIntoClause() != nil {
			return fmt.Errorf("%w: SELECT INTO is not allowed", ErrQueryRejected)
		}
		if len(n.GetLockingClause()) > 0 {
			return fmt.Errorf("%w: row locking is not allowed", ErrQueryRejected)
		}
		if with := n.GetWithClause(); with != nil {
			scope, err := c.withScope(with, ctes)
			if err != nil {
				return err
			}
			ctes = scope
		}
	case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
		return fmt.Errorf("%w: data-modifying statements are not allowed", ErrQueryRejected)
	case *pg_query.RangeVar:
		if err := c.relation(n, ctes); err != nil {
			return err
		}
	case *pg_query.FuncCall:
		if err := checkFunction(n); err != nil {
			return err
		}
	}

	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		// WITH clauses were checked by withScope in declaration order.
		if fd.Name() == "with_clause" || fd.Message() == nil || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len() && err == nil; i++ {
				err = c.walk(list.Get(i).Message(), ctes)
			}
			return err == nil
		}
		err = c.walk(v.Message(), ctes)
		return err == nil
	})
	return err
}

// withScope checks each CTE body with the names visible to it and returns the scope
// for the statement the clause belongs to. A non-recursive CTE sees only the ones
// declared before it.
func (c relationCheck) withScope(with *pg_query.WithClause, outer map[string]bool) (map[string]bool, error) {
	scope := make(map[string]bool, len(outer)+len(with.GetCtes()))
	for name := range outer {
		scope[name] = true
	}
	if with.GetRecursive() {
		for _, node := range with.GetCtes() {
			if cte := node.GetCommonTableExpr(); cte != nil {
				scope[cte.GetCtename()] = true
			}
		}
	}
	for _, node := range with.GetCtes() {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		visible := make(map[string]bool, len(scope))
		for name := range scope {
			visible[name] = true
		}
		if err := c.walk(cte.ProtoReflect(), visible); err != nil {
			return nil, err
		}
		scope[cte.GetCtename()] = true
	}
	return scope, nil
}

func (c relationCheck) relation(rv *pg_query.RangeVar, ctes map[string]bool) error {
	if rv.GetCatalogname() == "" && rv.GetSchemaname() == "" && ctes[rv.GetRelname()] {
		return nil
	}
	if rv.GetCatalogname() == "" && rv.GetRelname() == c.table &&
		(rv.GetSchemaname() == "" || rv.GetSchemaname() == c.schema) {
		return nil
	}
	name := rv.GetRelname()
	if rv.GetSchemaname() != "" {
		name = rv.GetSchemaname() + "." + name
	}
	return fmt.Errorf("%w: query may only read from %s, not %s", ErrQueryRejected, c.display, name)
}

func checkFunction(fc *pg_query.FuncCall) error {
	parts := make([]string, 0, len(fc.GetFuncname()))
	for _, n := range fc.GetFuncname() {
		parts = append(parts, n.GetString_().GetSval())
	}
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[0] != "pg_catalog") || !priceQueryFunctions[parts[len(parts)-1]] {
		return fmt.Errorf("%w: function %s is not allowed", ErrQueryRejected, strings.Join(parts, "."))
	}
	return nil
}
