package state

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/datamanager/internal/columns"
	"github.com/leapstack-labs/datamanager/internal/filters"
)

// Query selects a page of tasks or annotations of a project.
type Query struct {
	Project     int64
	Conjunction string
	Filters     []filters.Item
	Ordering    []string
	// Page is 1-based. A PageSize of zero or less returns every match.
	Page     int
	PageSize int
}

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// fieldExpr maps a column id to the SQL expression reading it from the
// record JSON, plus the JSON path.
func fieldExpr(columnID string) (expr, path string, err error) {
	_, p := columns.SplitID(columnID)
	if !pathPattern.MatchString(p) {
		return "", "", fmt.Errorf("invalid column %q", columnID)
	}
	path = "$." + p
	if p == "id" {
		return "r.id", path, nil
	}
	return "json_extract(r.data, '" + path + "')", path, nil
}

// buildWhere renders the project constraint and the filters joined by the
// query's conjunction.
func buildWhere(q Query) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	for _, it := range q.Filters {
		expr, path, err := fieldExpr(it.ColumnID())
		if err != nil {
			return "", nil, err
		}
		c, a, err := condition(expr, path, it)
		if err != nil {
			return "", nil, err
		}
		if c == "" {
			continue
		}
		conds = append(conds, c)
		args = append(args, a...)
	}

	where := "r.project_id = ?"
	all := []any{q.Project}
	if len(conds) > 0 {
		join := " AND "
		if strings.EqualFold(q.Conjunction, "or") {
			join = " OR "
		}
		where += " AND (" + strings.Join(conds, join) + ")"
		all = append(all, args...)
	}
	return where, all, nil
}

// buildOrder renders ORDER BY. Ties break on id so paging is stable.
func buildOrder(ordering []string) (string, error) {
	var parts []string
	for _, o := range ordering {
		dir := "ASC"
		if strings.HasPrefix(o, "-") {
			dir = "DESC"
		}
		expr, _, err := fieldExpr(strings.TrimPrefix(o, "-"))
		if err != nil {
			return "", err
		}
		parts = append(parts, expr+" "+dir)
	}
	parts = append(parts, "r.id ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func condition(expr, path string, it filters.Item) (string, []any, error) {
	v := it.Value
	switch it.Operator {
	case filters.OpEmpty:
		cond := fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '' OR %[1]s = '[]')", expr)
		if truthy(v.Scalar) {
			return cond, nil, nil
		}
		return "NOT " + cond, nil, nil
	case filters.OpEqual:
		return expr + " = ?", []any{v.Scalar}, nil
	case filters.OpNotEqual:
		return expr + " IS NOT ?", []any{v.Scalar}, nil
	case filters.OpLess:
		return expr + " < ?", []any{v.Scalar}, nil
	case filters.OpGreater:
		return expr + " > ?", []any{v.Scalar}, nil
	case filters.OpLessOrEqual:
		return expr + " <= ?", []any{v.Scalar}, nil
	case filters.OpGreaterOrEqual:
		return expr + " >= ?", []any{v.Scalar}, nil
	case filters.OpContains, filters.OpSimilarTo:
		if v.Type == filters.ValueList {
			return listMatch(path, v.List, false)
		}
		return fmt.Sprintf("instr(lower(%s), lower(?)) > 0", expr), []any{fmt.Sprint(v.Scalar)}, nil
	case filters.OpNotContains:
		if v.Type == filters.ValueList {
			return listMatch(path, v.List, true)
		}
		return fmt.Sprintf("(%[1]s IS NULL OR instr(lower(%[1]s), lower(?)) = 0)", expr), []any{fmt.Sprint(v.Scalar)}, nil
	case filters.OpRegex:
		return expr + " REGEXP ?", []any{fmt.Sprint(v.Scalar)}, nil
	case filters.OpIn, filters.OpNotIn:
		var (
			parts []string
			args  []any
		)
		if v.Range.Min != nil {
			parts = append(parts, expr+" >= ?")
			args = append(args, v.Range.Min)
		}
		if v.Range.Max != nil {
			parts = append(parts, expr+" <= ?")
			args = append(args, v.Range.Max)
		}
		if len(parts) == 0 {
			return "", nil, nil
		}
		cond := "(" + strings.Join(parts, " AND ") + ")"
		if it.Operator == filters.OpNotIn {
			cond = "NOT " + cond
		}
		return cond, args, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", it.Operator)
	}
}

// listMatch tests whether a JSON array field shares an element with list.
func listMatch(path string, list []any, negate bool) (string, []any, error) {
	if len(list) == 0 {
		return "", nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(list)), ", ")
	cond := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(r.data, '%s') WHERE value IN (%s))", path, marks)
	if negate {
		cond = "NOT " + cond
	}
	return cond, append([]any(nil), list...), nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true"
	default:
		return false
	}
}
