package loadtest

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/models"
)

var fixtureEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Fixture answers the statements built by the repository package with
// generated rows, so the harness and the server can run against the
// simulator without a database.
type Fixture struct {
	listRows int
	nextID   atomic.Int64
}

// NewFixture creates a fixture returning up to listRows rows per listing
func NewFixture(listRows int) *Fixture {
	if listRows < 1 {
		listRows = 1
	}
	return &Fixture{listRows: listRows}
}

// Respond implements sim.Responder
func (f *Fixture) Respond(_ context.Context, call sim.Call) (*sim.Result, error) {
	stmt := strings.TrimSpace(call.Statement)

	switch {
	case sim.IsStatement(stmt, "SELECT COUNT("):
		return &sim.Result{Columns: []string{"count"}, Rows: [][]interface{}{{int64(f.listRows)}}}, nil

	case sim.IsStatement(stmt, "SELECT") && strings.Contains(stmt, " GROUP BY "):
		return f.aggregate(stmt), nil

	case sim.IsStatement(stmt, "SELECT"):
		if call.Kind == sim.CallExec {
			return &sim.Result{}, nil
		}
		table, cols, err := parseSelect(stmt)
		if err != nil {
			return nil, err
		}
		n := f.listRows
		if strings.Contains(stmt, "WHERE id =") || strings.HasSuffix(stmt, "LIMIT 1") {
			n = 1
		} else if limit, ok := listLimit(stmt, call.Args); ok && limit < n {
			n = limit
		}
		var filter map[string]interface{}
		if col := wordAfter(stmt, " WHERE "); col != "" && col != "id" && len(call.Args) > 0 {
			filter = map[string]interface{}{col: call.Args[0]}
		}
		res := &sim.Result{Columns: cols}
		for i := 0; i < n; i++ {
			id := int64(i + 1)
			if n == 1 {
				if v, ok := lastInt(call.Args); ok && strings.Contains(stmt, "WHERE id =") {
					id = v
				}
			}
			res.Rows = append(res.Rows, f.row(table, cols, id, filter))
		}
		return res, nil

	case sim.IsStatement(stmt, "INSERT INTO"):
		id := f.nextID.Add(1)
		if call.Kind == sim.CallExec {
			return &sim.Result{RowsAffected: 1, LastInsertID: id}, nil
		}
		table, names := parseInsert(stmt)
		given := make(map[string]interface{}, len(names))
		for i, name := range names {
			if i < len(call.Args) {
				given[name] = call.Args[i]
			}
		}
		cols := returningColumns(stmt)
		return &sim.Result{Columns: cols, Rows: [][]interface{}{f.row(table, cols, id, given)}, RowsAffected: 1}, nil

	case sim.IsStatement(stmt, "UPDATE"):
		id, _ := lastInt(call.Args)
		if call.Kind == sim.CallExec {
			return &sim.Result{RowsAffected: 1}, nil
		}
		table := models.Tables[wordAfter(stmt, "UPDATE ")]
		cols := returningColumns(stmt)
		return &sim.Result{Columns: cols, Rows: [][]interface{}{f.row(table, cols, id, nil)}, RowsAffected: 1}, nil

	case sim.IsStatement(stmt, "DELETE"):
		return &sim.Result{RowsAffected: 1}, nil
	}

	return nil, errors.Newf(errors.ErrorTypeQuery, "fixture cannot answer %q", stmt)
}

// aggregate answers a grouped SELECT with one row per generated group.
// Aggregate columns are small positive integers.
func (f *Fixture) aggregate(stmt string) *sim.Result {
	from := strings.Index(stmt, " FROM ")
	if from < 0 {
		from = len(stmt)
	}
	items := splitList(stmt[len("SELECT "):from])
	group := wordAfter(stmt, " GROUP BY ")
	res := &sim.Result{Columns: make([]string, len(items))}
	for i, item := range items {
		if j := strings.LastIndex(item, " AS "); j >= 0 {
			item = item[j+len(" AS "):]
		}
		res.Columns[i] = item
	}
	groups := f.listRows
	if groups > 3 {
		groups = 3
	}
	for g := 1; g <= groups; g++ {
		row := make([]interface{}, len(res.Columns))
		for i, name := range res.Columns {
			if name == group {
				row[i] = name + "-" + strconv.Itoa(g)
			} else {
				row[i] = int64(g * 10)
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func (f *Fixture) row(table *models.Table, cols []string, id int64, given map[string]interface{}) []interface{} {
	out := make([]interface{}, len(cols))
	for i, name := range cols {
		if v, ok := given[name]; ok {
			out[i] = v
			continue
		}
		col, _ := table.Column(name)
		out[i] = fixtureValue(col, id)
	}
	return out
}

func fixtureValue(col models.Column, id int64) interface{} {
	if col.Name == "id" {
		return id
	}
	switch col.Kind {
	case models.KindInt:
		return id%10 + 1
	case models.KindFloat:
		return float64(id) * 1.5
	case models.KindBool:
		return id%2 == 1
	case models.KindTime:
		return fixtureEpoch.Add(time.Duration(id) * time.Minute)
	case models.KindJSON:
		return "{}"
	default:
		if d, ok := col.Default.(string); ok {
			return d
		}
		return col.Name + "-" + strconv.FormatInt(id, 10)
	}
}

func parseSelect(stmt string) (*models.Table, []string, error) {
	from := strings.Index(stmt, " FROM ")
	if from < 0 {
		return nil, nil, errors.Newf(errors.ErrorTypeQuery, "fixture cannot parse %q", stmt)
	}
	table, ok := models.Tables[wordAfter(stmt, " FROM ")]
	if !ok {
		return nil, nil, errors.Newf(errors.ErrorTypeQuery, "fixture has no table for %q", stmt)
	}
	return table, splitList(stmt[len("SELECT "):from]), nil
}

func parseInsert(stmt string) (*models.Table, []string) {
	table := models.Tables[wordAfter(stmt, "INSERT INTO ")]
	open := strings.Index(stmt, "(")
	closing := strings.Index(stmt, ")")
	if open < 0 || closing < open {
		return table, nil
	}
	return table, splitList(stmt[open+1 : closing])
}

func returningColumns(stmt string) []string {
	i := strings.Index(stmt, " RETURNING ")
	if i < 0 {
		return nil
	}
	return splitList(stmt[i+len(" RETURNING "):])
}

func wordAfter(stmt, prefix string) string {
	i := strings.Index(stmt, prefix)
	if i < 0 {
		return ""
	}
	rest := stmt[i+len(prefix):]
	if j := strings.IndexAny(rest, " ("); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// listLimit reads the LIMIT argument of a paginated listing, which the
// repository always binds second to last
func listLimit(stmt string, args []interface{}) (int, bool) {
	if !strings.Contains(stmt, " LIMIT ") || len(args) < 2 {
		return 0, false
	}
	limit, ok := args[len(args)-2].(int)
	return limit, ok
}

func lastInt(args []interface{}) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	v, err := models.Int64(args[len(args)-1])
	return v, err == nil
}
