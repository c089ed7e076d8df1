// Package pgconn is the relational-store connector over database/sql.
// Row mutations capture their pre-image inside the same transaction
// that performs the write, so rollback never has to consult the
// database for state that other writers may have changed since.
//
// DDL is not exposed: schema changes have no safe inverse and are
// refused at this layer regardless of policy.
package pgconn

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

const systemName = "postgres"

// identPattern restricts table and column names to plain identifiers;
// values always travel through placeholders.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Connector exposes insert_row, update_row, delete_row, restore_rows,
// and select_rows over a *sql.DB (lib/pq in production, sqlmock in
// tests).
type Connector struct {
	db    *sql.DB
	allow connector.Allowlist
}

// New returns a postgres connector over db.
func New(db *sql.DB, allow connector.Allowlist) *Connector {
	return &Connector{db: db, allow: allow}
}

func (c *Connector) Name() string { return systemName }

// Invoke dispatches a named operation after the allowlist check.
func (c *Connector) Invoke(ctx context.Context, action string, args map[string]any) (contracts.ActionResult, error) {
	if err := c.allow.Check(systemName, action); err != nil {
		return contracts.ActionResult{}, err
	}
	table := connector.StringArg(args, "table")
	if !identPattern.MatchString(table) {
		return connector.Failed(systemName, action, fmt.Sprintf("invalid table name %q", table)), nil
	}
	switch action {
	case "insert_row":
		return c.insertRow(ctx, table, args), nil
	case "update_row":
		return c.updateRow(ctx, table, args), nil
	case "delete_row":
		return c.deleteRow(ctx, table, args), nil
	case "restore_rows":
		return c.restoreRows(ctx, table, args), nil
	case "select_rows":
		return c.selectRows(ctx, table, args), nil
	default:
		return contracts.ActionResult{}, fmt.Errorf("postgres: unknown operation %q", action)
	}
}

func (c *Connector) insertRow(ctx context.Context, table string, args map[string]any) contracts.ActionResult {
	row := mapArg(args, "row")
	if len(row) == 0 {
		return connector.Failed(systemName, "insert_row", "row argument required")
	}
	// Identity for the duplicate check and the inverse delete: the
	// caller-named key columns, or every column when none are named.
	identity := identityOf(row, args)
	if err := validateColumns(identity); err != nil {
		return connector.Failed(systemName, "insert_row", err.Error())
	}
	if err := validateColumns(row); err != nil {
		return connector.Failed(systemName, "insert_row", err.Error())
	}
	rollback := map[string]any{"table": table, "where": identity}

	whereSQL, whereVals := whereClause(identity, 1)
	var exists int
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", table, whereSQL), whereVals...).Scan(&exists)
	if err != nil {
		return connector.Failed(systemName, "insert_row", err.Error())
	}
	if exists > 0 {
		return connector.OK(systemName, "insert_row",
			connector.Already(map[string]any{"table": table}, "inserted"), rollback)
	}

	cols := sortedKeys(row)
	placeholders := make([]string, len(cols))
	vals := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		vals[i] = row[col]
	}
	_, err = c.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
		vals...)
	if err != nil {
		return connector.Failed(systemName, "insert_row", err.Error())
	}
	return connector.OK(systemName, "insert_row",
		connector.Fresh(map[string]any{"table": table, "inserted": 1}), rollback)
}

func (c *Connector) updateRow(ctx context.Context, table string, args map[string]any) contracts.ActionResult {
	set := mapArg(args, "set")
	where := mapArg(args, "where")
	if len(set) == 0 || len(where) == 0 {
		return connector.Failed(systemName, "update_row", "set and where arguments required")
	}
	if err := validateColumns(set); err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}
	if err := validateColumns(where); err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	whereSQL, whereVals := whereClause(where, 1)
	preImage, err := queryRows(ctx, tx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s", table, whereSQL), whereVals...)
	if err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}
	if len(preImage) == 0 {
		return connector.Failed(systemName, "update_row", "no rows match predicate")
	}
	// The inverse deletes against post-update state, where the predicate
	// columns carry the SET values rather than the matched ones. The
	// original where alone would miss every row it updated whenever a
	// SET column participates in the predicate.
	postWhere := make(map[string]any, len(where)+len(set))
	for k, v := range where {
		postWhere[k] = v
	}
	for k, v := range set {
		postWhere[k] = v
	}
	rollback := map[string]any{"table": table, "rows": preImage, "where": postWhere}

	if allRowsMatch(preImage, set) {
		// Commit releases the read locks; nothing was written.
		if err := tx.Commit(); err != nil {
			return connector.Failed(systemName, "update_row", err.Error())
		}
		return connector.OK(systemName, "update_row",
			connector.Already(map[string]any{"table": table, "rows": len(preImage)}, "updated"), rollback)
	}

	setCols := sortedKeys(set)
	assignments := make([]string, len(setCols))
	vals := make([]any, 0, len(setCols)+len(whereVals))
	for i, col := range setCols {
		assignments[i] = fmt.Sprintf("%s = $%d", col, i+1)
		vals = append(vals, set[col])
	}
	whereSQL, whereVals = whereClause(where, len(setCols)+1)
	vals = append(vals, whereVals...)

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(assignments, ", "), whereSQL), vals...)
	if err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}
	updated, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return connector.Failed(systemName, "update_row", err.Error())
	}
	return connector.OK(systemName, "update_row",
		connector.Fresh(map[string]any{"table": table, "updated": updated}), rollback)
}

func (c *Connector) deleteRow(ctx context.Context, table string, args map[string]any) contracts.ActionResult {
	where := mapArg(args, "where")
	if len(where) == 0 {
		return connector.Failed(systemName, "delete_row", "where argument required")
	}
	if err := validateColumns(where); err != nil {
		return connector.Failed(systemName, "delete_row", err.Error())
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return connector.Failed(systemName, "delete_row", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	whereSQL, whereVals := whereClause(where, 1)
	preImage, err := queryRows(ctx, tx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s", table, whereSQL), whereVals...)
	if err != nil {
		return connector.Failed(systemName, "delete_row", err.Error())
	}
	if len(preImage) == 0 {
		if err := tx.Commit(); err != nil {
			return connector.Failed(systemName, "delete_row", err.Error())
		}
		return connector.OK(systemName, "delete_row",
			connector.Already(map[string]any{"table": table}, "deleted"),
			map[string]any{"table": table, "rows": []map[string]any{}})
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s", table, whereSQL), whereVals...)
	if err != nil {
		return connector.Failed(systemName, "delete_row", err.Error())
	}
	deleted, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return connector.Failed(systemName, "delete_row", err.Error())
	}
	return connector.OK(systemName, "delete_row",
		connector.Fresh(map[string]any{"table": table, "deleted": deleted}),
		map[string]any{"table": table, "rows": preImage})
}

// restoreRows reinstates captured pre-image rows. With a "where"
// argument it first deletes the rows the predicate currently matches
// (the update_row inverse); without one it only re-inserts (the
// delete_row inverse). One transaction either way.
func (c *Connector) restoreRows(ctx context.Context, table string, args map[string]any) contracts.ActionResult {
	rows := rowsArg(args, "rows")
	where := mapArg(args, "where")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return connector.Failed(systemName, "restore_rows", err.Error())
	}
	defer func() { _ = tx.Rollback() }()

	if len(where) > 0 {
		if err := validateColumns(where); err != nil {
			return connector.Failed(systemName, "restore_rows", err.Error())
		}
		whereSQL, whereVals := whereClause(where, 1)
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s", table, whereSQL), whereVals...); err != nil {
			return connector.Failed(systemName, "restore_rows", err.Error())
		}
	}

	restored := 0
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if err := validateColumns(row); err != nil {
			return connector.Failed(systemName, "restore_rows", err.Error())
		}
		cols := sortedKeys(row)
		placeholders := make([]string, len(cols))
		vals := make([]any, len(cols))
		for i, col := range cols {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			vals[i] = row[col]
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", ")),
			vals...); err != nil {
			return connector.Failed(systemName, "restore_rows", err.Error())
		}
		restored++
	}
	if err := tx.Commit(); err != nil {
		return connector.Failed(systemName, "restore_rows", err.Error())
	}
	return connector.OK(systemName, "restore_rows",
		connector.Fresh(map[string]any{"table": table, "restored": restored}), map[string]any{})
}

func (c *Connector) selectRows(ctx context.Context, table string, args map[string]any) contracts.ActionResult {
	where := mapArg(args, "where")
	query := fmt.Sprintf("SELECT * FROM %s", table)
	var vals []any
	if len(where) > 0 {
		if err := validateColumns(where); err != nil {
			return connector.Failed(systemName, "select_rows", err.Error())
		}
		whereSQL, whereVals := whereClause(where, 1)
		query += " WHERE " + whereSQL
		vals = whereVals
	}
	rows, err := queryRows(ctx, c.db, query, vals...)
	if err != nil {
		return connector.Failed(systemName, "select_rows", err.Error())
	}
	return connector.OK(systemName, "select_rows",
		map[string]any{"table": table, "rows": rows, "count": len(rows)}, map[string]any{})
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryRows scans arbitrary result sets into generic maps, converting
// []byte values to strings so they survive a JSON round-trip.
func queryRows(ctx context.Context, q querier, query string, args ...any) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func whereClause(where map[string]any, firstPlaceholder int) (string, []any) {
	cols := sortedKeys(where)
	parts := make([]string, len(cols))
	vals := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", col, firstPlaceholder+i)
		vals[i] = where[col]
	}
	return strings.Join(parts, " AND "), vals
}

func identityOf(row map[string]any, args map[string]any) map[string]any {
	keys, _ := args["key"].([]any)
	if len(keys) == 0 {
		return row
	}
	identity := make(map[string]any, len(keys))
	for _, k := range keys {
		if name, ok := k.(string); ok {
			if v, present := row[name]; present {
				identity[name] = v
			}
		}
	}
	if len(identity) == 0 {
		return row
	}
	return identity
}

func allRowsMatch(rows []map[string]any, set map[string]any) bool {
	for _, row := range rows {
		for col, want := range set {
			if fmt.Sprint(row[col]) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func validateColumns(m map[string]any) error {
	for col := range m {
		if !identPattern.MatchString(col) {
			return fmt.Errorf("invalid column name %q", col)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

// rowsArg tolerates both []map[string]any (fresh) and []any of maps
// (after a receipt JSON round-trip).
func rowsArg(args map[string]any, key string) []map[string]any {
	switch v := args[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
