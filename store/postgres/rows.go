package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/schema"
)

// Compile-time interface check.
var _ rowguard.RowStore = (*Store)(nil)

// The row store acts with service authority: by the time a statement runs
// here the engine has already evaluated the request in process, and
// ownership resolution must see every committed row regardless of who is
// asking. Writers that do not go through rowguard get no such assertion
// and stay subject to the installed policies.

// SetPrincipal asserts the principal's id and role on the transaction, so
// statements the application runs itself are filtered by the installed
// policies as that principal. The settings are transaction-local and
// vanish at commit or rollback.
func SetPrincipal(ctx context.Context, tx pgx.Tx, p rowguard.Principal) error {
	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, policy.SettingPrincipalID, p.ID); err != nil {
		return fmt.Errorf("rowguard: set principal id: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, policy.SettingRole, string(p.Role)); err != nil {
		return fmt.Errorf("rowguard: set principal role: %w", err)
	}
	return nil
}

func setServiceRole(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, policy.SettingRole, policy.ServiceRole)
	if err != nil {
		return fmt.Errorf("rowguard: set service role: %w", err)
	}
	return nil
}

// execAsService runs one statement in a transaction carrying the service
// role setting and returns the affected row count.
func (s *Store) execAsService(ctx context.Context, query string, args ...any) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on error is intentional

	if err := setServiceRole(ctx, tx); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// keyColumn resolves the column that identifies a row of the resource,
// from the stored binding when one exists.
func (s *Store) keyColumn(ctx context.Context, resource string) (string, error) {
	var col string
	err := s.pool.QueryRow(ctx,
		`SELECT key_column FROM rowguard_bindings WHERE resource = $1`, resource).Scan(&col)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.DefaultKeyColumn, nil
		}
		return "", fmt.Errorf("rowguard: key column for %q: %w", resource, err)
	}
	if col == "" {
		return schema.DefaultKeyColumn, nil
	}
	return col, nil
}

// GetRow reads one committed row as a column map, (nil, nil) when no such
// row exists. Identifiers come from declared bindings and are quoted; the
// key value travels as a bind parameter.
func (s *Store) GetRow(ctx context.Context, resource, key string) (rowguard.Row, error) {
	col, err := s.keyColumn(ctx, resource)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowguard: get row: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on error is intentional

	if err := setServiceRole(ctx, tx); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1`, quoteIdent(resource), quoteIdent(col)), key)
	if err != nil {
		return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
		}
		return nil, nil
	}
	fields := rows.FieldDescriptions()
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
	}
	row := make(rowguard.Row, len(fields))
	for i, fd := range fields {
		row[fd.Name] = values[i]
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: get row %s/%s: %w", resource, key, err)
	}
	return row, nil
}

func (s *Store) InsertRow(ctx context.Context, resource string, row rowguard.Row) error {
	cols := sortedColumns(row)
	if len(cols) == 0 {
		return fmt.Errorf("rowguard: insert row into %q: no columns", resource)
	}

	quoted := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(resource), strings.Join(quoted, ", "), strings.Join(holders, ", "))

	if _, err := s.execAsService(ctx, query, args...); err != nil {
		return fmt.Errorf("rowguard: insert row into %q: %w", resource, err)
	}
	return nil
}

func (s *Store) UpdateRow(ctx context.Context, resource, key string, row rowguard.Row) error {
	cols := sortedColumns(row)
	if len(cols) == 0 {
		return fmt.Errorf("rowguard: update row %s/%s: no columns", resource, key)
	}
	keyCol, err := s.keyColumn(ctx, resource)
	if err != nil {
		return err
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdent(c), i+1)
		args = append(args, row[c])
	}
	args = append(args, key)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d`,
		quoteIdent(resource), strings.Join(sets, ", "), quoteIdent(keyCol), len(cols)+1)

	if _, err := s.execAsService(ctx, query, args...); err != nil {
		return fmt.Errorf("rowguard: update row %s/%s: %w", resource, key, err)
	}
	return nil
}

func (s *Store) DeleteRow(ctx context.Context, resource, key string) error {
	keyCol, err := s.keyColumn(ctx, resource)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, quoteIdent(resource), quoteIdent(keyCol))
	if _, err := s.execAsService(ctx, query, key); err != nil {
		return fmt.Errorf("rowguard: delete row %s/%s: %w", resource, key, err)
	}
	return nil
}

func sortedColumns(row rowguard.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// quoteIdent double-quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
