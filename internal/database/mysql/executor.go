// Package mysql implements database.Executor for MySQL / MariaDB on top
// of database/sql, reading information_schema.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/dbcontext-go/dbcontext/internal/config"
	"github.com/dbcontext-go/dbcontext/internal/database"
	"github.com/dbcontext-go/dbcontext/internal/errs"
)

// Executor is a MySQL implementation of database.Executor.
// It is safe for concurrent use by multiple goroutines.
type Executor struct {
	db    *sql.DB
	owner string // schema searched for tables; DATABASE() when empty
}

// New opens a MySQL connection pool using the provided config and returns
// an Executor. It pings before returning so a bad DSN fails fast.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Executor, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	e := &Executor{db: db, owner: cfg.Owner}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := e.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// Ping verifies the database is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool.
func (e *Executor) Close() {
	_ = e.db.Close()
}

// schemaExpr returns the SQL expression and args selecting the effective
// schema. MySQL scopes introspection to the connected database unless an
// owner override is configured.
func (e *Executor) schemaExpr() (string, []any) {
	if e.owner != "" {
		return "?", []any{e.owner}
	}
	return "DATABASE()", nil
}

// ListTables returns all base tables in the effective schema.
func (e *Executor) ListTables(ctx context.Context) ([]database.RawTable, error) {
	schema, args := e.schemaExpr()
	q := fmt.Sprintf(`
		SELECT table_name, table_schema, table_type
		FROM information_schema.tables
		WHERE table_schema = %s
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`, schema)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []database.RawTable
	for rows.Next() {
		var t database.RawTable
		if err := rows.Scan(&t.Name, &t.Owner, &t.Type); err != nil {
			return nil, mapError(err, "failed to scan table row")
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating tables")
	}
	return tables, nil
}

// DescribeTable fetches columns, keys, and indexes for one table.
func (e *Executor) DescribeTable(ctx context.Context, table string) (*database.RawTableDetail, error) {
	name, estimate, err := e.resolveTable(ctx, table)
	if err != nil {
		return nil, err
	}

	columns, pks, err := e.fetchColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	fks, err := e.fetchForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}
	indexes, err := e.fetchIndexes(ctx, name)
	if err != nil {
		return nil, err
	}

	return &database.RawTableDetail{
		Name:        name,
		Columns:     columns,
		PrimaryKey:  pks,
		ForeignKeys: fks,
		Indexes:     indexes,
		RowEstimate: estimate,
	}, nil
}

// VendorInfo reports server version and the effective schema.
func (e *Executor) VendorInfo(ctx context.Context) (*database.VendorInfo, error) {
	var version, schema string
	err := e.db.QueryRowContext(ctx, `SELECT VERSION(), COALESCE(DATABASE(), '')`).Scan(&version, &schema)
	if err != nil {
		return nil, mapError(err, "failed to read server version")
	}
	if e.owner != "" {
		schema = e.owner
	}
	return &database.VendorInfo{
		Name:    "MySQL",
		Version: version,
		Schema:  schema,
	}, nil
}

// resolveTable checks existence (case-insensitively, as MySQL table name
// comparison usually is) and grabs the stored name plus the planner's row
// estimate in one round trip.
func (e *Executor) resolveTable(ctx context.Context, table string) (string, *int64, error) {
	schema, args := e.schemaExpr()
	q := fmt.Sprintf(`
		SELECT table_name, table_rows
		FROM information_schema.tables
		WHERE table_schema = %s
		  AND table_type   = 'BASE TABLE'
		  AND LOWER(table_name) = LOWER(?)`, schema)
	args = append(args, table)

	var name string
	var rowsEstimate sql.NullInt64
	err := e.db.QueryRowContext(ctx, q, args...).Scan(&name, &rowsEstimate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, errs.Newf(errs.ErrKindNotFound, "table %s not found", table)
		}
		return "", nil, mapError(err, "failed to resolve table name")
	}

	var estimate *int64
	if rowsEstimate.Valid {
		estimate = &rowsEstimate.Int64
	}
	return name, estimate, nil
}

func (e *Executor) fetchColumns(ctx context.Context, table string) ([]database.RawColumn, []string, error) {
	schema, args := e.schemaExpr()
	q := fmt.Sprintf(`
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default,
		       column_comment,
		       column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = %s
		  AND table_name   = ?
		ORDER BY ordinal_position`, schema)
	args = append(args, table)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []database.RawColumn
	var pks []string
	for rows.Next() {
		var c database.RawColumn
		var isPK bool
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &c.Comment, &isPK); err != nil {
			return nil, nil, mapError(err, "failed to scan column row")
		}
		if isPK {
			pks = append(pks, c.Name)
		}
		cols = append(cols, c)
	}
	return cols, pks, rows.Err()
}

func (e *Executor) fetchForeignKeys(ctx context.Context, table string) ([]database.RawForeignKey, error) {
	schema, args := e.schemaExpr()
	q := fmt.Sprintf(`
		SELECT constraint_name,
		       column_name,
		       referenced_table_name,
		       referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = %s
		  AND table_name   = ?
		  AND referenced_table_name IS NOT NULL
		ORDER BY constraint_name, ordinal_position`, schema)
	args = append(args, table)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "failed to fetch foreign keys")
	}
	defer rows.Close()

	var fks []database.RawForeignKey
	byName := map[string]int{}
	for rows.Next() {
		var name, col, refTable, refCol string
		if err := rows.Scan(&name, &col, &refTable, &refCol); err != nil {
			return nil, mapError(err, "failed to scan foreign key row")
		}
		i, ok := byName[name]
		if !ok {
			fks = append(fks, database.RawForeignKey{Name: name, RefTable: refTable})
			i = len(fks) - 1
			byName[name] = i
		}
		fks[i].Columns = append(fks[i].Columns, col)
		fks[i].RefColumns = append(fks[i].RefColumns, refCol)
	}
	return fks, rows.Err()
}

func (e *Executor) fetchIndexes(ctx context.Context, table string) ([]database.RawIndex, error) {
	schema, args := e.schemaExpr()
	q := fmt.Sprintf(`
		SELECT index_name,
		       non_unique = 0,
		       column_name
		FROM information_schema.statistics
		WHERE table_schema = %s
		  AND table_name   = ?
		ORDER BY index_name, seq_in_index`, schema)
	args = append(args, table)

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapError(err, "failed to fetch indexes")
	}
	defer rows.Close()

	var indexes []database.RawIndex
	byName := map[string]int{}
	for rows.Next() {
		var name, col string
		var unique bool
		if err := rows.Scan(&name, &unique, &col); err != nil {
			return nil, mapError(err, "failed to scan index row")
		}
		i, ok := byName[name]
		if !ok {
			indexes = append(indexes, database.RawIndex{Name: name, Unique: unique})
			i = len(indexes) - 1
			byName[name] = i
		}
		indexes[i].Columns = append(indexes[i].Columns, col)
	}
	return indexes, rows.Err()
}

// mapError translates driver native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		kind := errs.ErrKindQueryFailed
		switch myErr.Number {
		case 1044, 1045: // access denied
			kind = errs.ErrKindConnectionFailed
		case 1146: // table doesn't exist
			kind = errs.ErrKindNotFound
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, myErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
