// Package postgres implements database.Executor for PostgreSQL on top of
// pgxpool, reading information_schema and the pg_catalog.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbcontext-go/dbcontext/internal/config"
	"github.com/dbcontext-go/dbcontext/internal/database"
	"github.com/dbcontext-go/dbcontext/internal/errs"
)

// Executor is a PostgreSQL implementation of database.Executor.
// It is safe for concurrent use by multiple goroutines.
type Executor struct {
	pool  *pgxpool.Pool
	owner string // schema searched for tables, default "public"
}

// New connects to PostgreSQL using the provided config and returns an
// Executor. It pings before returning so a bad DSN fails fast.
func New(ctx context.Context, cfg *config.DatabaseConfig) (*Executor, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	owner := cfg.Owner
	if owner == "" {
		owner = "public"
	}

	e := &Executor{pool: pool, owner: owner}
	if err := e.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return e, nil
}

// Ping verifies the database is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool.
func (e *Executor) Close() {
	e.pool.Close()
}

// ListTables returns all user-defined tables in the configured schema.
func (e *Executor) ListTables(ctx context.Context) ([]database.RawTable, error) {
	const q = `
		SELECT table_name, table_schema, table_type
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := e.pool.Query(ctx, q, e.owner)
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
// The lookup is case-insensitive; the stored name is returned.
func (e *Executor) DescribeTable(ctx context.Context, table string) (*database.RawTableDetail, error) {
	name, err := e.resolveName(ctx, table)
	if err != nil {
		return nil, err
	}

	columns, err := e.fetchColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	pks, err := e.fetchPrimaryKey(ctx, name)
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
	estimate, err := e.fetchRowEstimate(ctx, name)
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
	var version string
	if err := e.pool.QueryRow(ctx, `SHOW server_version`).Scan(&version); err != nil {
		return nil, mapError(err, "failed to read server version")
	}
	return &database.VendorInfo{
		Name:    "PostgreSQL",
		Version: version,
		Schema:  e.owner,
	}, nil
}

// resolveName maps a caller-supplied table name to the stored name,
// ignoring case. Unknown tables yield a not_found error.
func (e *Executor) resolveName(ctx context.Context, table string) (string, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type   = 'BASE TABLE'
		  AND lower(table_name) = lower($2)`

	var name string
	err := e.pool.QueryRow(ctx, q, e.owner, table).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.Newf(errs.ErrKindNotFound, "table %s not found in schema %s", table, e.owner)
		}
		return "", mapError(err, "failed to resolve table name")
	}
	return name, nil
}

func (e *Executor) fetchColumns(ctx context.Context, table string) ([]database.RawColumn, error) {
	const q = `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       c.column_default,
		       COALESCE(d.description, '')
		FROM information_schema.columns c
		LEFT JOIN pg_catalog.pg_statio_all_tables st
		  ON st.schemaname = c.table_schema AND st.relname = c.table_name
		LEFT JOIN pg_catalog.pg_description d
		  ON d.objoid = st.relid AND d.objsubid = c.ordinal_position
		WHERE c.table_schema = $1
		  AND c.table_name   = $2
		ORDER BY c.ordinal_position`

	rows, err := e.pool.Query(ctx, q, e.owner, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []database.RawColumn
	for rows.Next() {
		var c database.RawColumn
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable, &c.Default, &c.Comment); err != nil {
			return nil, mapError(err, "failed to scan column row")
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (e *Executor) fetchPrimaryKey(ctx context.Context, table string) ([]string, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2
		ORDER BY kcu.ordinal_position`

	rows, err := e.pool.Query(ctx, q, e.owner, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch primary key")
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, mapError(err, "failed to scan primary key column")
		}
		pks = append(pks, col)
	}
	return pks, rows.Err()
}

// fetchForeignKeys groups key_column_usage rows by constraint so a
// composite foreign key comes back as one RawForeignKey with ordered
// column lists.
func (e *Executor) fetchForeignKeys(ctx context.Context, table string) ([]database.RawForeignKey, error) {
	const q = `
		SELECT tc.constraint_name,
		       kcu.column_name,
		       ccu.table_name  AS ref_table,
		       ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema    = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema    = $1
		  AND tc.table_name      = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`

	rows, err := e.pool.Query(ctx, q, e.owner, table)
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
	const q = `
		SELECT i.relname,
		       ix.indisunique,
		       a.attname
		FROM pg_catalog.pg_class t
		JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_catalog.pg_index ix   ON t.oid = ix.indrelid
		JOIN pg_catalog.pg_class i    ON i.oid = ix.indexrelid
		JOIN pg_catalog.pg_attribute a
		  ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE n.nspname = $1
		  AND t.relname = $2
		ORDER BY i.relname, array_position(ix.indkey, a.attnum)`

	rows, err := e.pool.Query(ctx, q, e.owner, table)
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

// fetchRowEstimate reads the planner's row estimate. Cheap, but stale
// until the next ANALYZE, which is why it lives in the statistics TTL class.
func (e *Executor) fetchRowEstimate(ctx context.Context, table string) (*int64, error) {
	const q = `
		SELECT reltuples::bigint
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2`

	var estimate int64
	err := e.pool.QueryRow(ctx, q, e.owner, table).Scan(&estimate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "failed to fetch row estimate")
	}
	if estimate < 0 { // never analyzed
		return nil, nil
	}
	return &estimate, nil
}

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		// Class 08 — connection exceptions
		if strings.HasPrefix(pgErr.Code, "08") {
			kind = errs.ErrKindConnectionFailed
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
