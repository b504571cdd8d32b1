// Package database defines the narrow metadata-query boundary the cache
// core depends on. Vendor packages (postgres, mysql) implement Executor;
// nothing above this package imports them directly.
package database

import "context"

// Executor is the contract between the schema cache and a database vendor.
// It is intentionally minimal: one bulk listing call, one per-table
// describe call, and a vendor descriptor. Anything vendor-specific stays
// behind the adapter that implements it.
type Executor interface {
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close()

	// ListTables returns every user-defined table in the effective
	// schema, in alphabetical order. This is the only bulk call; it runs
	// at cold build and rebuild.
	ListTables(ctx context.Context) ([]RawTable, error)

	// DescribeTable returns the raw column, constraint, and index rows
	// for one table. Returns an error with kind not_found when the table
	// does not exist.
	DescribeTable(ctx context.Context, table string) (*RawTableDetail, error)

	// VendorInfo returns the vendor descriptor. Never cached by the core.
	VendorInfo(ctx context.Context) (*VendorInfo, error)
}

// RawTable is one row of the bulk table listing.
type RawTable struct {
	Name  string
	Owner string
	Type  string // BASE TABLE, VIEW, ...
}

// RawColumn is one column row as the vendor reports it.
type RawColumn struct {
	Name     string
	DataType string
	Nullable bool
	Default  *string // nil when the column has no default
	Comment  string
}

// RawForeignKey is one foreign-key constraint. Columns and RefColumns are
// position-ordered and always the same length.
type RawForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
}

// RawIndex is one index with its position-ordered columns.
type RawIndex struct {
	Name    string
	Columns []string
	Unique  bool
}

// RawTableDetail bundles everything DescribeTable fetches for one table.
type RawTableDetail struct {
	Name        string
	Columns     []RawColumn
	PrimaryKey  []string
	ForeignKeys []RawForeignKey
	Indexes     []RawIndex
	RowEstimate *int64 // nil when the vendor offers no estimate
}

// VendorInfo identifies the backing database.
type VendorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Schema  string `json:"schema"` // effective schema/owner being introspected
}
