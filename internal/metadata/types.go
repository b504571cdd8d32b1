// Package metadata implements the schema metadata cache: an eager index
// of table names, lazily resolved per-table detail with TTL-based
// freshness, a derived foreign-key relationship index, and the manager
// facade the tool-dispatch layer consumes.
package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/dbcontext-go/dbcontext/internal/database"
)

// Normalize maps a caller-supplied table name to the canonical cache key.
// Keys are case-folded upper so lookups match regardless of how the
// client or the vendor spells the name.
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// TTLClass selects which expiry schedule a cached entry follows.
type TTLClass string

const (
	// ClassStructure covers structural metadata: columns, keys, indexes.
	// These change rarely, so the TTL is long.
	ClassStructure TTLClass = "structure"

	// ClassStatistics covers entries carrying volatile data such as row
	// estimates, which drift constantly; the TTL is short.
	ClassStatistics TTLClass = "statistics"
)

// TTLPolicy maps each class to its time-to-live.
type TTLPolicy struct {
	Structure  time.Duration
	Statistics time.Duration
}

// DefaultTTLPolicy mirrors production defaults: structure an hour,
// statistics half of that.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Structure: time.Hour, Statistics: 30 * time.Minute}
}

// For returns the TTL for class, falling back to the structure schedule
// for unknown classes so a snapshot from a newer build still expires.
func (p TTLPolicy) For(class TTLClass) time.Duration {
	if class == ClassStatistics {
		return p.Statistics
	}
	return p.Structure
}

// TableMeta is the lightweight per-table record held by the TableIndex.
// Name preserves the vendor's stored spelling; the index key is the
// normalized form.
type TableMeta struct {
	Name  string `json:"name"`
	Owner string `json:"owner,omitempty"`
	Type  string `json:"type,omitempty"`
}

// ColumnSpec describes one column of a table.
type ColumnSpec struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
	Comment  string  `json:"comment,omitempty"`
}

// ForeignKeySpec describes one (possibly composite) foreign key.
// Columns and RefColumns are position-ordered and the same length.
type ForeignKeySpec struct {
	Name       string   `json:"name,omitempty"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table"`
	RefColumns []string `json:"ref_columns"`
}

// IndexSpec describes one index with position-ordered columns.
type IndexSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableDetail is the fully resolved record for one table.
type TableDetail struct {
	Name        string           `json:"name"` // normalized
	Columns     []ColumnSpec     `json:"columns"`
	PrimaryKey  []string         `json:"primary_key"`
	ForeignKeys []ForeignKeySpec `json:"foreign_keys"`
	Indexes     []IndexSpec      `json:"indexes"`
	RowEstimate *int64           `json:"row_estimate,omitempty"`

	TTLClass      TTLClass  `json:"ttl_class"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// Age returns how long ago the detail was refreshed.
func (d *TableDetail) Age(now time.Time) time.Duration {
	return now.Sub(d.LastRefreshed)
}

// Expired reports whether the entry is past its TTL under policy.
func (d *TableDetail) Expired(policy TTLPolicy, now time.Time) bool {
	return d.Age(now) > policy.For(d.TTLClass)
}

// detailFromRaw assembles a TableDetail from executor rows and stamps its
// freshness. An entry carrying a row estimate follows the statistics
// schedule, since its most volatile member governs when it must be
// re-fetched.
func detailFromRaw(raw *database.RawTableDetail, now time.Time) *TableDetail {
	d := &TableDetail{
		Name:          Normalize(raw.Name),
		Columns:       make([]ColumnSpec, 0, len(raw.Columns)),
		PrimaryKey:    append([]string(nil), raw.PrimaryKey...),
		ForeignKeys:   make([]ForeignKeySpec, 0, len(raw.ForeignKeys)),
		Indexes:       make([]IndexSpec, 0, len(raw.Indexes)),
		RowEstimate:   raw.RowEstimate,
		TTLClass:      ClassStructure,
		LastRefreshed: now,
	}
	if raw.RowEstimate != nil {
		d.TTLClass = ClassStatistics
	}

	for _, c := range raw.Columns {
		d.Columns = append(d.Columns, ColumnSpec{
			Name:     c.Name,
			DataType: c.DataType,
			Nullable: c.Nullable,
			Default:  c.Default,
			Comment:  c.Comment,
		})
	}
	for _, fk := range raw.ForeignKeys {
		d.ForeignKeys = append(d.ForeignKeys, ForeignKeySpec{
			Name:       fk.Name,
			Columns:    append([]string(nil), fk.Columns...),
			RefTable:   Normalize(fk.RefTable),
			RefColumns: append([]string(nil), fk.RefColumns...),
		})
	}
	for _, ix := range raw.Indexes {
		d.Indexes = append(d.Indexes, IndexSpec{
			Name:    ix.Name,
			Columns: append([]string(nil), ix.Columns...),
			Unique:  ix.Unique,
		})
	}
	return d
}

// ColumnPair links a local column to its referenced counterpart.
type ColumnPair struct {
	Local   string `json:"local"`
	Foreign string `json:"foreign"`
}

// RelationshipEdge is one deduplicated foreign-key edge between two
// tables, with its position-ordered column pairs.
type RelationshipEdge struct {
	From    string       `json:"from"`
	To      string       `json:"to"`
	Columns []ColumnPair `json:"columns"`
}

// CacheStats is a point-in-time snapshot of cache counters, not a live
// handle.
type CacheStats struct {
	Hits             int64  `json:"hits"`
	Misses           int64  `json:"misses"`
	Evictions        int64  `json:"evictions"`
	CachedTableCount int    `json:"cached_table_count"`
	TotalTableCount  int    `json:"total_table_count"`
	Generation       uint64 `json:"generation"`
}

// Snapshot is the point-in-time cache state handed to a SnapshotStore.
// It always represents one complete generation.
type Snapshot struct {
	Generation  uint64
	GeneratedAt time.Time
	Tables      []TableMeta
	Details     []*TableDetail
	Edges       []RelationshipEdge
}

// SnapshotStore persists and restores cache snapshots. Implementations
// must make saves atomic: a crash mid-write never corrupts the durable
// copy.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}
