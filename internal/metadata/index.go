package metadata

import (
	"sort"
	"strings"
	"sync"
)

// TableIndex is the eagerly built, lightweight set of all known table
// names for one generation. It grows by incremental append when new
// tables are discovered and never shrinks within a generation; removal
// happens only through a full rebuild, which replaces the index outright.
type TableIndex struct {
	mu         sync.RWMutex
	generation uint64
	tables     map[string]TableMeta // key: Normalize(name)
}

// NewTableIndex creates an empty index stamped with the given generation.
func NewTableIndex(generation uint64) *TableIndex {
	return &TableIndex{
		generation: generation,
		tables:     make(map[string]TableMeta),
	}
}

// Generation returns the generation stamp assigned at build time.
func (ix *TableIndex) Generation() uint64 {
	return ix.generation
}

// Len returns the number of known tables.
func (ix *TableIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.tables)
}

// Has reports whether the normalized name is known.
func (ix *TableIndex) Has(name string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.tables[Normalize(name)]
	return ok
}

// Meta returns the stored attributes for a table.
func (ix *TableIndex) Meta(name string) (TableMeta, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.tables[Normalize(name)]
	return m, ok
}

// Add records a table. Adding an existing name refreshes its attributes;
// the set itself only ever grows.
func (ix *TableIndex) Add(meta TableMeta) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tables[Normalize(meta.Name)] = meta
}

// Names returns all normalized names in alphabetical order.
func (ix *TableIndex) Names() []string {
	ix.mu.RLock()
	names := make([]string, 0, len(ix.tables))
	for name := range ix.tables {
		names = append(names, name)
	}
	ix.mu.RUnlock()

	sort.Slice(names, func(i, j int) bool { return lessName(names[i], names[j]) })
	return names
}

// lessName orders names on their lowercase form, so separators such as
// `_` sort between letter runs the way humans expect (CUSTOMER_ORDERS
// before CUSTOMERS) instead of after all uppercase letters.
func lessName(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

// All returns the stored metadata for every table, ordered by name.
func (ix *TableIndex) All() []TableMeta {
	ix.mu.RLock()
	metas := make([]TableMeta, 0, len(ix.tables))
	for _, m := range ix.tables {
		metas = append(metas, m)
	}
	ix.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		return lessName(Normalize(metas[i].Name), Normalize(metas[j].Name))
	})
	return metas
}

// Search returns up to limit normalized names matching pattern, in
// alphabetical order. Matching is case-insensitive; `%` and `*` both act
// as multi-character wildcards. A pattern with no wildcard matches as a
// substring, which keeps plain search terms useful.
func (ix *TableIndex) Search(pattern string, limit int) []string {
	pattern = strings.ReplaceAll(Normalize(pattern), "%", "*")

	match := func(name string) bool { return strings.Contains(name, pattern) }
	if strings.Contains(pattern, "*") {
		match = func(name string) bool { return globMatch(pattern, name) }
	}

	var out []string
	for _, name := range ix.Names() {
		if !match(name) {
			continue
		}
		out = append(out, name)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// globMatch reports whether s matches pattern, where `*` matches any run
// of characters (including none). Only `*` is special.
func globMatch(pattern, s string) bool {
	// Iterative backtracking over the single wildcard kind.
	var starIdx, matchIdx = -1, 0
	p, i := 0, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && pattern[p] == '*':
			starIdx, matchIdx = p, i
			p++
		case p < len(pattern) && pattern[p] == s[i]:
			p++
			i++
		case starIdx >= 0:
			matchIdx++
			p = starIdx + 1
			i = matchIdx
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
