package metadata

import (
	"sort"
	"strings"
	"sync"
)

// RelationshipIndex is the derived foreign-key graph, built incrementally
// as table details are resolved. Edges are keyed by the full
// (from, to, column-pairs) tuple, so a composite foreign key collapses to
// one edge and re-resolving a table never duplicates its edges.
//
// The index only ever contains edges whose owning table's detail has been
// resolved — never speculative edges for unresolved tables.
type RelationshipIndex struct {
	mu      sync.RWMutex
	forward map[string][]RelationshipEdge // from → edges
	reverse map[string][]RelationshipEdge // to → edges
	seen    map[string]struct{}
}

// NewRelationshipIndex creates an empty index.
func NewRelationshipIndex() *RelationshipIndex {
	return &RelationshipIndex{
		forward: make(map[string][]RelationshipEdge),
		reverse: make(map[string][]RelationshipEdge),
		seen:    make(map[string]struct{}),
	}
}

// AddDetail inserts one edge per foreign key in d, forward under the
// owning table and reverse under the referenced table.
func (ri *RelationshipIndex) AddDetail(d *TableDetail) {
	for _, fk := range d.ForeignKeys {
		pairs := make([]ColumnPair, 0, len(fk.Columns))
		for i, col := range fk.Columns {
			ref := ""
			if i < len(fk.RefColumns) {
				ref = fk.RefColumns[i]
			}
			pairs = append(pairs, ColumnPair{Local: col, Foreign: ref})
		}
		ri.Insert(RelationshipEdge{
			From:    d.Name,
			To:      Normalize(fk.RefTable),
			Columns: pairs,
		})
	}
}

// Insert records edge unless the identical edge is already present.
func (ri *RelationshipIndex) Insert(edge RelationshipEdge) {
	key := edgeKey(edge)

	ri.mu.Lock()
	defer ri.mu.Unlock()

	if _, dup := ri.seen[key]; dup {
		return
	}
	ri.seen[key] = struct{}{}
	ri.forward[edge.From] = append(ri.forward[edge.From], edge)
	ri.reverse[edge.To] = append(ri.reverse[edge.To], edge)
}

// References returns the fan-out: edges from table to the tables it
// references, ordered by target name.
func (ri *RelationshipIndex) References(table string) []RelationshipEdge {
	ri.mu.RLock()
	edges := append([]RelationshipEdge(nil), ri.forward[Normalize(table)]...)
	ri.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edgeKey(edges[i]) < edgeKey(edges[j])
	})
	return edges
}

// ReferencedBy returns the fan-in: edges from tables that reference
// table, ordered by source name.
func (ri *RelationshipIndex) ReferencedBy(table string) []RelationshipEdge {
	ri.mu.RLock()
	edges := append([]RelationshipEdge(nil), ri.reverse[Normalize(table)]...)
	ri.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edgeKey(edges[i]) < edgeKey(edges[j])
	})
	return edges
}

// Edges returns every edge once, ordered by (from, to, columns).
func (ri *RelationshipIndex) Edges() []RelationshipEdge {
	ri.mu.RLock()
	var edges []RelationshipEdge
	for _, list := range ri.forward {
		edges = append(edges, list...)
	}
	ri.mu.RUnlock()

	sort.Slice(edges, func(i, j int) bool {
		return edgeKey(edges[i]) < edgeKey(edges[j])
	})
	return edges
}

// edgeKey is the identity tuple used for deduplication.
func edgeKey(e RelationshipEdge) string {
	var b strings.Builder
	b.WriteString(e.From)
	b.WriteByte('>')
	b.WriteString(e.To)
	for _, p := range e.Columns {
		b.WriteByte('|')
		b.WriteString(p.Local)
		b.WriteByte('=')
		b.WriteString(p.Foreign)
	}
	return b.String()
}
