package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func employeesDetail() *TableDetail {
	return &TableDetail{
		Name: "EMPLOYEES",
		Columns: []ColumnSpec{
			{Name: "emp_id", DataType: "integer"},
			{Name: "dept_id", DataType: "integer"},
		},
		ForeignKeys: []ForeignKeySpec{
			{
				Name:       "fk_emp_dept",
				Columns:    []string{"dept_id"},
				RefTable:   "DEPARTMENTS",
				RefColumns: []string{"dept_id"},
			},
		},
		LastRefreshed: time.Now(),
	}
}

func TestRelationshipIndex_ForwardAndReverse(t *testing.T) {
	ri := NewRelationshipIndex()
	ri.AddDetail(employeesDetail())

	refs := ri.References("EMPLOYEES")
	require.Len(t, refs, 1)
	assert.Equal(t, "DEPARTMENTS", refs[0].To)
	assert.Equal(t, []ColumnPair{{Local: "dept_id", Foreign: "dept_id"}}, refs[0].Columns)

	refBy := ri.ReferencedBy("DEPARTMENTS")
	require.Len(t, refBy, 1)
	assert.Equal(t, "EMPLOYEES", refBy[0].From)

	// Re-resolving the same table must not duplicate edges.
	ri.AddDetail(employeesDetail())
	assert.Len(t, ri.References("EMPLOYEES"), 1)
	assert.Len(t, ri.Edges(), 1)
}

func TestRelationshipIndex_CompositeKeyIsOneEdge(t *testing.T) {
	ri := NewRelationshipIndex()
	ri.AddDetail(&TableDetail{
		Name: "ORDER_LINES",
		ForeignKeys: []ForeignKeySpec{
			{
				Columns:    []string{"order_id", "line_no"},
				RefTable:   "orders",
				RefColumns: []string{"id", "line_no"},
			},
		},
	})

	refs := ri.References("ORDER_LINES")
	require.Len(t, refs, 1)
	assert.Equal(t, "ORDERS", refs[0].To)
	assert.Equal(t, []ColumnPair{
		{Local: "order_id", Foreign: "id"},
		{Local: "line_no", Foreign: "line_no"},
	}, refs[0].Columns)
}

func TestRelationshipIndex_StableOrder(t *testing.T) {
	ri := NewRelationshipIndex()
	ri.Insert(RelationshipEdge{From: "C", To: "TARGET", Columns: []ColumnPair{{Local: "x", Foreign: "x"}}})
	ri.Insert(RelationshipEdge{From: "A", To: "TARGET", Columns: []ColumnPair{{Local: "x", Foreign: "x"}}})
	ri.Insert(RelationshipEdge{From: "B", To: "TARGET", Columns: []ColumnPair{{Local: "x", Foreign: "x"}}})

	var sources []string
	for _, e := range ri.ReferencedBy("TARGET") {
		sources = append(sources, e.From)
	}
	assert.Equal(t, []string{"A", "B", "C"}, sources)
}

func TestDetailCache_TTLStates(t *testing.T) {
	dc := NewDetailCache()
	policy := TTLPolicy{Structure: time.Hour, Statistics: 30 * time.Minute}
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	_, state := dc.Get("EMPLOYEES", policy, base)
	assert.Equal(t, EntryMissing, state)

	d := employeesDetail()
	d.LastRefreshed = base
	d.TTLClass = ClassStructure
	dc.Put(d)

	got, state := dc.Get("employees", policy, base.Add(59*time.Minute))
	assert.Equal(t, EntryFresh, state)
	assert.Equal(t, d, got)

	// Past its TTL the entry is still returned, but flagged expired.
	got, state = dc.Get("EMPLOYEES", policy, base.Add(61*time.Minute))
	assert.Equal(t, EntryExpired, state)
	assert.NotNil(t, got)

	assert.Equal(t, 1, dc.Len())
	assert.Equal(t, 0, dc.FreshCount(policy, base.Add(61*time.Minute)))
}

func TestDetailCache_StatisticsClassExpiresSooner(t *testing.T) {
	dc := NewDetailCache()
	policy := TTLPolicy{Structure: time.Hour, Statistics: 30 * time.Minute}
	base := time.Now()

	rows := int64(1200)
	d := &TableDetail{Name: "ORDERS", RowEstimate: &rows, TTLClass: ClassStatistics, LastRefreshed: base}
	dc.Put(d)

	_, state := dc.Get("ORDERS", policy, base.Add(29*time.Minute))
	assert.Equal(t, EntryFresh, state)

	_, state = dc.Get("ORDERS", policy, base.Add(31*time.Minute))
	assert.Equal(t, EntryExpired, state)
}
