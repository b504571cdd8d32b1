package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newIndex(gen uint64, names ...string) *TableIndex {
	ix := NewTableIndex(gen)
	for _, n := range names {
		ix.Add(TableMeta{Name: n})
	}
	return ix
}

func TestTableIndex_Search(t *testing.T) {
	ix := newIndex(1, "CUSTOMERS", "CUSTOMER_ORDERS", "PRODUCTS")

	tests := []struct {
		name    string
		pattern string
		limit   int
		want    []string
	}{
		{
			name:    "percent wildcard, alphabetical order",
			pattern: "CUST%",
			want:    []string{"CUSTOMER_ORDERS", "CUSTOMERS"},
		},
		{
			name:    "star wildcard",
			pattern: "*ORDERS",
			want:    []string{"CUSTOMER_ORDERS"},
		},
		{
			name:    "case insensitive",
			pattern: "cust%",
			want:    []string{"CUSTOMER_ORDERS", "CUSTOMERS"},
		},
		{
			name:    "no wildcard matches substring",
			pattern: "ODU",
			want:    []string{"PRODUCTS"},
		},
		{
			name:    "limit respected",
			pattern: "%",
			limit:   2,
			want:    []string{"CUSTOMER_ORDERS", "CUSTOMERS"},
		},
		{
			name:    "interior wildcard",
			pattern: "C%ORDERS",
			want:    []string{"CUSTOMER_ORDERS"},
		},
		{
			name:    "no match",
			pattern: "EMP%",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ix.Search(tt.pattern, tt.limit))
		})
	}
}

func TestTableIndex_AppendOnlyGrowth(t *testing.T) {
	ix := newIndex(3, "EMPLOYEES")
	assert.Equal(t, uint64(3), ix.Generation())
	assert.Equal(t, 1, ix.Len())

	// Discovery mid-generation appends.
	ix.Add(TableMeta{Name: "new_table", Owner: "app"})
	assert.Equal(t, 2, ix.Len())
	assert.True(t, ix.Has("NEW_TABLE"))

	// Re-adding refreshes attributes without growing the set.
	ix.Add(TableMeta{Name: "employees", Owner: "hr"})
	assert.Equal(t, 2, ix.Len())
	meta, ok := ix.Meta("EMPLOYEES")
	assert.True(t, ok)
	assert.Equal(t, "hr", meta.Owner)
}

func TestTableIndex_LookupIsCaseInsensitive(t *testing.T) {
	ix := newIndex(1, "Invoices")

	assert.True(t, ix.Has("INVOICES"))
	assert.True(t, ix.Has("invoices"))
	meta, ok := ix.Meta(" invoices ")
	assert.True(t, ok)
	assert.Equal(t, "Invoices", meta.Name) // stored spelling preserved
}

func TestGlobMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"CUST*", "CUSTOMERS", true},
		{"CUST*", "PRODUCTS", false},
		{"*", "ANYTHING", true},
		{"A*B*C", "AXXBYYC", true},
		{"A*B*C", "AXXBYY", false},
		{"EXACT", "EXACT", true},
		{"EXACT", "EXACTLY", false},
		{"**S", "ORDERS", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, globMatch(tt.pattern, tt.s), "globMatch(%q, %q)", tt.pattern, tt.s)
	}
}
