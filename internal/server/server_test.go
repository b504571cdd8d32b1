package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbcontext-go/dbcontext/internal/database"
	"github.com/dbcontext-go/dbcontext/internal/errs"
	"github.com/dbcontext-go/dbcontext/internal/logger"
	"github.com/dbcontext-go/dbcontext/internal/metadata"
)

// stubExecutor serves a small fixed schema.
type stubExecutor struct {
	pingErr error
}

func (e *stubExecutor) Ping(ctx context.Context) error { return e.pingErr }
func (e *stubExecutor) Close()                         {}

func (e *stubExecutor) ListTables(ctx context.Context) ([]database.RawTable, error) {
	return []database.RawTable{
		{Name: "CUSTOMERS", Owner: "APP", Type: "BASE TABLE"},
		{Name: "CUSTOMER_ORDERS", Owner: "APP", Type: "BASE TABLE"},
		{Name: "EMPLOYEES", Owner: "APP", Type: "BASE TABLE"},
	}, nil
}

func (e *stubExecutor) DescribeTable(ctx context.Context, table string) (*database.RawTableDetail, error) {
	switch table {
	case "CUSTOMERS":
		return &database.RawTableDetail{
			Name:       "CUSTOMERS",
			Columns:    []database.RawColumn{{Name: "customer_id", DataType: "integer"}},
			PrimaryKey: []string{"customer_id"},
		}, nil
	case "CUSTOMER_ORDERS":
		return &database.RawTableDetail{
			Name: "CUSTOMER_ORDERS",
			Columns: []database.RawColumn{
				{Name: "order_id", DataType: "integer"},
				{Name: "customer_id", DataType: "integer"},
			},
			ForeignKeys: []database.RawForeignKey{
				{
					Name:       "fk_orders_customer",
					Columns:    []string{"customer_id"},
					RefTable:   "CUSTOMERS",
					RefColumns: []string{"customer_id"},
				},
			},
		}, nil
	case "EMPLOYEES":
		return &database.RawTableDetail{
			Name:    "EMPLOYEES",
			Columns: []database.RawColumn{{Name: "emp_id", DataType: "integer"}},
		}, nil
	}
	return nil, errs.Newf(errs.ErrKindNotFound, "table %s not found", table)
}

func (e *stubExecutor) VendorInfo(ctx context.Context) (*database.VendorInfo, error) {
	return &database.VendorInfo{Name: "StubDB", Version: "2.0", Schema: "APP"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubExecutor) {
	t.Helper()
	log := logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
	exec := &stubExecutor{}
	m, err := metadata.NewManager(context.Background(), metadata.Options{
		Executor: exec,
		Logger:   log,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(m, log).Router())
	t.Cleanup(ts.Close)
	return ts, exec
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestGetTable(t *testing.T) {
	ts, _ := newTestServer(t)

	var detail metadata.TableDetail
	status := getJSON(t, ts, "/v1/tables/customers", &detail)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CUSTOMERS", detail.Name)
	require.Len(t, detail.Columns, 1)
	assert.Equal(t, "customer_id", detail.Columns[0].Name)
}

func TestGetTableNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, ts, "/v1/tables/GHOST", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "GHOST")
}

func TestBatchMixedResults(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Tables map[string]struct {
			Detail *metadata.TableDetail `json:"detail"`
			Error  string                `json:"error"`
		} `json:"tables"`
	}
	status := postJSON(t, ts, "/v1/tables/batch", `{"tables":["EMPLOYEES","GHOST"]}`, &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Tables, 2)

	emp := body.Tables["EMPLOYEES"]
	require.NotNil(t, emp.Detail)
	assert.Empty(t, emp.Error)

	ghost := body.Tables["GHOST"]
	assert.Nil(t, ghost.Detail)
	assert.NotEmpty(t, ghost.Error)
}

func TestBatchEchoesCallerSpelling(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Tables map[string]struct {
			Detail *metadata.TableDetail `json:"detail"`
			Error  string                `json:"error"`
		} `json:"tables"`
	}
	status := postJSON(t, ts, "/v1/tables/batch", `{"tables":["employees","EMPLOYEES"]}`, &body)
	assert.Equal(t, http.StatusOK, status)

	// Each requested spelling gets its own entry, keyed as sent.
	require.Contains(t, body.Tables, "employees")
	require.Contains(t, body.Tables, "EMPLOYEES")
	require.NotNil(t, body.Tables["employees"].Detail)
	assert.Equal(t, "EMPLOYEES", body.Tables["employees"].Detail.Name)
}

func TestBatchRejectsEmptyBody(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	status := postJSON(t, ts, "/v1/tables/batch", `{"tables":[]}`, &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSearchTables(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Tables []metadata.TableDetail `json:"tables"`
	}
	status := getJSON(t, ts, "/v1/tables?pattern=CUST%25", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Tables, 2)
	assert.Equal(t, "CUSTOMER_ORDERS", body.Tables[0].Name)
	assert.Equal(t, "CUSTOMERS", body.Tables[1].Name)
}

func TestSearchTablesEmptyPattern(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, ts, "/v1/tables", &body)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSearchColumns(t *testing.T) {
	ts, _ := newTestServer(t)

	// Resolve a table so its columns are searchable.
	var detail metadata.TableDetail
	getJSON(t, ts, "/v1/tables/CUSTOMER_ORDERS", &detail)

	var body struct {
		Columns map[string][]metadata.ColumnSpec `json:"columns"`
	}
	status := getJSON(t, ts, "/v1/columns?pattern=customer_id", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Contains(t, body.Columns, "CUSTOMER_ORDERS")
}

func TestRelated(t *testing.T) {
	ts, _ := newTestServer(t)

	var related metadata.RelatedTables
	status := getJSON(t, ts, "/v1/tables/CUSTOMER_ORDERS/related", &related)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CUSTOMER_ORDERS", related.Table)
	require.Len(t, related.References, 1)
	assert.Equal(t, "CUSTOMERS", related.References[0].To)
}

func TestRebuildAndStats(t *testing.T) {
	ts, _ := newTestServer(t)

	// Warm the cache, then rebuild and observe counters reset.
	var detail metadata.TableDetail
	getJSON(t, ts, "/v1/tables/EMPLOYEES", &detail)

	var stats metadata.CacheStats
	status := getJSON(t, ts, "/v1/cache/stats", &stats)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.CachedTableCount)

	status = postJSON(t, ts, "/v1/cache/rebuild", "", &stats)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, stats.Misses)
	assert.Zero(t, stats.CachedTableCount)
	assert.Equal(t, 3, stats.TotalTableCount)
}

func TestVendor(t *testing.T) {
	ts, _ := newTestServer(t)

	var info database.VendorInfo
	status := getJSON(t, ts, "/v1/vendor", &info)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "StubDB", info.Name)
}

func TestHealthz(t *testing.T) {
	ts, exec := newTestServer(t)

	var body map[string]string
	status := getJSON(t, ts, "/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	exec.pingErr = errs.New(errs.ErrKindConnectionFailed, "db unreachable")
	status = getJSON(t, ts, "/healthz", &body)
	assert.Equal(t, http.StatusBadGateway, status)
}
