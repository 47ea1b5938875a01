package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/loansync/internal/api"
	"github.com/hyperengineering/loansync/internal/store"
	"github.com/hyperengineering/loansync/internal/syncer"
	"github.com/hyperengineering/loansync/internal/upstream"
	"github.com/hyperengineering/loansync/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const testAPIKey = "e2e-secret"

// cmsRecord is one upstream application row.
type cmsRecord struct {
	ID         int64
	UpdateTime time.Time
	Fields     map[string]any
}

// fakeCMS emulates the CMS data API: update_time__gte filter,
// (update_time, id) ordering and page/limit pagination.
type fakeCMS struct {
	mu       sync.Mutex
	records  map[int64]cmsRecord
	requests []string
	gate     chan struct{} // when set, each request blocks until it is closed
}

func newFakeCMS() *fakeCMS {
	return &fakeCMS{records: map[int64]cmsRecord{}}
}

func (c *fakeCMS) put(id int64, updated time.Time, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = cmsRecord{ID: id, UpdateTime: updated.UTC(), Fields: fields}
}

func (c *fakeCMS) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeCMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.requests = append(c.requests, r.URL.RequestURI())
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	var filter map[string]string
	if err := json.Unmarshal([]byte(q.Get("filter")), &filter); err != nil {
		http.Error(w, "bad filter", http.StatusBadRequest)
		return
	}
	since, err := time.Parse(time.RFC3339Nano, filter["update_time__gte"])
	if err != nil {
		http.Error(w, "bad since", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	var match []cmsRecord
	for _, rec := range c.records {
		if !rec.UpdateTime.Before(since) {
			match = append(match, rec)
		}
	}
	c.mu.Unlock()
	sort.Slice(match, func(i, j int) bool {
		if !match[i].UpdateTime.Equal(match[j].UpdateTime) {
			return match[i].UpdateTime.Before(match[j].UpdateTime)
		}
		return match[i].ID < match[j].ID
	})

	rows := []map[string]any{}
	start := (page - 1) * limit
	for i := start; i >= 0 && i < len(match) && i < start+limit; i++ {
		row := map[string]any{"id": match[i].ID, "update_time": match[i].UpdateTime.Format(time.RFC3339Nano)}
		for k, v := range match[i].Fields {
			row[k] = v
		}
		rows = append(rows, row)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"rows": rows})
}

// env is a running loansync server wired to a fake CMS.
type env struct {
	cms    *fakeCMS
	store  store.Store
	server *httptest.Server
	client *client.Client
}

// setupEnv starts an in-process server over a temp SQLite mirror.
func setupEnv(t *testing.T, pageSize int) *env {
	t.Helper()

	cms := newFakeCMS()
	cmsServer := httptest.NewServer(cms)
	t.Cleanup(cmsServer.Close)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "loansync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	orch := syncer.NewOrchestrator(
		syncer.DefaultTargets("Application"),
		upstream.NewClient(upstream.NewResolver("", cmsServer.URL), 10*time.Second),
		s,
		syncer.NewLeaseManager(s, 5*time.Minute, time.Now),
		syncer.NewCursorStore(s, time.Now),
		syncer.NewMetrics(reg),
		syncer.Options{PageSize: pageSize, ResyncWindow: 10 * 365 * 24 * time.Hour},
	)

	router := api.NewRouter(api.NewHandler(s, orch, testAPIKey, "e2e"), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &env{
		cms:    cms,
		store:  s,
		server: server,
		client: client.New(server.URL, testAPIKey),
	}
}

func application(code string, status int) map[string]any {
	return map[string]any{
		"code":        code,
		"status":      status,
		"fullname":    fmt.Sprintf("Customer %s", code),
		"loan_amount": "10000000",
		"create_time": "2025-05-01T00:00:00Z",
	}
}
