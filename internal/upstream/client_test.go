package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedResolver(url string) Resolver {
	return Resolver{EnvVar: "TEST_UPSTREAM", lookup: func(string) string { return url }}
}

func TestFetchPage_RequestShape(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows": []}`))
	}))
	defer srv.Close()

	c := NewClient(fixedResolver(srv.URL+"/"), time.Second)
	since := time.Date(2025, 6, 1, 7, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	page, err := c.FetchPage(context.Background(), Query{
		Collection: "Application",
		Values:     []string{"id", "code", "update_time"},
		Since:      since,
		Page:       3,
		Limit:      500,
	})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if page.Len() != 0 {
		t.Errorf("Len = %d, want 0", page.Len())
	}

	if got.Method != http.MethodGet {
		t.Errorf("method = %s", got.Method)
	}
	if got.URL.Path != "/data/Application/" {
		t.Errorf("path = %s, want /data/Application/", got.URL.Path)
	}
	q := got.URL.Query()
	checks := map[string]string{
		"page":   "3",
		"limit":  "500",
		"sort":   "update_time,id",
		"values": "id,code,update_time",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, q.Get(k), want)
		}
	}
	var filter map[string]string
	if err := json.Unmarshal([]byte(q.Get("filter")), &filter); err != nil {
		t.Fatalf("filter is not JSON: %v", err)
	}
	if filter["update_time__gte"] != "2025-06-01T00:00:00.000000Z" {
		t.Errorf("update_time__gte = %q", filter["update_time__gte"])
	}
}

func TestFetchPage_DecodesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows": [
			{"id": 42, "update_time": "2025-06-01T00:00:00Z", "loan_amount": 1000.25},
			{"id": 43, "update_time": "2025-06-01T00:00:01Z"}
		]}`))
	}))
	defer srv.Close()

	page, err := NewClient(fixedResolver(srv.URL), time.Second).
		FetchPage(context.Background(), Query{Collection: "Application", Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	recs := page.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[1].ID != 43 || !recs[1].UpdateTime.Equal(time.Date(2025, 6, 1, 0, 0, 1, 0, time.UTC)) {
		t.Errorf("second record = %+v", recs[1])
	}
	if n, ok := recs[0].Fields["loan_amount"].(json.Number); !ok || n.String() != "1000.25" {
		t.Errorf("loan_amount should stay a json.Number, got %#v", recs[0].Fields["loan_amount"])
	}
}

func TestFetchPage_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(fixedResolver(srv.URL), time.Second).
		FetchPage(context.Background(), Query{Collection: "Application", Page: 1, Limit: 10})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway || statusErr.Body != "boom" {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestFetchPage_RejectsUnsortedPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows": [
			{"id": 43, "update_time": "2025-06-01T00:00:01Z"},
			{"id": 42, "update_time": "2025-06-01T00:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	_, err := NewClient(fixedResolver(srv.URL), time.Second).
		FetchPage(context.Background(), Query{Collection: "Application", Page: 1, Limit: 10})
	if !errors.Is(err, ErrUnsortedPage) {
		t.Fatalf("err = %v, want ErrUnsortedPage", err)
	}
}

func TestFetchPage_MalformedRows(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"rows": [{"update_time": "2025-06-01T00:00:00Z"}]}`},
		{"fractional id", `{"rows": [{"id": 4.5, "update_time": "2025-06-01T00:00:00Z"}]}`},
		{"missing update_time", `{"rows": [{"id": 1}]}`},
		{"bad update_time", `{"rows": [{"id": 1, "update_time": "soon"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(fixedResolver(srv.URL), time.Second).
				FetchPage(context.Background(), Query{Collection: "Application", Page: 1, Limit: 10})
			if !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("err = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestFetchPage_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	_, err := NewClient(fixedResolver(srv.URL), time.Second).
		FetchPage(context.Background(), Query{Collection: "Application", Page: 1, Limit: 10})
	if err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestFetchPage_NotConfigured(t *testing.T) {
	c := NewClient(fixedResolver(""), time.Second)
	if err := c.Ready(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Ready() = %v, want ErrNotConfigured", err)
	}
	_, err := c.FetchPage(context.Background(), Query{Collection: "Application"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("FetchPage err = %v, want ErrNotConfigured", err)
	}
}

func TestFetchPage_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rows": []}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(fixedResolver(srv.URL), time.Second).
		FetchPage(ctx, Query{Collection: "Application", Page: 1, Limit: 10})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
