package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jbvcollective/Kozi-sub000/utils"
)

type recordedServer struct {
	mu       sync.Mutex
	queries  []string
	handler  func(w http.ResponseWriter, r *http.Request, n int)
	authSeen string
}

func newRecordedServer(t *testing.T, h func(w http.ResponseWriter, r *http.Request, n int)) (*httptest.Server, *recordedServer) {
	t.Helper()
	rs := &recordedServer{handler: h}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.queries = append(rs.queries, r.URL.RawQuery)
		rs.authSeen = r.Header.Get("Authorization")
		n := len(rs.queries)
		rs.mu.Unlock()
		rs.handler(w, r, n)
	}))
	t.Cleanup(srv.Close)
	return srv, rs
}

func newTestClient(srv *httptest.Server, retries int) *Client {
	return New(Options{
		Name:        "test",
		PropertyURL: srv.URL + "/odata/Property",
		Token:       "secret",
		Retries5xx:  retries,
		RetryBase:   time.Millisecond,
	}, utils.NewDiscardLogger())
}

func TestFetchPageSendsODataQuery(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		fmt.Fprint(w, `{"value":[{"ListingKey":"A1","ListPrice":1},{"ListingKey":"","ListPrice":2},{"ListPrice":3},{"ListingKey":"A2"}]}`)
	})
	c := newTestClient(srv, 0)

	pg, err := c.FetchPage(context.Background(), 40, 20, true)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	recs := pg.Records
	if pg.RawCount != 4 {
		t.Errorf("RawCount should include records without a key: got %d", pg.RawCount)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records with identity, got %d", len(recs))
	}
	if c.Identity(recs[1]) != "A2" {
		t.Errorf("second record identity: got %q", c.Identity(recs[1]))
	}

	q := rs.queries[0]
	for _, want := range []string{"$top=20", "$skip=40", "$orderby=ModificationTimestamp%20desc", "$select=ListingKey"} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %q", q, want)
		}
	}
	if rs.authSeen != "Bearer secret" {
		t.Errorf("Authorization: got %q", rs.authSeen)
	}
}

func TestFetchPageFallbackLadder(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if strings.Contains(r.URL.RawQuery, "$orderby") || strings.Contains(r.URL.RawQuery, "$select") {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported"}`)
			return
		}
		fmt.Fprint(w, `{"value":[{"ListingKey":"A1"}]}`)
	})
	c := newTestClient(srv, 0)

	pg, err := c.FetchPage(context.Background(), 0, 10, true)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(pg.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(pg.Records))
	}
	if len(rs.queries) != 3 {
		t.Fatalf("expected 3 attempts, got %d: %v", len(rs.queries), rs.queries)
	}
	if !strings.Contains(rs.queries[1], "$select") || strings.Contains(rs.queries[1], "$orderby") {
		t.Errorf("second attempt should drop only the ordering: %q", rs.queries[1])
	}
	if strings.Contains(rs.queries[2], "$select") {
		t.Errorf("third attempt should drop the field selection: %q", rs.queries[2])
	}
}

func TestFetchPageLadderExhausted(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad query")
	})
	c := newTestClient(srv, 0)

	_, err := c.FetchPage(context.Background(), 0, 10, false)
	if KindOf(err) != KindSchema || StatusOf(err) != 400 {
		t.Fatalf("expected schema error, got %v", err)
	}
	if len(rs.queries) != 2 {
		t.Errorf("without ordering the ladder has 2 rungs, got %d attempts", len(rs.queries))
	}
}

func TestFetchPageRetries5xx(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"value":[{"ListingKey":"V1"}]}`)
	})
	c := newTestClient(srv, 3)

	pg, err := c.FetchPage(context.Background(), 0, 10, true)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(pg.Records) != 1 || len(rs.queries) != 3 {
		t.Errorf("got %d records after %d attempts", len(pg.Records), len(rs.queries))
	}
}

func TestFetchPageFatalStatusFailsImmediately(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "token expired")
	})
	c := newTestClient(srv, 3)

	_, err := c.FetchPage(context.Background(), 0, 10, true)
	if KindOf(err) != KindFatal {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "token expired") {
		t.Errorf("error should carry the body: %v", err)
	}
	if len(rs.queries) != 1 {
		t.Errorf("401 must not be retried, got %d attempts", len(rs.queries))
	}
}

func TestFetchPage5xxExhausted(t *testing.T) {
	srv, rs := newRecordedServer(t, func(w http.ResponseWriter, r *http.Request, n int) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(srv, 2)

	_, err := c.FetchPage(context.Background(), 0, 10, true)
	if KindOf(err) != KindTransient || StatusOf(err) != http.StatusBadGateway {
		t.Fatalf("expected transient 502, got %v", err)
	}
	if len(rs.queries) != 3 {
		t.Errorf("expected 1+2 attempts, got %d", len(rs.queries))
	}
}

func TestNewLeavesSharedHTTPClientAlone(t *testing.T) {
	shared := &http.Client{Timeout: 5 * time.Second}
	c := New(Options{Name: "test", HTTPClient: shared, Timeout: time.Minute}, utils.NewDiscardLogger())

	if shared.Timeout != 5*time.Second {
		t.Errorf("caller's client timeout changed to %v", shared.Timeout)
	}
	if c.http == shared || c.http.Timeout != time.Minute {
		t.Errorf("client should use its own copy with the clamped timeout, got %v", c.http.Timeout)
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct{ in, want time.Duration }{
		{0, DefaultTimeout},
		{time.Second, MinTimeout},
		{time.Hour, MaxTimeout},
		{45 * time.Second, 45 * time.Second},
	}
	for _, tt := range tests {
		if got := ClampTimeout(tt.in); got != tt.want {
			t.Errorf("ClampTimeout(%v) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	got := buildURL("https://h/odata/Property?$filter=x", [][2]string{{"$top", "5"}, {"$orderby", "A desc"}})
	want := "https://h/odata/Property?$filter=x&$top=5&$orderby=A%20desc"
	if got != want {
		t.Errorf("buildURL: got %q, want %q", got, want)
	}
}
