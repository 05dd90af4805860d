package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"shelfkeeper/internal/metrics"
	"shelfkeeper/pkg/datasource"
	"shelfkeeper/pkg/domain"
	"shelfkeeper/pkg/query"
	"shelfkeeper/pkg/store"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.Change
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, change domain.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Resource+":"+string(c.Op))
	}
	return out
}

func newTestServer(t *testing.T, pub *recordingPublisher) *httptest.Server {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, rec := range []domain.Record{
		{"id": 1, "name": "Dune", "authorId": 1, "pages": 412},
		{"id": 2, "name": "Emma", "authorId": 2, "pages": 474},
		{"id": 3, "name": "Dubliners", "authorId": 3, "pages": 152},
	} {
		if _, err := st.Create(ctx, domain.ResourceBooks, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	srv, err := New(Config{Store: st, Publisher: pub, DefaultPageSize: 2, Metrics: metrics.New("catalog")})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func request(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestListFiltersSortsAndPages(t *testing.T) {
	ts := newTestServer(t, &recordingPublisher{})

	resp := request(t, http.MethodGet, ts.URL+"/books?_sort=name&_order=desc&_page=1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Total-Count"); got != "3" {
		t.Fatalf("X-Total-Count = %q", got)
	}
	var page []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page) != 2 || page[0]["name"] != "Emma" || page[1]["name"] != "Dune" {
		t.Fatalf("unexpected page %v", page)
	}

	resp = request(t, http.MethodGet, ts.URL+"/books?authorId=3", "")
	page = nil
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page) != 1 || page[0]["name"] != "Dubliners" {
		t.Fatalf("filtered = %v", page)
	}

	resp = request(t, http.MethodGet, ts.URL+"/stores", "")
	page = nil
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil || len(page) != 0 {
		t.Fatalf("unknown collection = %v, %v", page, err)
	}
}

func TestWritesPublishChanges(t *testing.T) {
	pub := &recordingPublisher{}
	ts := newTestServer(t, pub)

	resp := request(t, http.MethodPost, ts.URL+"/books", `{"name":"Ulysses","authorId":3,"pages":730}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created["id"] != float64(4) {
		t.Fatalf("expected id 4, got %v", created["id"])
	}

	if resp := request(t, http.MethodPost, ts.URL+"/books", `{"id":2,"name":"Again"}`); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d", resp.StatusCode)
	}
	if resp := request(t, http.MethodPatch, ts.URL+"/books/4", `{"pages":732}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	if resp := request(t, http.MethodPut, ts.URL+"/books/4", `{"name":"Ulysses","pages":733}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	if resp := request(t, http.MethodDelete, ts.URL+"/books/4", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := request(t, http.MethodGet, ts.URL+"/books/4", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", resp.StatusCode)
	}

	want := []string{"books:create", "books:update", "books:update", "books:delete"}
	got := pub.ops()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("published %v, want %v", got, want)
	}
	if at := pub.changes[0].At; !at.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("change time = %v", at)
	}
}

func TestPublishFailureKeepsWrite(t *testing.T) {
	ts := newTestServer(t, &recordingPublisher{err: errors.New("broker down")})
	if resp := request(t, http.MethodDelete, ts.URL+"/books/1", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := request(t, http.MethodGet, ts.URL+"/books/1", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("record should be gone, status = %d", resp.StatusCode)
	}
}

func TestRejectsMalformedRequests(t *testing.T) {
	ts := newTestServer(t, &recordingPublisher{})
	cases := []struct {
		name, method, path, body string
		status                   int
	}{
		{"bad json", http.MethodPost, "/books", `{`, http.StatusBadRequest},
		{"array body", http.MethodPost, "/books", `[]`, http.StatusBadRequest},
		{"bad id", http.MethodPost, "/books", `{"id":-4}`, http.StatusBadRequest},
		{"nested path", http.MethodGet, "/books/1/extra", "", http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/books/abc", "", http.StatusNotFound},
		{"missing record", http.MethodPatch, "/books/99", `{"pages":1}`, http.StatusNotFound},
		{"method", http.MethodPost, "/books/1", `{}`, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := request(t, tc.method, ts.URL+tc.path, tc.body); resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestRESTSourceAgainstCatalog(t *testing.T) {
	ts := newTestServer(t, &recordingPublisher{})
	src := datasource.NewRESTSource(ts.URL, 2*time.Second)
	ctx := context.Background()

	records, err := src.List(ctx, domain.ResourceBooks, query.Query{Text: "du"})
	if err != nil || len(records) != 2 {
		t.Fatalf("list = %v, %v", records, err)
	}
	entry := domain.Record{"id": 1, "storeId": 5, "bookId": 2, "price": 19.99}
	if _, err := src.Create(ctx, domain.ResourceInventory, entry); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = src.Create(ctx, domain.ResourceInventory, entry)
	var apiErr *datasource.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("duplicate create err = %v", err)
	}
	if err := src.Delete(ctx, domain.ResourceInventory, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestMetricsCountAcceptedWrites(t *testing.T) {
	ts := newTestServer(t, &recordingPublisher{})
	request(t, http.MethodPost, ts.URL+"/books", `{"name":"Ulysses"}`)
	request(t, http.MethodPost, ts.URL+"/books", `{"id":1,"name":"Again"}`)
	request(t, http.MethodDelete, ts.URL+"/books/2", "")

	resp := request(t, http.MethodGet, ts.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		`shelfkeeper_collection_changes_total{op="create",resource="books",service="catalog"} 1`,
		`shelfkeeper_collection_changes_total{op="delete",resource="books",service="catalog"} 1`,
		`shelfkeeper_http_requests_total{method="POST",service="catalog",status="409"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in scrape:\n%s", want, body)
		}
	}
}
