package orders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
)

func TestWildberriesFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/orders/new" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"orders":[{"id":12345,"orderUid":"u1","article":"test-article-001","price":1500},{"id":7,"article":"b"}]}`))
	}))
	defer srv.Close()

	wb, err := NewWildberries(config.OrdersConfig{APIURL: srv.URL + "/", Token: "tok"})
	if err != nil {
		t.Fatalf("NewWildberries() error = %v", err)
	}

	orders, err := wb.FetchNewOrders(context.Background())
	if err != nil {
		t.Fatalf("FetchNewOrders() error = %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "12345" || orders[0].Article != "test-article-001" || orders[1].ID != "7" {
		t.Fatalf("orders = %+v", orders)
	}

	bad, _ := NewWildberries(config.OrdersConfig{APIURL: srv.URL, Token: "wrong"})
	if _, err := bad.FetchNewOrders(context.Background()); !errors.Is(err, core.ErrMissingCredentials) {
		t.Fatalf("unauthorized error = %v, want ErrMissingCredentials", err)
	}
}

func TestWildberriesMissingToken(t *testing.T) {
	_, err := NewWildberries(config.OrdersConfig{APIURL: "http://example.invalid"})
	if !core.IsConfigError(err) || !errors.Is(err, core.ErrMissingCredentials) {
		t.Fatalf("NewWildberries() error = %v, want ConfigError{ErrMissingCredentials}", err)
	}
}

type staticSource []core.Order

func (s staticSource) FetchNewOrders(ctx context.Context) ([]core.Order, error) {
	return s, nil
}

func writeLabel(t *testing.T, root, article string) string {
	t.Helper()
	dir := filepath.Join(root, article)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngest(t *testing.T) {
	root := t.TempDir()
	labelA := writeLabel(t, root, "art-a")
	writeLabel(t, root, "art-c")

	urgent := -5
	source := staticSource{
		{ID: "1", Article: "art-a"},
		{ID: "2", Article: "art-missing"},
		{ID: "3", Article: "art-c", Priority: &urgent},
		{ID: "4"},
		{ID: "1", Article: "art-a"},
	}

	store := core.NewMemoryJobStore()
	projector := core.NewProjector(nil, 0, nil)
	defer projector.Close()

	in := NewIngestor(source, store, projector, config.OrdersConfig{FilesRoot: root, DefaultPriority: 2}, nil)

	res, err := in.Ingest(context.Background())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Fetched != 5 || len(res.Enqueued) != 2 || res.Skipped != 2 || res.Known != 1 {
		t.Fatalf("result = %+v", res)
	}

	active, _ := store.ListActive(context.Background())
	if len(active) != 2 {
		t.Fatalf("active = %+v", active)
	}
	if active[0].OrderID != "3" || active[0].Priority != -5 {
		t.Fatalf("first job = %+v, want order 3 at priority -5", active[0])
	}
	if active[1].OrderID != "1" || active[1].Priority != 2 || active[1].FilePath != labelA {
		t.Fatalf("second job = %+v", active[1])
	}

	if e, ok := projector.Status("1"); !ok || e.Status != core.StatusQueued {
		t.Fatalf("projector status = %+v, %v", e, ok)
	}

	// A second pass sees every order as known.
	res, err = in.Ingest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Enqueued) != 0 || res.Known != 3 {
		t.Fatalf("second pass = %+v", res)
	}
}

func TestIngestWithoutSource(t *testing.T) {
	in := NewIngestor(nil, core.NewMemoryJobStore(), nil, config.OrdersConfig{}, nil)
	if _, err := in.Ingest(context.Background()); !core.IsConfigError(err) {
		t.Fatalf("Ingest() error = %v, want ConfigError", err)
	}
}
