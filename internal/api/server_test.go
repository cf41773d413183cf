package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printq/internal/archive"
	"github.com/orrn/printq/internal/config"
	"github.com/orrn/printq/internal/core"
	"github.com/orrn/printq/internal/orders"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type idleDriver struct{}

func (idleDriver) Submit(ctx context.Context, filePath, printerName string) error { return nil }

func (idleDriver) PrinterStatus(ctx context.Context, printerName string) (core.PrinterStatus, error) {
	return core.PrinterReady, nil
}

func (idleDriver) ActiveJobs(ctx context.Context, printerName string) (int, error) { return 0, nil }

type ordersStub []core.Order

func (s ordersStub) FetchNewOrders(ctx context.Context) ([]core.Order, error) { return s, nil }

type testEnv struct {
	router   *gin.Engine
	store    *core.MemoryJobStore
	registry *core.Registry
	token    string
}

func newTestEnv(t *testing.T, auth config.AuthConfig) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Defaults()
	cfg.Auth = auth

	store := core.NewMemoryJobStore()
	registry := core.NewRegistry(idleDriver{}, nil, &cfg.Printers, nil)
	projector := core.NewProjector(nil, 0, nil)
	t.Cleanup(projector.Close)
	dispatcher := core.NewDispatcher(store, registry, idleDriver{}, projector, &cfg.Dispatcher, nil)
	t.Cleanup(dispatcher.Stop)

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "art"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "art", orders.DefaultFileName), []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}
	ingestor := orders.NewIngestor(ordersStub{{ID: "wb-1", Article: "art"}}, store, projector,
		config.OrdersConfig{FilesRoot: root, DefaultPriority: 1}, nil)

	archiver, err := archive.NewArchiver(store, archive.ArchiveConfig{ArchivePath: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}

	router, err := NewRouter(ctx, cfg, Deps{
		Store:           store,
		Registry:        registry,
		Dispatcher:      dispatcher,
		Projector:       projector,
		Ingestor:        ingestor,
		Archiver:        archiver,
		DefaultPriority: 1,
	}, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	return &testEnv{router: router, store: store, registry: registry}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
}

func TestJobRoutes(t *testing.T) {
	e := newTestEnv(t, config.AuthConfig{})

	w := e.do(http.MethodPost, "/api/jobs", map[string]any{"order_id": "o1", "file_path": "/labels/a.png", "priority": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body)
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	if w := e.do(http.MethodPost, "/api/jobs", map[string]any{"order_id": "o2"}); w.Code != http.StatusBadRequest {
		t.Fatalf("create without file_path status = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/api/jobs", nil)
	var list struct {
		Jobs  []core.Job `json:"jobs"`
		Count int        `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Jobs[0].ID != created.ID || list.Jobs[0].Priority != 3 {
		t.Fatalf("list = %+v", list)
	}

	w = e.do(http.MethodPost, "/api/jobs/"+created.ID+"/restart", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("restart status = %d", w.Code)
	}
	var restarted struct {
		ID string `json:"id"`
	}
	decode(t, w, &restarted)
	if restarted.ID == "" || restarted.ID == created.ID {
		t.Fatalf("restart id = %q", restarted.ID)
	}

	if w := e.do(http.MethodDelete, "/api/jobs/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("delete old id status = %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/api/jobs/"+restarted.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/jobs/missing/restart", nil); w.Code != http.StatusNotFound {
		t.Fatalf("restart missing status = %d", w.Code)
	}

	if w := e.do(http.MethodGet, "/api/jobs/completed", nil); w.Code != http.StatusOK {
		t.Fatalf("completed status = %d", w.Code)
	}
}

func TestPrinterRoutes(t *testing.T) {
	e := newTestEnv(t, config.AuthConfig{})

	w := e.do(http.MethodPost, "/api/printers", map[string]any{"name": "Zebra-1", "address": "10.0.0.5"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body)
	}
	var p core.Printer
	decode(t, w, &p)
	if p.Metadata[core.MetaAddress] != "10.0.0.5" || p.Metadata[core.MetaType] != "thermal" {
		t.Fatalf("printer = %+v", p)
	}

	if w := e.do(http.MethodPost, "/api/printers", map[string]any{"name": "Zebra-1"}); w.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", w.Code)
	}

	w = e.do(http.MethodPost, "/api/printers/Zebra-1/refresh", nil)
	decode(t, w, &p)
	if w.Code != http.StatusOK || p.Status != core.PrinterReady || p.LastCheckedAt == nil {
		t.Fatalf("refresh = %d %+v", w.Code, p)
	}

	if w := e.do(http.MethodDelete, "/api/printers/Zebra-1", nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/api/printers/Zebra-1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/printers/ghost/refresh", nil); w.Code != http.StatusNotFound {
		t.Fatalf("refresh unknown status = %d", w.Code)
	}
}

func TestIngestAndStatus(t *testing.T) {
	e := newTestEnv(t, config.AuthConfig{})

	w := e.do(http.MethodPost, "/api/orders/ingest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d body = %s", w.Code, w.Body)
	}
	var res orders.Result
	decode(t, w, &res)
	if len(res.Enqueued) != 1 {
		t.Fatalf("ingest = %+v", res)
	}

	w = e.do(http.MethodGet, "/api/status", nil)
	var status struct {
		Queue struct {
			Pending int `json:"pending"`
		} `json:"queue"`
		Orders []core.StatusEntry `json:"orders"`
	}
	decode(t, w, &status)
	if status.Queue.Pending != 1 || len(status.Orders) != 1 || status.Orders[0].Status != core.StatusQueued {
		t.Fatalf("status = %+v", status)
	}
}

func TestDispatcherRoutes(t *testing.T) {
	e := newTestEnv(t, config.AuthConfig{})

	var state struct {
		Running bool `json:"running"`
	}
	decode(t, e.do(http.MethodPost, "/api/dispatcher/start", nil), &state)
	if !state.Running {
		t.Fatalf("dispatcher not running after start")
	}
	decode(t, e.do(http.MethodPost, "/api/dispatcher/stop", nil), &state)
	if state.Running {
		t.Fatalf("dispatcher running after stop")
	}
}

func TestAuthGuardsAPI(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	e := newTestEnv(t, config.AuthConfig{Enabled: true, PasswordHash: string(hash), JWTSecret: "k"})

	if w := e.do(http.MethodGet, "/api/jobs", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	w := e.do(http.MethodPost, "/api/auth/login", map[string]string{"password": "pw"})
	var login struct {
		Token string `json:"token"`
	}
	decode(t, w, &login)
	e.token = login.Token

	if w := e.do(http.MethodGet, "/api/jobs", nil); w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/archives", nil); w.Code != http.StatusOK {
		t.Fatalf("archives status = %d", w.Code)
	}
}
