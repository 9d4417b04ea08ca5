package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/flows"
	"github.com/tjfontaine/hubflow/internal/jobs"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/pkg/config"
	"github.com/tjfontaine/hubflow/internal/storage/memory"
)

// registryRunner runs flows from a registry through the standard organizer.
type registryRunner struct {
	registry  *flows.Registry
	organizer *pipeline.Organizer
	err       error
}

func (r *registryRunner) RunFlow(ctx context.Context, name string, env *flows.Envelope) (*pipeline.FlowContext, error) {
	if r.err != nil {
		return nil, r.err
	}
	def, ok := r.registry.Get(name)
	if !ok {
		return nil, flows.ErrFlowNotFound
	}
	return r.organizer.Run(ctx, def.NewContext(env.Body, env.Parameters, env.RequestID)), nil
}

func (r *registryRunner) FlowNames() []string { return r.registry.Names() }

type testEnv struct {
	server  *Server
	store   *memory.Store
	webhook *httptest.Server
	hits    atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{store: memory.New()}

	env.webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		w.Write([]byte(`{"summary":"ok"}`))
	}))
	t.Cleanup(env.webhook.Close)

	err := env.store.CreateConnection(context.Background(), &domain.Connection{
		Name:       "store",
		URL:        strings.TrimPrefix(env.webhook.URL, "http://"),
		Token:      "secret",
		Parameters: map[string]any{"store_id": "42", "region": "eu"},
	})
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}

	registry := flows.NewRegistry()
	err = registry.Load([]config.FlowConfig{{
		Name:       "orders",
		Connection: "store",
		Jobs:       []config.JobConfig{{Name: "push_order", Path: "/api/orders", EventTypes: []string{"order"}}},
	}}, jobs.Deps{Connections: env.store, Scheme: "http"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	runner := &registryRunner{registry: registry, organizer: pipeline.NewOrganizer(nil, env.store, nil)}
	env.server = New(0, nil, 0)
	NewFlowHandler(runner, nil).Mount(env.server.Router)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return rec, resp
}

func TestFlowHandler_Success(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.post(t, "/flows/orders", `{"request_id":"123456","parameters":{"region":"us"},"order":{"id":"R12345"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, resp)
	}
	if resp["request_id"] != "123456" {
		t.Errorf("request_id = %v", resp["request_id"])
	}
	if resp["summary"] != "Successfully processed 1 order" {
		t.Errorf("summary = %v", resp["summary"])
	}
	if n := env.hits.Load(); n != 1 {
		t.Errorf("webhook hits = %d, want 1", n)
	}

	conn, _ := env.store.GetConnection(context.Background(), "store")
	if conn.Parameters["region"] != "us" || conn.Parameters["store_id"] != "42" {
		t.Errorf("parameters = %v", conn.Parameters)
	}
}

func TestFlowHandler_UsesMiddlewareRequestID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/flows/orders", strings.NewReader(`{"order":{"id":"R1"}}`))
	req.Header.Set("X-Request-ID", "from-header")
	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, req)

	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["request_id"] != "from-header" {
		t.Errorf("request_id = %v, want from-header", resp["request_id"])
	}
}

func TestFlowHandler_Failures(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantErrors bool
	}{
		{"unknown flow", "/flows/missing", `{"order":{"id":"R1"}}`, http.StatusNotFound, false},
		{"malformed envelope", "/flows/orders", `{"order":`, http.StatusBadRequest, false},
		{"schema violation", "/flows/orders", `{"Order":{"id":"R1"}}`, http.StatusBadRequest, true},
		{"no objects", "/flows/orders", `{"parameters":{"region":"us"}}`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec, resp := env.post(t, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", rec.Code, tt.wantStatus, resp)
			}
			if resp["summary"] == "" || resp["summary"] == nil {
				t.Error("expected a summary")
			}
			if _, ok := resp["errors"]; ok != tt.wantErrors {
				t.Errorf("errors present = %v, want %v", ok, tt.wantErrors)
			}
			if env.hits.Load() != 0 {
				t.Errorf("webhook called on failure")
			}
		})
	}
}

func TestFlowHandler_RunnerError(t *testing.T) {
	server := New(0, nil, 0)
	NewFlowHandler(&registryRunner{err: errors.New("boom"), registry: flows.NewRegistry()}, nil).Mount(server.Router)

	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flows/orders", strings.NewReader(`{"order":{"id":"R1"}}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestFlowHandler_List(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flows", nil))

	var resp map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(resp["flows"]) != 1 || resp["flows"][0] != "orders" {
		t.Errorf("flows = %v", resp["flows"])
	}
}

func TestServer_Healthz(t *testing.T) {
	server := New(0, nil, 0)
	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}
