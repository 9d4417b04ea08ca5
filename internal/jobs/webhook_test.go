package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/pipeline"
	"github.com/tjfontaine/hubflow/internal/storage/memory"
)

type recordingServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
	tokens []string
}

func newRecordingServer(t *testing.T, status int) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		rs.mu.Lock()
		rs.bodies = append(rs.bodies, body)
		rs.tokens = append(rs.tokens, r.Header.Get("X-Hub-Token"))
		rs.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"summary":"ok"}`))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) requests() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.bodies)
}

func seedConnection(t *testing.T, url string) *memory.Store {
	t.Helper()
	store := memory.New()
	err := store.CreateConnection(context.Background(), &domain.Connection{
		Name:       "store",
		URL:        strings.TrimPrefix(url, "http://"),
		Token:      "secret",
		Parameters: map[string]any{"store_id": "42"},
	})
	if err != nil {
		t.Fatalf("CreateConnection() error = %v", err)
	}
	return store
}

func orderContext() *pipeline.FlowContext {
	return &pipeline.FlowContext{
		RequestID:  "123456",
		EventType:  "order",
		Object:     map[string]any{"id": "R12345"},
		Parameters: map[string]any{"email": "info@nebulab.it"},
	}
}

func TestDecodeWebhookOptions(t *testing.T) {
	opts, err := DecodeWebhookOptions(map[string]any{
		"fail_on_error": "true",
		"timeout":       "2s",
		"token_header":  "X-Store-Token",
		"parameters":    map[string]any{"channel": "web"},
	})
	if err != nil {
		t.Fatalf("DecodeWebhookOptions() error = %v", err)
	}
	if !opts.FailOnError || opts.Timeout != 2*time.Second || opts.TokenHeader != "X-Store-Token" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Parameters["channel"] != "web" {
		t.Errorf("Parameters = %v", opts.Parameters)
	}

	if _, err := DecodeWebhookOptions(map[string]any{"unknown": 1}); err == nil {
		t.Error("expected error for unknown option")
	}
}

func TestNewWebhookJob_Validation(t *testing.T) {
	store := memory.New()
	tests := []struct {
		name string
		cfg  WebhookJobConfig
		deps Deps
	}{
		{"missing name", WebhookJobConfig{Connection: "store"}, Deps{Connections: store}},
		{"missing connection", WebhookJobConfig{Name: "push"}, Deps{Connections: store}},
		{"missing lookup", WebhookJobConfig{Name: "push", Connection: "store"}, Deps{}},
		{"bad options", WebhookJobConfig{Name: "push", Connection: "store", Options: map[string]any{"timeout": "soon"}}, Deps{Connections: store}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWebhookJob(tt.cfg, tt.deps); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWebhookJob_Perform(t *testing.T) {
	store := memory.New()
	all, _ := NewWebhookJob(WebhookJobConfig{Name: "all", Connection: "store"}, Deps{Connections: store})
	orders, _ := NewWebhookJob(WebhookJobConfig{Name: "orders", Connection: "store", EventTypes: []string{"order"}}, Deps{Connections: store})

	fc := orderContext()
	if !all.Perform(fc) || !orders.Perform(fc) {
		t.Error("expected both jobs to perform for order")
	}

	fc.EventType = "shipment"
	if !all.Perform(fc) {
		t.Error("job without event types should match every event")
	}
	if orders.Perform(fc) {
		t.Error("order job performed for shipment")
	}

	if all.Perform(&pipeline.FlowContext{}) {
		t.Error("job performed without an object")
	}
}

func TestWebhookJob_Enqueue_Inline(t *testing.T) {
	server := newRecordingServer(t, http.StatusOK)
	store := seedConnection(t, server.URL)

	job, err := NewWebhookJob(WebhookJobConfig{
		Name:       "push",
		Connection: "store",
		Path:       "/api/orders",
		Options:    map[string]any{"parameters": map[string]any{"channel": "web"}},
	}, Deps{Connections: store, Scheme: "http"})
	if err != nil {
		t.Fatalf("NewWebhookJob() error = %v", err)
	}

	if err := job.Enqueue(context.Background(), orderContext()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if server.requests() != 1 {
		t.Fatalf("requests = %d, want 1", server.requests())
	}
	want := map[string]any{
		"request_id": "123456",
		"parameters": map[string]any{"store_id": "42", "email": "info@nebulab.it", "channel": "web"},
		"order":      map[string]any{"id": "R12345"},
	}
	if !reflect.DeepEqual(server.bodies[0], want) {
		t.Errorf("body = %v, want %v", server.bodies[0], want)
	}
	if server.tokens[0] != "secret" {
		t.Errorf("token = %q, want secret", server.tokens[0])
	}
}

func TestWebhookJob_Enqueue_BlankParametersKeepDefaults(t *testing.T) {
	server := newRecordingServer(t, http.StatusOK)
	store := seedConnection(t, server.URL)

	job, err := NewWebhookJob(WebhookJobConfig{
		Name:       "push",
		Connection: "store",
		Path:       "/api/orders",
		Options:    map[string]any{"parameters": map[string]any{"channel": "web"}},
	}, Deps{Connections: store, Scheme: "http"})
	if err != nil {
		t.Fatalf("NewWebhookJob() error = %v", err)
	}

	fc := orderContext()
	fc.Parameters = map[string]any{"email": "info@nebulab.it", "channel": "", "store_id": "  ", "gift": nil}
	if err := job.Enqueue(context.Background(), fc); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if server.requests() != 1 {
		t.Fatalf("requests = %d, want 1", server.requests())
	}
	want := map[string]any{"store_id": "42", "email": "info@nebulab.it", "channel": "web"}
	if got := server.bodies[0]["parameters"]; !reflect.DeepEqual(got, want) {
		t.Errorf("parameters = %v, want %v", got, want)
	}
}

func TestWebhookJob_Enqueue_Errors(t *testing.T) {
	server := newRecordingServer(t, http.StatusInternalServerError)
	store := seedConnection(t, server.URL)

	lenient, _ := NewWebhookJob(WebhookJobConfig{Name: "lenient", Connection: "store"}, Deps{Connections: store, Scheme: "http"})
	strict, _ := NewWebhookJob(WebhookJobConfig{
		Name:       "strict",
		Connection: "store",
		Options:    map[string]any{"fail_on_error": true},
	}, Deps{Connections: store, Scheme: "http"})

	if err := lenient.Enqueue(context.Background(), orderContext()); err != nil {
		t.Errorf("lenient Enqueue() error = %v, want nil", err)
	}
	err := strict.Enqueue(context.Background(), orderContext())
	if !domain.IsWebhook(err) {
		t.Errorf("strict Enqueue() error = %v, want WebhookError", err)
	}
}

func TestWebhookJob_Enqueue_MissingConnection(t *testing.T) {
	job, _ := NewWebhookJob(WebhookJobConfig{Name: "push", Connection: "missing"}, Deps{Connections: memory.New()})
	if err := job.Enqueue(context.Background(), orderContext()); !domain.IsNotFound(err) {
		t.Errorf("Enqueue() error = %v, want not found", err)
	}
}

func TestWebhookJob_Enqueue_Async(t *testing.T) {
	server := newRecordingServer(t, http.StatusOK)
	store := seedConnection(t, server.URL)
	queue := NewQueue(QueueConfig{Workers: 2, Buffer: 4})

	job, _ := NewWebhookJob(WebhookJobConfig{Name: "push", Connection: "store"}, Deps{
		Connections: store,
		Queue:       queue,
		Scheme:      "http",
	})

	for i := 0; i < 3; i++ {
		if err := job.Enqueue(context.Background(), orderContext()); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if err := queue.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if server.requests() != 3 {
		t.Errorf("requests = %d, want 3", server.requests())
	}
}
