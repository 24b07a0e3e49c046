package instrument

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/apitrail/apitrail-go/internal/event"
	"github.com/apitrail/apitrail-go/internal/runtime"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// ingestSink collects events delivered by the client under test.
type ingestSink struct {
	events chan event.Event
}

func (s *ingestSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var batch []event.Event
	if err := decodeJSON(r, &batch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, ev := range batch {
		s.events <- ev
	}
	w.WriteHeader(http.StatusAccepted)
}

func newTestClient(t *testing.T, opts ...runtime.Option) (*runtime.Client, *ingestSink) {
	t.Helper()

	sink := &ingestSink{events: make(chan event.Event, 16)}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	base := []runtime.Option{
		runtime.WithAPIKey("test-key"),
		runtime.WithEndpoint(srv.URL),
		runtime.WithStoragePath(filepath.Join(t.TempDir(), "events.ndjson")),
		runtime.WithFlushInterval(0),
		runtime.WithBatchSize(1), // deliver every tracked event immediately
	}
	client, err := runtime.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(client.Shutdown)
	return client, sink
}

func TestMiddlewareRecordsChiRoutePattern(t *testing.T) {
	client, sink := newTestClient(t)

	r := chi.NewRouter()
	r.Use(Middleware(client))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("item payload"))
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/items/42", nil)
	req.Header.Set("X-API-Key", "consumer-key")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	ev := <-sink.events
	if ev.Method != "GET" {
		t.Errorf("method = %q", ev.Method)
	}
	if ev.Path != "/items/{id}" {
		t.Errorf("path = %q, want chi route pattern", ev.Path)
	}
	if ev.StatusCode != http.StatusOK {
		t.Errorf("status = %d", ev.StatusCode)
	}
	if ev.ResponseSize != int64(len("item payload")) {
		t.Errorf("response size = %d", ev.ResponseSize)
	}
	if ev.ConsumerID != "consumer-key" {
		t.Errorf("consumer = %q", ev.ConsumerID)
	}
	if ev.Timestamp == "" {
		t.Error("timestamp missing")
	}
	if ev.ResponseTimeMS < 0 {
		t.Errorf("response time = %f", ev.ResponseTimeMS)
	}
}

func TestMiddlewareErrorStatus(t *testing.T) {
	client, sink := newTestClient(t)

	handler := Middleware(client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/denied", strings.NewReader("body")))

	ev := <-sink.events
	if ev.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", ev.StatusCode)
	}
	if ev.Path != "/denied" {
		t.Errorf("path = %q", ev.Path)
	}
	if ev.RequestSize != int64(len("body")) {
		t.Errorf("request size = %d", ev.RequestSize)
	}
}

func TestMiddlewareQueryStringCollection(t *testing.T) {
	noQuery, sinkA := newTestClient(t)
	withQuery, sinkB := newTestClient(t, runtime.WithCollectQueryString(true))

	for _, tc := range []struct {
		client *runtime.Client
		sink   *ingestSink
		want   string
	}{
		{noQuery, sinkA, "/search"},
		{withQuery, sinkB, "/search?q=telemetry"},
	} {
		handler := Middleware(tc.client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=telemetry", nil))

		if ev := <-tc.sink.events; ev.Path != tc.want {
			t.Errorf("path = %q, want %q", ev.Path, tc.want)
		}
	}
}

func TestMiddlewareNeverBreaksHandler(t *testing.T) {
	// Client pointed at a dead endpoint: tracking fails, the handler must not.
	sinkSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	sinkSrv.Close()

	client, err := runtime.New(
		runtime.WithAPIKey("test-key"),
		runtime.WithEndpoint(sinkSrv.URL),
		runtime.WithStoragePath(filepath.Join(t.TempDir(), "events.ndjson")),
		runtime.WithFlushInterval(0),
		runtime.WithBatchSize(1),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Shutdown()

	handler := Middleware(client)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("handler status = %d, want 200 despite delivery failure", rec.Code)
	}
}
