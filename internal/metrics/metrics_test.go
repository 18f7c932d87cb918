package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/rooms/{roomId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}
	body := scrape(t)
	want := `codesync_http_requests_total{code="418",method="GET",route="/rooms/{roomId}"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("expected both requests under one pattern label, metrics:\n%s", body)
	}
	if !strings.Contains(body, `codesync_http_request_duration_seconds_count{method="GET",route="/rooms/{roomId}"} 2`) {
		t.Fatalf("expected plain requests to be timed, metrics:\n%s", body)
	}
	if strings.Contains(body, `route="/rooms/a"`) {
		t.Fatalf("raw paths must not be used as labels")
	}
}

func TestMiddlewareCountsUpgradesWithoutTiming(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ws/{roomId}", func(http.ResponseWriter, *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/ws/r1", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(httptest.NewRecorder(), req)

	body := scrape(t)
	if !strings.Contains(body, `codesync_http_requests_total{code="101",method="GET",route="/ws/{roomId}"} 1`) {
		t.Fatalf("expected the upgrade to be counted as 101, metrics:\n%s", body)
	}
	if strings.Contains(body, `request_duration_seconds_count{method="GET",route="/ws/{roomId}"}`) {
		t.Fatalf("upgrades must not be timed")
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	DecodeFaults.Inc()
	FramesReceived.WithLabelValues("edit").Inc()
	body := scrape(t)
	for _, name := range []string{"codesync_decode_faults_total", `codesync_frames_received_total{type="edit"}`} {
		if !strings.Contains(body, name) {
			t.Fatalf("%s not exported", name)
		}
	}
}
