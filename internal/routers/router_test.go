package routers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codesync/internal/api"
	"codesync/internal/store"
	"codesync/internal/utils"
)

func newTestRouter(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := api.NewHandlers(api.Options{Store: store.New(rdb, utils.NewNopLogger())})
	server := httptest.NewServer(New(h, []string{"http://localhost:5173"}))
	t.Cleanup(server.Close)
	return server
}

func TestNewRouterHealthEndpoint(t *testing.T) {
	server := newTestRouter(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRoutesRegistered(t *testing.T) {
	server := newTestRouter(t)

	for _, path := range []string{"/api/v1/healthz", "/api/v1/rooms/r1/roster", "/api/v1/rooms/r1/chat"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(server.URL + "/api/v1/rooms/r1/executions")
	if err != nil {
		t.Fatalf("executions request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an execution log, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpointExposesRouteLabels(t *testing.T) {
	server := newTestRouter(t)

	resp, err := http.Get(server.URL + "/api/v1/rooms/r9/roster")
	if err != nil {
		t.Fatalf("roster request: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `route="/api/v1/rooms/{roomId}/roster"`) {
		t.Fatalf("expected route pattern label in metrics output")
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestRouter(t)

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/run", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
