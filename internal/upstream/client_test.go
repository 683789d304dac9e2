package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type stubServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newStubServer(t *testing.T, handler http.HandlerFunc) *stubServer {
	t.Helper()
	stub := &stubServer{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stub.mu.Lock()
		stub.requests = append(stub.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		stub.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *stubServer) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatalf("expected at least one upstream request")
	}
	return s.requests[len(s.requests)-1]
}

func TestNewHTTPClientUsesTimeout(t *testing.T) {
	client := NewHTTPClient(45*time.Second, nil)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewHTTPClient(0, nil).Timeout != defaultTimeout {
		t.Fatalf("zero timeout should fall back to default")
	}
}

func TestNewHTTPClientAppliesProxy(t *testing.T) {
	proxy, _ := url.Parse("http://127.0.0.1:3128")
	client := NewHTTPClient(time.Second, proxy)
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	req := httptest.NewRequest(http.MethodGet, "https://graphql.anilist.co/", nil)
	got, err := transport.Proxy(req)
	if err != nil || got.String() != proxy.String() {
		t.Fatalf("expected proxy %s, got %v (%v)", proxy, got, err)
	}
}

func TestAniListPostsGraphQLPayload(t *testing.T) {
	stub := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"page":5,"count":10}}`))
	})
	client, err := NewAniList(Options{Endpoint: stub.URL, ValidateJSON: true})
	if err != nil {
		t.Fatalf("new anilist: %v", err)
	}

	body, err := client.Do(context.Background(), fingerprint.NewRequest("query { id }", map[string]any{"page": 5}))
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if string(body) != `{"data":{"page":5,"count":10}}` {
		t.Fatalf("unexpected body: %s", body)
	}

	req := stub.lastRequest(t)
	if req.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", req.Method)
	}
	if req.Header.Get("Content-Type") != "application/json" || req.Header.Get("Accept") != "application/json" {
		t.Fatalf("missing json headers: %v", req.Header)
	}
	var payload struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Query != "query { id }" || payload.Variables["page"] != float64(5) {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestVNDBRoutesByOperation(t *testing.T) {
	stub := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[],"more":false}`))
	})
	client, err := NewVNDB(Options{Endpoint: stub.URL + "/kana/"})
	if err != nil {
		t.Fatalf("new vndb: %v", err)
	}

	vars := map[string]any{"filters": []any{"id", "=", "v17"}, "fields": "id,title"}
	if _, err := client.Do(context.Background(), fingerprint.NewRequest("vn", vars)); err != nil {
		t.Fatalf("do error: %v", err)
	}
	req := stub.lastRequest(t)
	if req.Method != http.MethodPost || req.Path != "/kana/vn" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}

	if _, err := client.Do(context.Background(), fingerprint.NewRequest("/stats", nil)); err != nil {
		t.Fatalf("do error: %v", err)
	}
	req = stub.lastRequest(t)
	if req.Method != http.MethodGet || req.Path != "/kana/stats" {
		t.Fatalf("empty variables should issue GET /stats, got %s %s", req.Method, req.Path)
	}
}

func TestVNDBRequiresPath(t *testing.T) {
	client, err := NewVNDB(Options{})
	if err != nil {
		t.Fatalf("new vndb: %v", err)
	}
	if _, err := client.Do(context.Background(), fingerprint.NewRequest("  ", nil)); err == nil {
		t.Fatalf("empty path should fail")
	}
}

func TestNonSuccessStatusReturnsStatusError(t *testing.T) {
	stub := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Too Many Requests."}]}`))
	})
	client, _ := NewAniList(Options{Endpoint: stub.URL})

	_, err := client.Do(context.Background(), fingerprint.NewRequest("q", nil))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func TestValidateJSONRejectsGarbage(t *testing.T) {
	stub := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	})

	strict, _ := NewAniList(Options{Endpoint: stub.URL, ValidateJSON: true})
	if _, err := strict.Do(context.Background(), fingerprint.NewRequest("q", nil)); !errors.Is(err, ErrInvalidBody) {
		t.Fatalf("expected ErrInvalidBody, got %v", err)
	}

	lenient, _ := NewAniList(Options{Endpoint: stub.URL})
	if _, err := lenient.Do(context.Background(), fingerprint.NewRequest("q", nil)); err != nil {
		t.Fatalf("validation off should accept any body: %v", err)
	}
}

func TestTimeoutSurfacesAsError(t *testing.T) {
	release := make(chan struct{})
	stub := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client, _ := NewAniList(Options{Endpoint: stub.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Do(context.Background(), fingerprint.NewRequest("q", nil))
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		var netErr interface{ Timeout() bool }
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			t.Fatalf("expected timeout error, got %v", err)
		}
	}
}

func TestNewRejectsUnknownKindAndEndpoint(t *testing.T) {
	if _, err := New("kitsu", Options{}); err == nil {
		t.Fatalf("unknown kind should fail")
	}
	if _, err := New(KindAniList, Options{Endpoint: "ftp://example.com"}); err == nil {
		t.Fatalf("non-http endpoint should fail")
	}
	if client, err := New(KindVNDB, Options{}); err != nil || client == nil {
		t.Fatalf("vndb default endpoint should work: %v", err)
	}
}
