// Package testutil provides testing utilities for the helpdesk export tools.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PageStyle selects how a paged mock endpoint advertises its next page.
type PageStyle int

const (
	// NextPageStyle emits a flat "next_page" URL (offset pagination).
	NextPageStyle PageStyle = iota

	// LinksStyle emits "links.next" plus "meta.has_more" (cursor pagination).
	LinksStyle
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request seen by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// MockHelpdesk is a configurable mock helpdesk API server for testing.
type MockHelpdesk struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockHelpdesk creates and starts a new mock server.
func NewMockHelpdesk() *MockHelpdesk {
	mock := &MockHelpdesk{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   string(body),
		})
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		if !exists {
			handler, exists = mock.handlers[r.URL.Path]
		}
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"InvalidEndpoint","description":"Not found"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockHelpdesk) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockHelpdesk) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockHelpdesk) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockHelpdesk) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a path. The key may be prefixed with a
// method ("DELETE /api/v2/triggers/1.json") to match only that method.
func (m *MockHelpdesk) SetHandler(key string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockHelpdesk) SetResponse(key string, resp MockResponse) {
	m.SetHandler(key, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence serves the given responses in order, repeating the last one.
func (m *MockHelpdesk) SetSequence(key string, responses ...MockResponse) {
	var mu sync.Mutex
	calls := 0
	m.SetHandler(key, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[len(responses)-1]
		if calls < len(responses) {
			resp = responses[calls]
		}
		calls++
		mu.Unlock()

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetPages serves records as a paginated list under recordsKey. Page n is
// selected with ?page=n (NextPageStyle) or ?cursor=cN (LinksStyle).
func (m *MockHelpdesk) SetPages(path, recordsKey string, style PageStyle, pages ...[]map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		switch style {
		case LinksStyle:
			if c := r.URL.Query().Get("cursor"); strings.HasPrefix(c, "c") {
				idx, _ = strconv.Atoi(strings.TrimPrefix(c, "c"))
			}
		default:
			if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
				idx = p - 1
			}
		}

		if idx < 0 || idx >= len(pages) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"RecordNotFound"}`))
			return
		}

		body := map[string]any{recordsKey: pages[idx]}
		hasMore := idx+1 < len(pages)
		switch style {
		case LinksStyle:
			var next any
			if hasMore {
				next = fmt.Sprintf("%s%s?cursor=c%d", m.server.URL, path, idx+1)
			}
			body["links"] = map[string]any{"next": next, "prev": nil}
			body["meta"] = map[string]any{"has_more": hasMore}
		default:
			var next any
			if hasMore {
				next = fmt.Sprintf("%s%s?page=%d", m.server.URL, path, idx+2)
			}
			body["next_page"] = next
			body["count"] = countRecords(pages)
		}

		writeJSON(w, http.StatusOK, body)
	})
}

// Requests returns a copy of all recorded requests.
func (m *MockHelpdesk) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHelpdesk) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// RequestsFor returns the number of requests made to a path.
func (m *MockHelpdesk) RequestsFor(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// NewJSONResponse creates a JSON response with rate limit headers.
func NewJSONResponse(status int, body string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       body,
		Headers: map[string]string{
			"X-Rate-Limit":           "700",
			"X-Rate-Limit-Remaining": "699",
			"Content-Type":           "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"APIRateLimitExceeded","description":"Number of allowed API requests per minute exceeded"}`,
		Headers: map[string]string{
			"Retry-After":            strconv.Itoa(retryAfter),
			"X-Rate-Limit":           "700",
			"X-Rate-Limit-Remaining": "0",
			"Content-Type":           "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"InternalError","description":"Something went wrong"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewValidationErrorResponse creates a 422 response with a details map of
// per-entity validation errors.
func NewValidationErrorResponse(details map[string][]map[string]string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error":       "RecordInvalid",
		"description": "Record validation errors",
		"details":     details,
	})
	return MockResponse{
		StatusCode: http.StatusUnprocessableEntity,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNoContentResponse creates a 204 response as returned by DELETE endpoints.
func NewNoContentResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNoContent}
}

// Records builds n simple records with sequential ids starting at from.
func Records(from, n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		id := from + i
		out = append(out, map[string]any{
			"id":      id,
			"subject": fmt.Sprintf("record %d", id),
			"status":  "open",
		})
	}
	return out
}

func countRecords(pages [][]map[string]any) int {
	n := 0
	for _, p := range pages {
		n += len(p)
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Rate-Limit", "700")
	w.Header().Set("X-Rate-Limit-Remaining", "699")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
