package client

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zdtools/zdexport/internal/testutil"
	"github.com/zdtools/zdexport/pkg/cache"
	"github.com/zdtools/zdexport/pkg/pagination"
	"github.com/zdtools/zdexport/pkg/ratelimit"
)

// recordingTimer fires immediately and records the requested waits.
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

// discardStore keeps the tracker permanently healthy.
type discardStore struct{}

func (discardStore) Load(context.Context) (*ratelimit.State, error) { return nil, nil }
func (discardStore) Save(context.Context, *ratelimit.State) error   { return nil }

const (
	ticketsPath = "/api/v2/tickets.json"
	ticketsBody = `{"tickets":[{"id":1},{"id":2}],"next_page":null}`
)

func newTestClient(t *testing.T, mock *testutil.MockHelpdesk, mutate func(*Config)) (*Client, *recordingTimer) {
	t.Helper()

	nop := zerolog.Nop()
	cfg := DefaultConfig("", "agent@example.com", "secret")
	cfg.BaseURL = mock.URL() + "/api/v2"
	cfg.RequestsPerMinute = 0
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 50 * time.Millisecond
	cfg.Logger = &nop
	cfg.Tracker = ratelimit.NewTracker(discardStore{}, nop)
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	timer := &recordingTimer{}
	c.timer = timer
	return c, timer
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		wantBase    string
		wantAccount string
	}{
		{
			name:        "subdomain",
			config:      DefaultConfig("acme", "a@example.com", "tok"),
			wantBase:    "https://acme.zendesk.com/api/v2",
			wantAccount: "acme",
		},
		{
			name: "base url only",
			config: Config{
				BaseURL:  "http://localhost:8080/api/v2/",
				Email:    "a@example.com",
				APIToken: "tok",
			},
			wantBase:    "http://localhost:8080/api/v2",
			wantAccount: "localhost:8080",
		},
		{
			name:        "missing token",
			config:      DefaultConfig("acme", "a@example.com", ""),
			expectError: true,
		},
		{
			name:        "missing email",
			config:      DefaultConfig("acme", "", "tok"),
			expectError: true,
		},
		{
			name:        "missing subdomain and base url",
			config:      DefaultConfig("", "a@example.com", "tok"),
			expectError: true,
		},
		{
			name: "invalid base url",
			config: Config{
				BaseURL:  "ftp://example.com",
				Email:    "a@example.com",
				APIToken: "tok",
			},
			expectError: true,
		},
		{
			name: "negative rate",
			config: Config{
				Subdomain:         "acme",
				Email:             "a@example.com",
				APIToken:          "tok",
				RequestsPerMinute: -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.BaseURL() != tt.wantBase {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.wantBase)
			}
			if c.Account() != tt.wantAccount {
				t.Errorf("Account() = %q, want %q", c.Account(), tt.wantAccount)
			}
		})
	}

	if _, err := New(Config{}); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("New(Config{}) error = %v, want ErrMissingCredentials", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("acme", "a@example.com", "tok")

	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected Timeout=30s, got %v", cfg.Timeout)
	}
	if cfg.RequestsPerMinute <= 0 {
		t.Errorf("Expected a request ceiling, got %d", cfg.RequestsPerMinute)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Cache != nil {
		t.Error("Cache should be disabled by default")
	}
}

func TestDo_AuthAndHeaders(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))

	c, _ := newTestClient(t, mock, nil)

	resp, err := c.Get(context.Background(), "tickets.json", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("agent@example.com/token:secret"))
	if got := reqs[0].Header.Get("Authorization"); got != wantAuth {
		t.Errorf("Authorization = %q, want %q", got, wantAuth)
	}
	if got := reqs[0].Header.Get("User-Agent"); got != "zdexport/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := reqs[0].Header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestDo_ResolveTargets(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))

	c, _ := newTestClient(t, mock, nil)
	ctx := context.Background()

	if _, err := c.Get(ctx, "/tickets.json", map[string][]string{"per_page": {"100"}}); err != nil {
		t.Fatalf("relative Get() error = %v", err)
	}
	if _, err := c.Get(ctx, mock.URL()+ticketsPath+"?page=2", nil); err != nil {
		t.Fatalf("absolute Get() error = %v", err)
	}
	if _, err := c.Get(ctx, mock.URL()+ticketsPath+"?page=2", map[string][]string{"page": {"3"}}); err != nil {
		t.Fatalf("absolute Get() with query error = %v", err)
	}

	reqs := mock.Requests()
	want := []string{"per_page=100", "page=2", "page=3"}
	for i, q := range want {
		if reqs[i].Path != ticketsPath {
			t.Errorf("request %d path = %q", i, reqs[i].Path)
		}
		if reqs[i].Query != q {
			t.Errorf("request %d query = %q, want %q", i, reqs[i].Query, q)
		}
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetSequence(ticketsPath,
		testutil.NewServerErrorResponse(),
		testutil.NewServerErrorResponse(),
		testutil.NewJSONResponse(http.StatusOK, ticketsBody),
	)

	c, timer := newTestClient(t, mock, nil)

	resp, err := c.Get(context.Background(), "tickets.json", nil)
	if err != nil {
		t.Fatalf("Expected success after retry, got error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if n := mock.GetRequestCount(); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if len(timer.waits) != 2 {
		t.Fatalf("Expected 2 backoff waits, got %v", timer.waits)
	}
	for _, w := range timer.waits {
		if w <= 0 || w > 60*time.Millisecond {
			t.Errorf("Backoff %v outside configured bounds", w)
		}
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()

	c, timer := newTestClient(t, mock, nil)

	_, err := c.Get(context.Background(), "tickets/999.json", nil)
	if err == nil {
		t.Fatal("Expected error for 404")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Client errors must not be reported as retry exhaustion")
	}
	if n := mock.GetRequestCount(); n != 1 {
		t.Errorf("Expected 1 attempt, got %d", n)
	}
	if len(timer.waits) != 0 {
		t.Errorf("Expected no backoff, got %v", timer.waits)
	}
}

func TestDo_RetryOnRateLimit(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetSequence(ticketsPath,
		testutil.NewRateLimitResponse(7),
		testutil.NewJSONResponse(http.StatusOK, ticketsBody),
	)

	c, timer := newTestClient(t, mock, nil)

	if _, err := c.Get(context.Background(), "tickets.json", nil); err != nil {
		t.Fatalf("Expected success after 429, got %v", err)
	}
	if len(timer.waits) != 1 || timer.waits[0] != 7*time.Second {
		t.Errorf("Expected one Retry-After wait of 7s, got %v", timer.waits)
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewServerErrorResponse())

	c, timer := newTestClient(t, mock, func(cfg *Config) { cfg.Retry.MaxRetries = 2 })

	_, err := c.Get(context.Background(), "tickets.json", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected wrapped *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Description != "Something went wrong" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if n := mock.GetRequestCount(); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
	if len(timer.waits) != 2 {
		t.Errorf("Expected 2 waits, got %v", timer.waits)
	}
}

func TestDo_NetworkError(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	c, _ := newTestClient(t, mock, func(cfg *Config) { cfg.Retry.MaxRetries = 1 })
	mock.Close()

	_, err := c.Get(context.Background(), "tickets.json", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want network", ClassOf(err))
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))

	c, _ := newTestClient(t, mock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "tickets.json", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("Cancellation must not be reported as retry exhaustion")
	}
}

func TestPut_ValidationDetails(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse("PUT /api/v2/tickets/update_many.json", testutil.NewValidationErrorResponse(map[string][]map[string]string{
		"base": {{"description": "Tag is invalid"}},
	}))

	c, _ := newTestClient(t, mock, nil)

	body := map[string]any{"ticket": map[string]any{"additional_tags": []string{"vip"}}}
	_, err := c.Put(context.Background(), "tickets/update_many.json", map[string][]string{"ids": {"1,2"}}, body)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "RecordInvalid" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if _, ok := apiErr.Details["base"]; !ok {
		t.Errorf("Details = %v, want base entry", apiErr.Details)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != http.MethodPut {
		t.Errorf("Method = %s", reqs[0].Method)
	}
	if reqs[0].Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", reqs[0].Header.Get("Content-Type"))
	}
	if !strings.Contains(reqs[0].Body, `"additional_tags":["vip"]`) {
		t.Errorf("Body = %s", reqs[0].Body)
	}
	if reqs[0].Query != "ids=1%2C2" {
		t.Errorf("Query = %q", reqs[0].Query)
	}
}

func TestDelete_NoContent(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse("DELETE /api/v2/tickets/5.json", testutil.NewNoContentResponse())

	c, _ := newTestClient(t, mock, nil)

	resp, err := c.Delete(context.Background(), "tickets/5.json", nil)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("StatusCode = %d, want 204", resp.StatusCode)
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))
	mock.SetResponse("/api/v2/broken.json", testutil.NewServerErrorResponse())

	c, _ := newTestClient(t, mock, func(cfg *Config) { cfg.Retry.MaxRetries = 0 })
	ctx := context.Background()

	status, body, err := c.FetchPage(ctx, mock.URL()+ticketsPath, nil)
	if err != nil || status != http.StatusOK || string(body) != ticketsBody {
		t.Errorf("FetchPage(ok) = %d, %q, %v", status, body, err)
	}

	status, body, err = c.FetchPage(ctx, mock.URL()+"/api/v2/broken.json", nil)
	if err != nil {
		t.Fatalf("FetchPage(500) should report status, got error %v", err)
	}
	if status != http.StatusInternalServerError || !strings.Contains(string(body), "InternalError") {
		t.Errorf("FetchPage(500) = %d, %q", status, body)
	}

	mock.Close()
	status, _, err = c.FetchPage(ctx, mock.URL()+ticketsPath, nil)
	if err == nil || status != 0 {
		t.Errorf("FetchPage(closed) = %d, %v; want transport error", status, err)
	}
}

func TestFetchPage_DrivesPipeline(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetPages(ticketsPath, "tickets", testutil.NextPageStyle,
		testutil.Records(1, 3), testutil.Records(4, 3), testutil.Records(7, 2))

	c, _ := newTestClient(t, mock, nil)
	fetcher := pagination.NewFetcher(c, pagination.Config{})

	result, err := fetcher.FetchAll(context.Background(), pagination.FetchRequest{
		Name:       "tickets",
		Endpoint:   c.BaseURL() + "/tickets.json",
		RecordsKey: "tickets",
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if result.RecordsWritten != 5 || result.Stopped != pagination.StopLimit {
		t.Errorf("Result = %+v", result)
	}
	if n := mock.RequestsFor(ticketsPath); n != 2 {
		t.Errorf("Expected 2 page requests, got %d", n)
	}
}

func TestCount(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse("/api/v2/organizations/count.json",
		testutil.NewJSONResponse(http.StatusOK, `{"count":{"value":102,"refreshed_at":"2024-05-01T10:00:00Z"}}`))
	mock.SetResponse("/api/v2/users/count.json",
		testutil.NewJSONResponse(http.StatusOK, `{"users":[]}`))

	c, _ := newTestClient(t, mock, nil)
	ctx := context.Background()

	n, err := c.Count(ctx, "organizations")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 102 {
		t.Errorf("Count() = %d, want 102", n)
	}

	if _, err := c.Count(ctx, "users"); err == nil {
		t.Error("Expected error for a body without count.value")
	}
}

func TestDo_Cache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))
	mock.SetResponse("/api/v2/broken.json", testutil.NewServerErrorResponse())

	c, _ := newTestClient(t, mock, func(cfg *Config) {
		cfg.Cache = cache.NewManager(rdb, time.Minute)
		cfg.Retry.MaxRetries = 0
	})
	ctx := context.Background()

	first, err := c.Get(ctx, "tickets.json", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first.FromCache {
		t.Error("First response should come from the server")
	}

	second, err := c.Get(ctx, "tickets.json", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !second.FromCache {
		t.Error("Second response should come from the cache")
	}
	if string(second.Body) != ticketsBody {
		t.Errorf("Cached body = %s", second.Body)
	}
	if n := mock.RequestsFor(ticketsPath); n != 1 {
		t.Errorf("Expected 1 server request, got %d", n)
	}

	// Errors are never cached.
	c.Get(ctx, "broken.json", nil)
	c.Get(ctx, "broken.json", nil)
	if n := mock.RequestsFor("/api/v2/broken.json"); n != 2 {
		t.Errorf("Expected 2 requests for failing page, got %d", n)
	}

	// Pages expire with the configured TTL.
	mr.FastForward(2 * time.Minute)
	third, err := c.Get(ctx, "tickets.json", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if third.FromCache {
		t.Error("Expired entry should not be served")
	}
}

func TestDo_TracksQuotaHeaders(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse(ticketsPath, testutil.NewJSONResponse(http.StatusOK, ticketsBody))

	nop := zerolog.Nop()
	tracker := ratelimit.NewTracker(ratelimit.NewMemoryStore(), nop)
	c, _ := newTestClient(t, mock, func(cfg *Config) { cfg.Tracker = tracker })

	if _, err := c.Get(context.Background(), "tickets.json", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 699 || state.Limit != 700 {
		t.Errorf("State = %+v, want 699/700", state)
	}
}
