package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrInvalidEndpoint is returned when FetchRequest.Endpoint is not an absolute http(s) URL.
	ErrInvalidEndpoint = errors.New("endpoint must be an absolute http(s) URL")

	// ErrInvalidLimit is returned for a negative FetchRequest.Limit.
	ErrInvalidLimit = errors.New("limit must not be negative")

	// ErrMissingRecordsKey is returned when FetchRequest.RecordsKey is empty.
	ErrMissingRecordsKey = errors.New("records key is required")
)

// Record is one opaque resource object as returned by the remote API.
// Numbers are decoded as json.Number so large IDs survive untouched.
type Record = map[string]any

// Predicate decides whether a record is retained.
type Predicate func(Record) bool

// PageFetcher is the transport capability the pipeline needs. Implementations
// own authentication and timeouts; the pipeline only sees status and body.
type PageFetcher interface {
	// FetchPage issues a GET against pageURL. query is non-nil only for the first page.
	// A non-nil error means no HTTP response was obtained.
	FetchPage(ctx context.Context, pageURL string, query url.Values) (status int, body []byte, err error)
}

// FetchRequest describes one pagination run.
type FetchRequest struct {
	// Name labels logs and metrics (usually the resource name).
	Name string

	// Endpoint is the absolute URL of the first page.
	Endpoint string

	// Query is sent with the first request only; next links carry their own state.
	Query url.Values

	// Limit caps the number of retained records. Zero means unlimited.
	Limit int

	// Predicate filters records. Nil keeps everything.
	Predicate Predicate

	// RecordsKey is the top-level body key holding the records array.
	RecordsKey string

	// NextLink extracts the continuation URL. Nil defaults to NextPageField.
	NextLink NextLinkExtractor
}

// Validate checks the request before any network traffic happens.
func (r *FetchRequest) Validate() error {
	u, err := url.Parse(r.Endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidEndpoint, r.Endpoint)
	}
	if r.Limit < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, r.Limit)
	}
	if r.RecordsKey == "" {
		return ErrMissingRecordsKey
	}
	return nil
}

func (r *FetchRequest) label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.RecordsKey
}

// Page is one decoded response body. It only lives for one loop iteration.
type Page struct {
	Records  []Record
	NextLink string
}

// StopReason tells why a pipeline run reached DONE.
type StopReason string

const (
	// StopExhausted means the last page carried no next link.
	StopExhausted StopReason = "exhausted"

	// StopLimit means the record cap was reached.
	StopLimit StopReason = "limit"

	// StopError means a page-level failure ended the run.
	StopError StopReason = "error"

	// StopCancelled means the context was cancelled between pages.
	StopCancelled StopReason = "cancelled"
)

// ErrorKind classifies page-level failures.
type ErrorKind string

// Page failure kinds. Only http_status failures can be skipped.
const (
	KindTransport  ErrorKind = "transport"
	KindHTTPStatus ErrorKind = "http_status"
	KindDecode     ErrorKind = "decode"
	KindCancelled  ErrorKind = "cancelled"
)

// PageError describes one failed page.
type PageError struct {
	// Page is the 1-based page number within the run.
	Page int

	// URL is the page URL that failed.
	URL string

	Kind ErrorKind

	// StatusCode is set for http_status failures.
	StatusCode int

	// Body is the raw response text for http_status and decode failures.
	Body string

	Err error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("page %d (%s): http status %d: %s", e.Page, e.URL, e.StatusCode, e.Body)
	case KindDecode:
		if e.Body != "" {
			return fmt.Sprintf("page %d (%s): decode: %v: %s", e.Page, e.URL, e.Err, e.Body)
		}
		return fmt.Sprintf("page %d (%s): decode: %v", e.Page, e.URL, e.Err)
	default:
		return fmt.Sprintf("page %d (%s): %s: %v", e.Page, e.URL, e.Kind, e.Err)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// ExportResult is the terminal output of a pipeline run.
type ExportResult struct {
	// Records holds the retained records in server order.
	Records []Record

	RecordsWritten int
	RecordsFetched int
	PagesFetched   int

	// Errors holds page failures in the order they happened.
	Errors []*PageError

	Stopped StopReason
}

// Err returns the first page error, or nil for a clean run.
func (r *ExportResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// PageEvent is delivered to Config.OnPage after every page attempt.
type PageEvent struct {
	Name     string
	Page     int
	URL      string
	Fetched  int
	Retained int
	Total    int
	HasNext  bool
	Err      *PageError
}
