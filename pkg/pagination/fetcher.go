package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageDelay spaces consecutive page requests to stay under per-minute API quotas.
const DefaultPageDelay = 500 * time.Millisecond

// Config holds pipeline configuration.
type Config struct {
	// PageDelay is slept before every follow-up page. Zero disables the delay.
	PageDelay time.Duration

	// ContinueOnError skips a failed page when its body still yields a next link.
	ContinueOnError bool

	// MaxPages stops the run after this many page attempts. Zero means unlimited.
	MaxPages int

	// Logger receives progress events. Nil uses the global logger.
	Logger *zerolog.Logger

	// OnPage is called after every page attempt.
	OnPage func(PageEvent)
}

// DefaultConfig returns the recommended pipeline configuration.
func DefaultConfig() Config {
	return Config{
		PageDelay: DefaultPageDelay,
	}
}

// Fetcher runs FetchRequests sequentially against a PageFetcher.
// A Fetcher holds no per-run state, but one run never fetches pages concurrently.
type Fetcher struct {
	pages  PageFetcher
	config Config
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a new pipeline fetcher.
func NewFetcher(pages PageFetcher, config Config) *Fetcher {
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}

	logger := log.With().Str("component", "pagination").Logger()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "pagination").Logger()
	}

	return &Fetcher{
		pages:  pages,
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// FetchAll retrieves every page of req, keeping records accepted by the
// predicate until the limit is reached. Page failures are reported in the
// result, never as the returned error; the error is only for invalid requests.
func (f *Fetcher) FetchAll(ctx context.Context, req FetchRequest) (*ExportResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	next := req.NextLink
	if next == nil {
		next = NextPageField
	}
	name := req.label()
	start := time.Now()

	result := &ExportResult{Records: make([]Record, 0)}
	pageURL := req.Endpoint
	query := req.Query

	f.logger.Info().
		Str("resource", name).
		Str("endpoint", req.Endpoint).
		Int("limit", req.Limit).
		Msg("Starting export")

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			f.fail(result, &PageError{Page: pageNum, URL: pageURL, Kind: KindCancelled, Err: err})
			result.Stopped = StopCancelled
			break
		}

		result.PagesFetched++
		status, body, err := f.pages.FetchPage(ctx, pageURL, query)
		query = nil

		if err != nil {
			kind := KindTransport
			if ctx.Err() != nil {
				kind = KindCancelled
			}
			pe := &PageError{Page: pageNum, URL: pageURL, Kind: kind, Err: err}
			f.fail(result, pe)
			f.notify(name, pageNum, pageURL, 0, 0, result, false, pe)
			pagesTotal.WithLabelValues(name, string(kind)).Inc()
			if kind == KindCancelled {
				result.Stopped = StopCancelled
			} else {
				result.Stopped = StopError
			}
			break
		}

		if status < 200 || status > 299 {
			pe := &PageError{
				Page:       pageNum,
				URL:        pageURL,
				Kind:       KindHTTPStatus,
				StatusCode: status,
				Body:       string(body),
				Err:        fmt.Errorf("unexpected status %d", status),
			}
			f.fail(result, pe)
			pagesTotal.WithLabelValues(name, string(KindHTTPStatus)).Inc()

			skipTo := ""
			if f.config.ContinueOnError {
				skipTo = salvageNextLink(body, next)
			}
			f.notify(name, pageNum, pageURL, 0, 0, result, skipTo != "", pe)

			if skipTo == "" || skipTo == pageURL || f.pageBudgetSpent(pageNum) {
				result.Stopped = StopError
				break
			}

			f.logger.Warn().
				Str("resource", name).
				Int("page", pageNum).
				Int("status", status).
				Msg("Skipping failed page")

			if !f.wait(ctx, result, pageNum+1, skipTo) {
				break
			}
			pageURL = skipTo
			continue
		}

		page, err := decodePage(body, req.RecordsKey, next)
		if err != nil {
			pe := &PageError{Page: pageNum, URL: pageURL, Kind: KindDecode, Body: string(body), Err: err}
			f.fail(result, pe)
			f.notify(name, pageNum, pageURL, 0, 0, result, false, pe)
			pagesTotal.WithLabelValues(name, string(KindDecode)).Inc()
			result.Stopped = StopError
			break
		}

		retained := 0
		capped := false
		for _, record := range page.Records {
			if req.Predicate != nil && !req.Predicate(record) {
				continue
			}
			result.Records = append(result.Records, record)
			retained++
			if req.Limit > 0 && len(result.Records) >= req.Limit {
				capped = true
				break
			}
		}

		result.RecordsFetched += len(page.Records)
		result.RecordsWritten = len(result.Records)
		pagesTotal.WithLabelValues(name, "ok").Inc()
		recordsFetchedTotal.WithLabelValues(name).Add(float64(len(page.Records)))
		recordsRetainedTotal.WithLabelValues(name).Add(float64(retained))

		f.logger.Debug().
			Str("resource", name).
			Int("page", pageNum).
			Int("records", len(page.Records)).
			Int("retained", retained).
			Int("total", result.RecordsWritten).
			Bool("has_next", page.NextLink != "").
			Msg("Page fetched")
		f.notify(name, pageNum, pageURL, len(page.Records), retained, result, page.NextLink != "", nil)

		if capped {
			result.Stopped = StopLimit
			break
		}
		if page.NextLink == "" {
			result.Stopped = StopExhausted
			break
		}
		if page.NextLink == pageURL {
			f.fail(result, &PageError{
				Page: pageNum,
				URL:  pageURL,
				Kind: KindDecode,
				Err:  errors.New("next link points at the current page"),
			})
			result.Stopped = StopError
			break
		}
		if f.pageBudgetSpent(pageNum) {
			result.Stopped = StopLimit
			break
		}
		if !f.wait(ctx, result, pageNum+1, page.NextLink) {
			break
		}
		pageURL = page.NextLink
	}

	event := f.logger.Info()
	if len(result.Errors) > 0 {
		event = f.logger.Error().Err(result.Err())
	}
	event.
		Str("resource", name).
		Int("pages", result.PagesFetched).
		Int("fetched", result.RecordsFetched).
		Int("written", result.RecordsWritten).
		Str("stopped", string(result.Stopped)).
		Dur("duration", time.Since(start)).
		Msg("Export fetch complete")

	return result, nil
}

func (f *Fetcher) pageBudgetSpent(pageNum int) bool {
	return f.config.MaxPages > 0 && pageNum >= f.config.MaxPages
}

// wait sleeps the inter-page delay. It returns false when the run was cancelled.
func (f *Fetcher) wait(ctx context.Context, result *ExportResult, nextPage int, nextURL string) bool {
	if f.config.PageDelay <= 0 {
		return true
	}
	if err := f.sleep(ctx, f.config.PageDelay); err != nil {
		f.fail(result, &PageError{Page: nextPage, URL: nextURL, Kind: KindCancelled, Err: err})
		result.Stopped = StopCancelled
		return false
	}
	return true
}

func (f *Fetcher) fail(result *ExportResult, pe *PageError) {
	result.Errors = append(result.Errors, pe)
	f.logger.Warn().
		Int("page", pe.Page).
		Str("url", pe.URL).
		Str("kind", string(pe.Kind)).
		Int("status", pe.StatusCode).
		Err(pe.Err).
		Msg("Page failed")
}

func (f *Fetcher) notify(name string, page int, pageURL string, fetched, retained int, result *ExportResult, hasNext bool, pe *PageError) {
	if f.config.OnPage == nil {
		return
	}
	f.config.OnPage(PageEvent{
		Name:     name,
		Page:     page,
		URL:      pageURL,
		Fetched:  fetched,
		Retained: retained,
		Total:    result.RecordsWritten,
		HasNext:  hasNext,
		Err:      pe,
	})
}

// decodePage parses a body into a Page. Numbers stay json.Number.
func decodePage(body []byte, recordsKey string, next NextLinkExtractor) (*Page, error) {
	doc, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	raw, ok := doc[recordsKey]
	if !ok {
		return nil, fmt.Errorf("response has no %q key", recordsKey)
	}

	page := &Page{NextLink: next(doc)}
	if raw == nil {
		return page, nil
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%q is %T, not an array", recordsKey, raw)
	}

	page.Records = make([]Record, 0, len(items))
	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is %T, not an object", recordsKey, i, item)
		}
		page.Records = append(page.Records, record)
	}

	return page, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if doc == nil {
		return nil, errors.New("response body is not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON body: trailing data after object")
	}
	return doc, nil
}

// salvageNextLink extracts a next link from an error body, if it parses at all.
func salvageNextLink(body []byte, next NextLinkExtractor) string {
	doc, err := decodeObject(body)
	if err != nil {
		return ""
	}
	return next(doc)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
