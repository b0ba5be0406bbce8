// Package bulk implements the write-side maintenance operations: tagging
// tickets in one update_many call and deleting tickets, triggers and
// automations by id.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/zdtools/zdexport/pkg/client"
	"github.com/zdtools/zdexport/pkg/logging"
)

var (
	// ErrNoIDs is returned when an operation receives no ids.
	ErrNoIDs = errors.New("no ids provided")

	// ErrNoTag is returned when AddTag or LoadTagCSV has no tag.
	ErrNoTag = errors.New("no tag provided")

	// ErrInvalidID is returned for ids that are not positive integers.
	ErrInvalidID = errors.New("invalid id: must be a positive integer")
)

// DefaultDelay spaces per-record deletes.
const DefaultDelay = 500 * time.Millisecond

var mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helpdesk_bulk_mutations_total",
	Help: "Total bulk mutation requests by operation and outcome",
}, []string{"operation", "outcome"})

// Mutator is the write capability the bulk operations need.
// *client.Client implements it.
type Mutator interface {
	Put(ctx context.Context, target string, query url.Values, body any) (*client.Response, error)
	Delete(ctx context.Context, target string, query url.Values) (*client.Response, error)
}

// Result is the outcome of one per-record mutation.
type Result struct {
	ID string

	// Succeeded is true when the server answered 204 No Content.
	Succeeded bool

	// StatusCode is zero when no response was received.
	StatusCode int

	// Message is the response body or transport error for failures.
	Message string
}

// Status renders the result as Success or Failed.
func (r Result) Status() string {
	if r.Succeeded {
		return "Success"
	}
	return "Failed"
}

// Code renders the status code, or "Error" when no response was received.
func (r Result) Code() string {
	if r.StatusCode == 0 {
		return "Error"
	}
	return strconv.Itoa(r.StatusCode)
}

// JobStatus is the asynchronous job returned by update_many and destroy_many.
type JobStatus struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Total    int    `json:"total"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// AddTag adds tag to every ticket in ids with a single update_many request.
// Existing tags are kept. A 422 response is returned as *client.APIError with
// the server's per-ticket details.
func AddTag(ctx context.Context, m Mutator, ids []string, tag string) (*JobStatus, error) {
	ids, err := ValidateIDs(ids)
	if err != nil {
		return nil, err
	}
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, ErrNoTag
	}

	logger := logging.NewLogger("bulk")
	body := map[string]any{
		"ticket": map[string]any{"additional_tags": []string{tag}},
	}

	resp, err := m.Put(ctx, "tickets/update_many.json", url.Values{"ids": {strings.Join(ids, ",")}}, body)
	if err != nil {
		mutationsTotal.WithLabelValues("add_tag", "failed").Inc()
		logFailure(logger, "add_tag", err)
		return nil, fmt.Errorf("add tag %q to %d tickets: %w", tag, len(ids), err)
	}
	mutationsTotal.WithLabelValues("add_tag", "succeeded").Inc()

	job, err := decodeJob(resp)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("tag", tag).
		Int("records", len(ids)).
		Str("job_id", job.ID).
		Str("job_status", job.Status).
		Msg("Tag update queued")
	return job, nil
}

// DeleteTickets deletes tickets one at a time, waiting delay between requests.
// A failed delete is recorded and the loop continues; only cancellation stops
// it early, in which case the results so far are returned with ctx.Err().
func DeleteTickets(ctx context.Context, m Mutator, ids []string, delay time.Duration) ([]Result, error) {
	return deleteEach(ctx, m, "tickets", ids, delay)
}

// DeleteTriggers deletes triggers one at a time, waiting delay between requests.
func DeleteTriggers(ctx context.Context, m Mutator, ids []string, delay time.Duration) ([]Result, error) {
	return deleteEach(ctx, m, "triggers", ids, delay)
}

// DeleteAutomations removes automations with a single destroy_many request.
func DeleteAutomations(ctx context.Context, m Mutator, ids []string) (*JobStatus, error) {
	ids, err := ValidateIDs(ids)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("bulk")
	resp, err := m.Delete(ctx, "automations/destroy_many.json", url.Values{"ids": {strings.Join(ids, ",")}})
	if err != nil {
		mutationsTotal.WithLabelValues("delete_automations", "failed").Inc()
		logFailure(logger, "delete_automations", err)
		return nil, fmt.Errorf("delete %d automations: %w", len(ids), err)
	}
	mutationsTotal.WithLabelValues("delete_automations", "succeeded").Inc()
	logger.Info().Int("records", len(ids)).Int("status", resp.StatusCode).Msg("Automations deleted")

	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return &JobStatus{Status: "completed", Total: len(ids), Progress: len(ids)}, nil
	}
	return decodeJob(resp)
}

// Summarize counts succeeded and failed results.
func Summarize(results []Result) (succeeded, failed int) {
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// ValidateIDs trims ids and checks they are positive integers. The returned
// slice holds the canonical decimal form.
func ValidateIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoIDs
	}
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidID, raw)
		}
		out = append(out, strconv.FormatInt(n, 10))
	}
	return out, nil
}

func deleteEach(ctx context.Context, m Mutator, kind string, ids []string, delay time.Duration) ([]Result, error) {
	ids, err := ValidateIDs(ids)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("bulk").With().Str("resource", kind).Logger()
	operation := "delete_" + kind
	logger.Info().Int("records", len(ids)).Msg("Deleting records")

	results := make([]Result, 0, len(ids))
	for i, id := range ids {
		if i > 0 && delay > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result := deleteOne(ctx, m, kind, id)
		if !result.Succeeded && ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, result)

		if result.Succeeded {
			mutationsTotal.WithLabelValues(operation, "succeeded").Inc()
			logger.Info().Str("id", id).Msg("Deleted")
		} else {
			mutationsTotal.WithLabelValues(operation, "failed").Inc()
			logger.Warn().
				Str("id", id).
				Int("status", result.StatusCode).
				Str("error", result.Message).
				Msg("Delete failed")
		}
	}

	succeeded, failed := Summarize(results)
	logger.Info().Int("succeeded", succeeded).Int("failed", failed).Msg("Deletion finished")
	return results, nil
}

func deleteOne(ctx context.Context, m Mutator, kind, id string) Result {
	result := Result{ID: id}

	resp, err := m.Delete(ctx, fmt.Sprintf("%s/%s.json", kind, id), nil)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.StatusCode
			result.Message = string(apiErr.Body)
		} else {
			result.Message = err.Error()
		}
		return result
	}

	result.StatusCode = resp.StatusCode
	if resp.StatusCode == http.StatusNoContent {
		result.Succeeded = true
	} else {
		result.Message = string(resp.Body)
	}
	return result
}

func decodeJob(resp *client.Response) (*JobStatus, error) {
	var doc struct {
		JobStatus JobStatus `json:"job_status"`
	}
	if err := resp.JSON(&doc); err != nil {
		return nil, err
	}
	return &doc.JobStatus, nil
}

func logFailure(logger zerolog.Logger, operation string, err error) {
	event := logger.Error().Err(err).Str("operation", operation)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		event = event.Int("status", apiErr.StatusCode).Str("error_class", string(apiErr.ErrorClass))
		for id, detail := range apiErr.Details {
			logger.Error().Str("operation", operation).Str("id", id).Interface("detail", detail).Msg("Validation error")
		}
	}
	event.Msg("Bulk mutation failed")
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
