// Package report builds per-ticket detail reports. Each ticket is looked up on
// its own, optionally with its comments, and its organization id is resolved
// to a name. A failed lookup becomes an error row instead of ending the run.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/zdtools/zdexport/pkg/client"
	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/logging"
	"github.com/zdtools/zdexport/pkg/pagination"
)

// ErrorField is the record key holding a failed lookup's message.
const ErrorField = "error"

var ticketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helpdesk_report_tickets_total",
	Help: "Total tickets looked up for detail reports by outcome",
}, []string{"outcome"})

// API is the read capability a report needs. *client.Client implements it.
type API interface {
	pagination.PageFetcher
	Get(ctx context.Context, target string, query url.Values) (*client.Response, error)
	BaseURL() string
}

// Options tunes TicketDetails.
type Options struct {
	// Comments adds every comment of the ticket to its record.
	Comments bool

	// Delay is slept between tickets. Zero disables it.
	Delay time.Duration

	// Pipeline paginates the comments.
	Pipeline pagination.Config
}

// Columns are the CSV and XLSX columns of a details report. Comment bodies
// are only written by the JSON format.
var Columns = []export.Column{
	{Header: "ticket_id", Field: "ticket_id"},
	{Header: "subject", Field: "subject"},
	{Header: "type", Field: "type"},
	{Header: "status", Field: "status"},
	{Header: "requester_id", Field: "requester_id"},
	{Header: "organization_id", Field: "organization_id"},
	{Header: "organization_name", Field: "organization_name"},
	{Header: "created_at", Field: "created_at"},
	{Header: "solved_at", Field: "solved_at"},
	{Header: "resolution_time", Field: "resolution_time"},
	{Header: "resolution_days", Field: "resolution_days"},
	{Header: "comment_count", Field: "comment_count"},
	{Header: "error", Field: ErrorField},
}

// ticketFields are copied from the ticket object when present.
var ticketFields = []string{
	"subject", "type", "status", "priority", "requester_id", "organization_id",
	"created_at", "updated_at", "tags",
}

type reporter struct {
	api    API
	opts   Options
	pages  *pagination.Fetcher
	orgs   map[string]string
	logger zerolog.Logger
}

// TicketDetails looks up every ticket in ids and returns one record per id in
// input order. A failed lookup sets the record's error field and the run
// continues. Cancellation returns the records built so far with ctx.Err().
func TicketDetails(ctx context.Context, api API, ids []string, opts Options) ([]pagination.Record, error) {
	r := &reporter{
		api:    api,
		opts:   opts,
		pages:  pagination.NewFetcher(api, opts.Pipeline),
		orgs:   make(map[string]string),
		logger: logging.NewLogger("report"),
	}
	r.logger.Info().Int("records", len(ids)).Bool("comments", opts.Comments).Msg("Building ticket report")

	records := make([]pagination.Record, 0, len(ids))
	for i, id := range ids {
		if i > 0 && opts.Delay > 0 {
			if err := sleepContext(ctx, opts.Delay); err != nil {
				return records, err
			}
		}
		if err := ctx.Err(); err != nil {
			return records, err
		}

		record, err := r.ticket(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			record[ErrorField] = err.Error()
			ticketsTotal.WithLabelValues("failed").Inc()
			r.logger.Warn().Err(err).Str("id", id).Msg("Ticket lookup failed")
		} else {
			ticketsTotal.WithLabelValues("succeeded").Inc()
			r.logger.Debug().Str("id", id).Msg("Ticket looked up")
		}
		records = append(records, record)
	}

	r.logger.Info().Int("records", len(records)).Int("failed", Failures(records)).Msg("Ticket report built")
	return records, nil
}

// Failures counts the records carrying an error.
func Failures(records []pagination.Record) int {
	n := 0
	for _, rec := range records {
		if msg, _ := rec[ErrorField].(string); msg != "" {
			n++
		}
	}
	return n
}

// ticket always returns a record keyed by the ticket id, filled as far as the
// lookups got.
func (r *reporter) ticket(ctx context.Context, id string) (pagination.Record, error) {
	record := pagination.Record{"ticket_id": json.Number(id)}

	resp, err := r.api.Get(ctx, "tickets/"+id+".json", nil)
	if err != nil {
		return record, fmt.Errorf("ticket %s: %w", id, err)
	}
	var doc struct {
		Ticket map[string]any `json:"ticket"`
	}
	if err := resp.JSON(&doc); err != nil {
		return record, fmt.Errorf("ticket %s: %w", id, err)
	}
	if doc.Ticket == nil {
		return record, fmt.Errorf("ticket %s: response has no ticket object", id)
	}

	for _, f := range ticketFields {
		if v, ok := doc.Ticket[f]; ok {
			record[f] = v
		}
	}
	if solvedAt, d, ok := Resolution(doc.Ticket); ok {
		record["solved_at"] = solvedAt
		record["resolution_time"] = d.String()
		record["resolution_days"] = int(d.Hours() / 24)
	}

	if orgID := idString(doc.Ticket["organization_id"]); orgID != "" {
		name, err := r.organizationName(ctx, orgID)
		if err != nil {
			return record, err
		}
		record["organization_name"] = name
	}

	if r.opts.Comments {
		comments, err := r.comments(ctx, id)
		if err != nil {
			return record, err
		}
		record["comment_count"] = len(comments)
		record["comments"] = comments
	}
	return record, nil
}

// Resolution returns when a solved or closed ticket was solved and how long
// that took. Tickets carry no solved timestamp, so updated_at stands in for it.
func Resolution(ticket map[string]any) (solvedAt string, d time.Duration, ok bool) {
	status, _ := ticket["status"].(string)
	if status != "solved" && status != "closed" {
		return "", 0, false
	}
	createdAt, _ := ticket["created_at"].(string)
	solvedAt, _ = ticket["updated_at"].(string)

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return "", 0, false
	}
	solved, err := time.Parse(time.RFC3339, solvedAt)
	if err != nil || solved.Before(created) {
		return "", 0, false
	}
	return solvedAt, solved.Sub(created), true
}

func (r *reporter) organizationName(ctx context.Context, orgID string) (string, error) {
	if name, ok := r.orgs[orgID]; ok {
		return name, nil
	}

	resp, err := r.api.Get(ctx, "organizations/"+orgID+".json", nil)
	if err != nil {
		return "", fmt.Errorf("organization %s: %w", orgID, err)
	}
	var doc struct {
		Organization map[string]any `json:"organization"`
	}
	if err := resp.JSON(&doc); err != nil {
		return "", fmt.Errorf("organization %s: %w", orgID, err)
	}
	if doc.Organization == nil {
		return "", fmt.Errorf("organization %s: response has no organization object", orgID)
	}

	name, _ := doc.Organization["name"].(string)
	r.orgs[orgID] = name
	return name, nil
}

func (r *reporter) comments(ctx context.Context, id string) ([]pagination.Record, error) {
	req := pagination.FetchRequest{
		Name:       "comments",
		Endpoint:   strings.TrimRight(r.api.BaseURL(), "/") + "/tickets/" + id + "/comments.json",
		RecordsKey: "comments",
		NextLink:   pagination.NextPageField,
	}
	result, err := r.pages.FetchAll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("comments of ticket %s: %w", id, err)
	}
	if perr := result.Err(); perr != nil {
		return nil, fmt.Errorf("comments of ticket %s: %w", id, perr)
	}
	return result.Records, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
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
