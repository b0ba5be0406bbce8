// Package pagination implements the paginated export pipeline for helpdesk
// list endpoints.
//
// The remote API uses link-style (cursor) pagination: every page carries the
// URL of the next one, either as a flat "next_page" key or as a nested
// "links.next" key depending on the endpoint. Pages are therefore fetched
// strictly one after another, in server order, with a fixed delay between
// requests to stay under the per-minute quota.
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(apiClient, pagination.DefaultConfig())
//	result, err := fetcher.FetchAll(ctx, pagination.FetchRequest{
//		Name:       "automations",
//		Endpoint:   "https://acme.zendesk.com/api/v2/automations.json",
//		RecordsKey: "automations",
//		NextLink:   pagination.LinksNext,
//		Limit:      10,
//	})
//
// A run has two states, FETCHING and DONE. It reaches DONE when a page has no
// next link, when Limit records were retained (no further page is requested
// even if one exists), or on the first page failure. Page failures never
// discard what was already retained: ExportResult carries the partial records
// together with the error list, and writing files is a separate step (see
// package export).
//
// Retrying transient failures (429, 5xx, network) belongs to the PageFetcher
// implementation; the pipeline sees only the final outcome of each page.
package pagination
