// Package resource lists the helpdesk list endpoints that can be exported.
package resource

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/pagination"
)

// ErrUnknownResource is returned by Lookup for a name not in the catalog.
var ErrUnknownResource = errors.New("unknown resource")

// Style is the next-link shape a resource uses.
type Style string

const (
	// NextPage resources carry a flat "next_page" URL.
	NextPage Style = "next_page"

	// Links resources carry "links.next" and "meta.has_more".
	Links Style = "links"
)

// Extractor returns the pagination extractor for s.
func (s Style) Extractor() pagination.NextLinkExtractor {
	if s == Links {
		return pagination.LinksNext
	}
	return pagination.NextPageField
}

// Resource describes one exportable list endpoint.
type Resource struct {
	// Name is the CLI name and default file prefix.
	Name string

	// Path is relative to the API base, e.g. "/tickets.json".
	Path string

	// RecordsKey is the body key holding the records array.
	RecordsKey string

	Style Style

	// Query is sent with the first request.
	Query url.Values

	// Columns are the default CSV/XLSX columns.
	Columns []export.Column

	// FilePrefix names output files. Empty uses Name.
	FilePrefix string
}

// Endpoint joins baseURL (".../api/v2") and the resource path.
func (r *Resource) Endpoint(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + r.Path
}

// Request builds the pipeline request for this resource.
func (r *Resource) Request(baseURL string) pagination.FetchRequest {
	var query url.Values
	if len(r.Query) > 0 {
		query = make(url.Values, len(r.Query))
		for k, v := range r.Query {
			query[k] = append([]string(nil), v...)
		}
	}

	return pagination.FetchRequest{
		Name:       r.Name,
		Endpoint:   r.Endpoint(baseURL),
		Query:      query,
		RecordsKey: r.RecordsKey,
		NextLink:   r.Style.Extractor(),
	}
}

// Prefix returns the output file prefix.
func (r *Resource) Prefix() string {
	if r.FilePrefix != "" {
		return r.FilePrefix
	}
	return r.Name
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (*Resource, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i := range catalog {
		if catalog[i].Name == key {
			r := catalog[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownResource, name, strings.Join(Names(), ", "))
}

// Incidents returns the incident tickets linked to one problem ticket. It is
// not in the catalog because its path depends on the problem id.
func Incidents(problemID string) *Resource {
	return &Resource{
		Name:       "incidents",
		Path:       "/tickets/" + problemID + "/incidents.json",
		RecordsKey: "tickets",
		Style:      NextPage,
		FilePrefix: "incidents_" + problemID,
		Columns: export.Columns(
			"id", "subject", "status", "priority", "problem_id", "organization_id",
			"created_at", "updated_at",
		),
	}
}

// All returns a copy of the catalog.
func All() []Resource {
	out := make([]Resource, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns the sorted resource names.
func Names() []string {
	names := make([]string, len(catalog))
	for i, r := range catalog {
		names[i] = r.Name
	}
	sort.Strings(names)
	return names
}

var catalog = []Resource{
	{
		Name:       "tickets",
		Path:       "/tickets.json",
		RecordsKey: "tickets",
		Style:      NextPage,
		Columns: export.Columns(
			"url", "id", "created_at", "updated_at", "type", "subject", "description", "priority",
			"status", "organization_id", "tags", "custom_fields", "satisfaction_rating", "fields",
			"from_messaging_channel",
		),
	},
	{
		Name:       "organizations",
		Path:       "/organizations.json",
		RecordsKey: "organizations",
		Style:      NextPage,
		FilePrefix: "zendesk_orgs",
		Columns: []export.Column{
			{Header: "ID", Field: "id"},
			{Header: "Name", Field: "name"},
			{Header: "Created At", Field: "created_at"},
			{Header: "Updated At", Field: "updated_at"},
			{Header: "Domain Names", Field: "domain_names", Format: export.Join(", ")},
			{Header: "Account Classification", Field: "organization_fields.account_classification"},
			{Header: "Account Owner SF", Field: "organization_fields.account_owner_sf_"},
			{Header: "Account Type SF", Field: "organization_fields.account_type_sf_"},
			{Header: "Billing Org ID", Field: "organization_fields.billing_org_id"},
			{Header: "Salesforce Account Stage", Field: "organization_fields.salesforce_account_stage"},
			{Header: "Service Level", Field: "organization_fields.service_level"},
			{Header: "SFDC Account ID", Field: "organization_fields.sfdc_account_id"},
			{Header: "Sync To Zendesk", Field: "organization_fields.sync_to_zendesk"},
			{Header: "Website", Field: "organization_fields.webste"},
		},
	},
	{
		Name:       "triggers",
		Path:       "/triggers.json",
		RecordsKey: "triggers",
		Style:      NextPage,
		FilePrefix: "zendesk_triggers",
		Columns: []export.Column{
			{Header: "Trigger ID", Field: "id"},
			{Header: "Title", Field: "title"},
			{Header: "Active", Field: "active"},
			{Header: "Position", Field: "position"},
			{Header: "Created At", Field: "created_at", Format: export.DateFormat("01/02/2006")},
			{Header: "Updated At", Field: "updated_at", Format: export.DateFormat("01/02/2006")},
			{Header: "Conditions", Field: "conditions"},
			{Header: "Actions", Field: "actions"},
		},
	},
	{
		Name:       "automations",
		Path:       "/automations.json",
		RecordsKey: "automations",
		Style:      Links,
		FilePrefix: "zendesk_automations",
		Query: url.Values{
			"sort_by":    {"created_at"},
			"sort_order": {"desc"},
			"include":    {"usage_1h,usage_24h,usage_7d,usage_30d"},
		},
		Columns: []export.Column{
			{Header: "id", Field: "id"},
			{Header: "title", Field: "title"},
			{Header: "active", Field: "active"},
			{Header: "created_at", Field: "created_at"},
			{Header: "updated_at", Field: "updated_at"},
			{Header: "position", Field: "position"},
			{Header: "usage_1h", Field: "usage_1h", Format: export.Default("0")},
			{Header: "usage_24h", Field: "usage_24h", Format: export.Default("0")},
			{Header: "usage_7d", Field: "usage_7d", Format: export.Default("0")},
			{Header: "usage_30d", Field: "usage_30d", Format: export.Default("0")},
			{Header: "conditions", Field: "conditions", Format: export.Default("{}")},
			{Header: "actions", Field: "actions", Format: export.Default("[]")},
		},
	},
	{
		Name:       "tags",
		Path:       "/tags.json",
		RecordsKey: "tags",
		Style:      NextPage,
		FilePrefix: "fetch_tags",
		Columns: []export.Column{
			{Header: "Tag Name", Field: "name"},
			{Header: "Count", Field: "count"},
		},
	},
	{
		Name:       "users",
		Path:       "/users.json",
		RecordsKey: "users",
		Style:      NextPage,
		Columns:    export.Columns("id", "name", "email", "role"),
	},
	{
		Name:       "ticket_fields",
		Path:       "/ticket_fields.json",
		RecordsKey: "ticket_fields",
		Style:      NextPage,
		Columns: []export.Column{
			{Header: "id", Field: "id"},
			{Header: "type", Field: "type"},
			{Header: "title", Field: "title"},
			{Header: "raw_title", Field: "raw_title"},
			{Header: "description", Field: "description"},
			{Header: "raw_description", Field: "raw_description"},
			{Header: "active", Field: "active"},
			{Header: "required", Field: "required"},
			{Header: "options", Field: "custom_field_options", Format: export.Default("[]")},
			{Header: "created_at", Field: "created_at"},
			{Header: "updated_at", Field: "updated_at"},
		},
	},
	{
		Name:       "sla_policies",
		Path:       "/slas/policies.json",
		RecordsKey: "sla_policies",
		Style:      NextPage,
		Columns:    export.Columns("id", "title", "description", "position", "filter", "policy_metrics", "created_at", "updated_at"),
	},
}
