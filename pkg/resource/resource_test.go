package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/pagination"
)

func TestLookup(t *testing.T) {
	r, err := Lookup(" Automations ")
	require.NoError(t, err)
	assert.Equal(t, "automations", r.Name)
	assert.Equal(t, Links, r.Style)

	_, err = Lookup("macros")
	assert.ErrorIs(t, err, ErrUnknownResource)
	assert.Contains(t, err.Error(), "tickets")
}

func TestLookup_ReturnsCopy(t *testing.T) {
	r, err := Lookup("tickets")
	require.NoError(t, err)
	r.Path = "/changed.json"

	again, err := Lookup("tickets")
	require.NoError(t, err)
	assert.Equal(t, "/tickets.json", again.Path)
}

func TestCatalogEntriesAreComplete(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range All() {
		assert.False(t, seen[r.Name], "duplicate resource %s", r.Name)
		seen[r.Name] = true

		assert.NotEmpty(t, r.Path, r.Name)
		assert.NotEmpty(t, r.RecordsKey, r.Name)
		assert.NotEmpty(t, r.Columns, r.Name)

		req := r.Request("https://acme.zendesk.com/api/v2")
		assert.NoError(t, req.Validate(), r.Name)
	}

	for _, name := range []string{"tickets", "organizations", "triggers", "automations", "tags", "users", "ticket_fields", "sla_policies"} {
		assert.True(t, seen[name], "missing %s", name)
	}
	assert.Len(t, Names(), len(seen))
}

func TestRequest(t *testing.T) {
	r, err := Lookup("automations")
	require.NoError(t, err)

	req := r.Request("https://acme.zendesk.com/api/v2/")
	assert.Equal(t, "https://acme.zendesk.com/api/v2/automations.json", req.Endpoint)
	assert.Equal(t, "automations", req.RecordsKey)
	assert.Equal(t, "created_at", req.Query.Get("sort_by"))
	assert.Equal(t, "desc", req.Query.Get("sort_order"))
	assert.Equal(t, "usage_1h,usage_24h,usage_7d,usage_30d", req.Query.Get("include"))

	next := req.NextLink(map[string]any{"links": map[string]any{"next": "https://n"}})
	assert.Equal(t, "https://n", next)

	req.Query.Set("sort_by", "id")
	again := r.Request("https://acme.zendesk.com/api/v2")
	assert.Equal(t, "created_at", again.Query.Get("sort_by"), "request query must not alias the catalog")
}

func TestRequest_NextPageStyle(t *testing.T) {
	r, err := Lookup("users")
	require.NoError(t, err)

	req := r.Request("https://acme.zendesk.com/api/v2")
	assert.Nil(t, req.Query)
	assert.Equal(t, "https://x/p2", req.NextLink(map[string]any{"next_page": "https://x/p2"}))
}

func TestColumns(t *testing.T) {
	tags, err := Lookup("tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"Tag Name", "Count"}, export.Headers(tags.Columns))

	fields, err := Lookup("ticket_fields")
	require.NoError(t, err)
	row := export.Row(pagination.Record{
		"id":                   "1",
		"custom_field_options": []any{map[string]any{"name": "A", "value": "a"}},
	}, fields.Columns)
	assert.Equal(t, `[{"name":"A","value":"a"}]`, row[8])

	triggers, err := Lookup("triggers")
	require.NoError(t, err)
	row = export.Row(pagination.Record{"created_at": "2023-11-30T08:00:00Z"}, triggers.Columns)
	assert.Equal(t, "11/30/2023", row[4])
}

func TestPrefix(t *testing.T) {
	r, _ := Lookup("triggers")
	assert.Equal(t, "zendesk_triggers", r.Prefix())

	u, _ := Lookup("users")
	assert.Equal(t, "users", u.Prefix())
}

func TestIncidents(t *testing.T) {
	r := Incidents("83071")

	req := r.Request("https://acme.zendesk.com/api/v2")
	assert.Equal(t, "https://acme.zendesk.com/api/v2/tickets/83071/incidents.json", req.Endpoint)
	assert.Equal(t, "tickets", req.RecordsKey)
	assert.Equal(t, "incidents_83071", r.Prefix())

	_, err := Lookup("incidents")
	assert.Error(t, err, "incidents need a problem id and are not in the catalog")
}
