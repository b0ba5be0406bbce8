package bulk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdtools/zdexport/internal/testutil"
	"github.com/zdtools/zdexport/pkg/client"
)

type call struct {
	Method string
	Target string
	Query  url.Values
	Body   any
}

type reply struct {
	resp *client.Response
	err  error
}

// fakeMutator answers by target and records every call.
type fakeMutator struct {
	replies map[string]reply
	calls   []call
}

func newFakeMutator() *fakeMutator {
	return &fakeMutator{replies: map[string]reply{}}
}

func (f *fakeMutator) on(target string, status int, body string) {
	f.replies[target] = reply{resp: &client.Response{StatusCode: status, Body: []byte(body)}}
}

func (f *fakeMutator) fail(target string, err error) {
	f.replies[target] = reply{err: err}
}

func (f *fakeMutator) answer(c call) (*client.Response, error) {
	f.calls = append(f.calls, c)
	r, ok := f.replies[c.Target]
	if !ok {
		return &client.Response{StatusCode: http.StatusNoContent}, nil
	}
	return r.resp, r.err
}

func (f *fakeMutator) Put(_ context.Context, target string, query url.Values, body any) (*client.Response, error) {
	return f.answer(call{Method: http.MethodPut, Target: target, Query: query, Body: body})
}

func (f *fakeMutator) Delete(_ context.Context, target string, query url.Values) (*client.Response, error) {
	return f.answer(call{Method: http.MethodDelete, Target: target, Query: query})
}

func TestValidateIDs(t *testing.T) {
	ids, err := ValidateIDs([]string{" 61348", "065171", "101112 "})
	require.NoError(t, err)
	assert.Equal(t, []string{"61348", "65171", "101112"}, ids)

	_, err = ValidateIDs(nil)
	assert.ErrorIs(t, err, ErrNoIDs)

	for _, bad := range []string{"abc", "12.5", "-4", "0", ""} {
		_, err := ValidateIDs([]string{"1", bad})
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", bad)
	}
}

func TestAddTag(t *testing.T) {
	m := newFakeMutator()
	m.on("tickets/update_many.json", http.StatusOK,
		`{"job_status":{"id":"8b726e606741012ffc2d782bcb7848fe","status":"queued","total":3,"progress":0}}`)

	job, err := AddTag(context.Background(), m, []string{"61348", "65171", "65356"}, " csat_invalid ")
	require.NoError(t, err)
	assert.Equal(t, "8b726e606741012ffc2d782bcb7848fe", job.ID)
	assert.Equal(t, "queued", job.Status)
	assert.Equal(t, 3, job.Total)

	require.Len(t, m.calls, 1)
	c := m.calls[0]
	assert.Equal(t, http.MethodPut, c.Method)
	assert.Equal(t, "61348,65171,65356", c.Query.Get("ids"))
	assert.Equal(t, map[string]any{
		"ticket": map[string]any{"additional_tags": []string{"csat_invalid"}},
	}, c.Body)
}

func TestAddTag_Invalid(t *testing.T) {
	m := newFakeMutator()

	_, err := AddTag(context.Background(), m, nil, "vip")
	assert.ErrorIs(t, err, ErrNoIDs)

	_, err = AddTag(context.Background(), m, []string{"1"}, "  ")
	assert.ErrorIs(t, err, ErrNoTag)

	_, err = AddTag(context.Background(), m, []string{"1", "x"}, "vip")
	assert.ErrorIs(t, err, ErrInvalidID)

	assert.Empty(t, m.calls, "invalid input must not reach the API")
}

func TestAddTag_ValidationDetails(t *testing.T) {
	mock := testutil.NewMockHelpdesk()
	defer mock.Close()
	mock.SetResponse("PUT /api/v2/tickets/update_many.json", testutil.NewValidationErrorResponse(map[string][]map[string]string{
		"65171": {{"description": "Ticket is closed"}},
	}))

	nop := zerolog.Nop()
	cfg := client.DefaultConfig("", "agent@example.com", "secret")
	cfg.BaseURL = mock.URL() + "/api/v2"
	cfg.RequestsPerMinute = 0
	cfg.Logger = &nop
	c, err := client.New(cfg)
	require.NoError(t, err)

	_, err = AddTag(context.Background(), c, []string{"61348", "65171"}, "vip")
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	require.Contains(t, apiErr.Details, "65171")
	assert.Equal(t, 1, mock.GetRequestCount(), "422 must not be retried")
}

func TestDeleteTickets(t *testing.T) {
	m := newFakeMutator()
	m.on("tickets/84654.json", http.StatusNotFound, `{"error":"RecordNotFound"}`)
	m.fail("tickets/84856.json", errors.New("connection reset"))

	results, err := DeleteTickets(context.Background(), m, []string{"84651", "84654", "84856"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Succeeded)
	assert.Equal(t, "Success", results[0].Status())
	assert.Equal(t, "204", results[0].Code())

	assert.False(t, results[1].Succeeded)
	assert.Equal(t, http.StatusNotFound, results[1].StatusCode)
	assert.Equal(t, `{"error":"RecordNotFound"}`, results[1].Message)

	assert.False(t, results[2].Succeeded)
	assert.Equal(t, "Error", results[2].Code())
	assert.Contains(t, results[2].Message, "connection reset")

	succeeded, failed := Summarize(results)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, failed)

	for i, id := range []string{"84651", "84654", "84856"} {
		assert.Equal(t, http.MethodDelete, m.calls[i].Method)
		assert.Equal(t, "tickets/"+id+".json", m.calls[i].Target)
	}
}

func TestDeleteTickets_APIErrorStatus(t *testing.T) {
	m := newFakeMutator()
	m.fail("tickets/9.json", &client.APIError{StatusCode: http.StatusForbidden, Body: []byte("forbidden")})

	results, err := DeleteTickets(context.Background(), m, []string{"9"}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, http.StatusForbidden, results[0].StatusCode)
	assert.Equal(t, "forbidden", results[0].Message)
}

func TestDeleteTriggers_Delay(t *testing.T) {
	m := newFakeMutator()

	start := time.Now()
	results, err := DeleteTriggers(context.Background(), m, []string{"1", "2", "3"}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond, "two delays between three deletes")
	assert.Equal(t, "triggers/2.json", m.calls[1].Target)
}

func TestDeleteTriggers_Cancelled(t *testing.T) {
	m := newFakeMutator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := DeleteTriggers(ctx, m, []string{"1", "2"}, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, m.calls)
}

func TestDeleteAutomations(t *testing.T) {
	m := newFakeMutator()
	m.on("automations/destroy_many.json", http.StatusNoContent, "")

	job, err := DeleteAutomations(context.Background(), m, []string{"1234", "2345"})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Total)

	require.Len(t, m.calls, 1)
	assert.Equal(t, "1234,2345", m.calls[0].Query.Get("ids"))

	_, err = DeleteAutomations(context.Background(), m, nil)
	assert.ErrorIs(t, err, ErrNoIDs)
}

func TestDeleteAutomations_JobStatus(t *testing.T) {
	m := newFakeMutator()
	m.on("automations/destroy_many.json", http.StatusOK, `{"job_status":{"id":"abc","status":"queued","total":2}}`)

	job, err := DeleteAutomations(context.Background(), m, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, "abc", job.ID)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTagCSV(t *testing.T) {
	path := writeFile(t, "add_tags.csv", "Ticket ID,Tag\n61348,csat_invalid\n65171,\n,orphan\n101112\n")

	ids, tag, err := LoadTagCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"61348", "65171", "101112"}, ids)
	assert.Equal(t, "orphan", tag, "last non-empty tag wins")
}

func TestLoadTagCSV_Errors(t *testing.T) {
	_, _, err := LoadTagCSV(writeFile(t, "a.csv", "Ticket ID,Tag\n1,\n2,\n"))
	assert.ErrorIs(t, err, ErrNoTag)

	_, _, err = LoadTagCSV(writeFile(t, "b.csv", "Ticket ID,Tag\n"))
	assert.ErrorIs(t, err, ErrNoIDs)

	_, _, err = LoadTagCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadIDColumn(t *testing.T) {
	path := writeFile(t, "delete_triggers.csv", "\ufeffTrigger_deletion,Note\n12345678,old\n\n87654321,dup\n,blank\n")

	ids, err := LoadIDColumn(path, "Trigger_deletion")
	require.NoError(t, err)
	assert.Equal(t, []string{"12345678", "87654321"}, ids)

	_, err = LoadIDColumn(path, "Trigger ID")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestWriteLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trigger_deletion_log.csv")
	results := []Result{
		{ID: "1", Succeeded: true, StatusCode: 204},
		{ID: "2", StatusCode: 404, Message: `{"error":"RecordNotFound"}`},
		{ID: "3", Message: "dial tcp: connection refused"},
	}

	meta, err := WriteLog(results, "Trigger ID", path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), meta.RowCount, "header plus three results")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Trigger ID,Status,Response Code,Error Message\n"+
			"1,Success,204,\n"+
			`2,Failed,404,"{""error"":""RecordNotFound""}"`+"\n"+
			"3,Failed,Error,dial tcp: connection refused\n",
		string(data))
}
