package daemon_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/testsupport"
)

type apiClient struct {
	t     *testing.T
	base  string
	token string
	http  *http.Client
}

func openAPI(t *testing.T, cfg *config.Config) (*daemon.Daemon, *apiClient) {
	t.Helper()
	d := newDaemon(t, cfg)
	require.NoError(t, d.Open(ctxWithTimeout(t)))
	addr := d.APIAddress()
	require.NotEmpty(t, addr)
	return d, &apiClient{
		t:     t,
		base:  "http://" + addr,
		token: cfg.API.Token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body any, out any) *http.Response {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestAPIHealthSkipsAuth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = "s3cret"
	_, client := openAPI(t, cfg)

	client.token = ""
	var health map[string]string
	resp := client.do(http.MethodGet, "/api/health", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var failure api.ErrorResponse
	resp = client.do(http.MethodGet, "/api/tasks", nil, &failure)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", failure.Kind)

	client.token = "wrong"
	resp = client.do(http.MethodGet, "/api/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client.token = "s3cret"
	var status api.DaemonStatus
	resp = client.do(http.MethodGet, "/api/status", nil, &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, status.Running)
	assert.NotEmpty(t, status.Stages)
}

func TestAPIIngestAndListTasks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, client := openAPI(t, cfg)

	var ingested api.IngestItemResponse
	resp := client.do(http.MethodPost, "/api/ingest", api.IngestRequest{Path: recording(t, cfg, "podcast.wav"), Wait: true}, &ingested)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, ingested.Item.Created, 1)
	taskID := ingested.Item.Created[0]

	var list api.EntryListResponse
	resp = client.do(http.MethodGet, "/api/tasks", nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "task", list.Entries[0].Kind)
	assert.Equal(t, "podcast.wav", list.Entries[0].Task.Name)

	var show api.TaskResponse
	resp = client.do(http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil, &show)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", show.Task.Status)
	assert.Equal(t, "upload", show.Task.Operations[0].Kind)

	var queue api.IngestListResponse
	client.do(http.MethodGet, "/api/ingest", nil, &queue)
	require.Len(t, queue.Items, 1)
	assert.Equal(t, "finished", queue.Items[0].Status)

	var stats api.Statistics
	client.do(http.MethodGet, "/api/statistics", nil, &stats)
	assert.Equal(t, 1, stats.Total)

	resp = client.do(http.MethodDelete, fmt.Sprintf("/api/tasks/%d", taskID), nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = client.do(http.MethodGet, fmt.Sprintf("/api/tasks/%d", taskID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIRejectsBadRequests(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, client := openAPI(t, cfg)

	var failure api.ErrorResponse
	resp := client.do(http.MethodPost, "/api/ingest", api.IngestRequest{}, &failure)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", failure.Kind)
	assert.Contains(t, failure.Error, "path is required")

	resp = client.do(http.MethodGet, "/api/tasks/abc", nil, &failure)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = client.do(http.MethodGet, "/api/tasks/42", nil, &failure)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "registry", failure.Kind)

	enabled := true
	resp = client.do(http.MethodPut, "/api/stages/mastering", api.StageToggleRequest{Enabled: &enabled}, &failure)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = client.do(http.MethodGet, "/api/ingest/missing", nil, &failure)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIStageAndTaskToggles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, client := openAPI(t, cfg)

	var ingested api.IngestItemResponse
	client.do(http.MethodPost, "/api/ingest", api.IngestRequest{Path: recording(t, cfg, "meeting.wav"), Wait: true}, &ingested)
	require.Len(t, ingested.Item.Created, 1)
	taskID := ingested.Item.Created[0]

	enabled := true
	var stage api.StageToggleResponse
	resp := client.do(http.MethodPut, "/api/stages/translation", api.StageToggleRequest{Enabled: &enabled}, &stage)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stage.Touched)

	disabled := false
	var toggled api.ToggleResponse
	resp = client.do(http.MethodPost, fmt.Sprintf("/api/tasks/%d/toggle", taskID), api.ToggleRequest{Stage: "translation", Enabled: &disabled}, &toggled)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, toggled.Changes)
	assert.Equal(t, "translation", toggled.Changes[0].Kind)
	assert.False(t, toggled.Changes[0].Enabled)

	var failure api.ErrorResponse
	resp = client.do(http.MethodPost, fmt.Sprintf("/api/tasks/%d/toggle", taskID), api.ToggleRequest{Stage: "upload", Enabled: &disabled}, &failure)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIProcessingStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, client := openAPI(t, cfg)

	var state map[string]bool
	resp := client.do(http.MethodPost, "/api/processing/start", nil, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, state["running"])
	assert.True(t, d.Running())

	resp = client.do(http.MethodPost, "/api/processing/stop", nil, &state)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, state["running"])
	assert.False(t, d.Running())
}

func TestAPIEventsReturnCursor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, client := openAPI(t, cfg)

	var ingested api.IngestItemResponse
	client.do(http.MethodPost, "/api/ingest", api.IngestRequest{Path: recording(t, cfg, "voice.wav"), Wait: true}, &ingested)

	var events api.EventsResponse
	resp := client.do(http.MethodGet, "/api/events?since=0", nil, &events)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, events.Events)
	assert.Equal(t, events.Events[len(events.Events)-1].Seq, events.Next)

	var later api.EventsResponse
	client.do(http.MethodGet, fmt.Sprintf("/api/events?since=%d", events.Next), nil, &later)
	assert.Empty(t, later.Events)
	assert.Equal(t, events.Next, later.Next)
}
