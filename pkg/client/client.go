package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
)

// Client is a thin wrapper around net/http.Client that knows the control
// plane's JSON wire shapes. It carries no authentication — the daemon it
// talks to is expected to sit behind a trusted boundary.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://127.0.0.1:8080").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// StartRunRequest mirrors the control plane's POST /runs body.
type StartRunRequest struct {
	Engine     string            `json:"engine"`
	Workspace  string            `json:"workspace"`
	Creds      string            `json:"creds"`
	ReadOnly   bool              `json:"readOnly,omitempty"`
	UIDGID     string            `json:"uidgid,omitempty"`
	ExtraEnv   map[string]string `json:"extraEnv,omitempty"`
	PreferWarm *bool             `json:"preferWarm,omitempty"`
	Argv       []string          `json:"argv,omitempty"`
}

// StartRunResponse mirrors POST /runs's response.
type StartRunResponse struct {
	RunID         string `json:"runId"`
	ContainerName string `json:"containerName"`
}

// RunSummary mirrors one entry of GET /runs.
type RunSummary struct {
	RunID     string `json:"runId"`
	Engine    string `json:"engine"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
}

// RunMeta mirrors GET /runs/{id}/meta.
type RunMeta struct {
	RunID        string   `json:"runId"`
	Engine       string   `json:"engine"`
	Workspace    string   `json:"workspace"`
	Creds        string   `json:"creds"`
	ReadOnlyRoot bool     `json:"readOnlyRoot"`
	UIDGID       string   `json:"uidgid"`
	Backend      string   `json:"backend"`
	Warm         bool     `json:"warm"`
	Status       string   `json:"status"`
	ContainerID  string   `json:"containerId"`
	Mounts       []string `json:"mounts"`
}

// OkResponse mirrors the {ok[, fallback]} acknowledgement shape.
type OkResponse struct {
	OK       bool `json:"ok"`
	Fallback bool `json:"fallback"`
}

// RunArtifacts mirrors GET /runs/{id}/artifacts.
type RunArtifacts struct {
	Transcripts []string `json:"transcripts"`
	RecentFiles []string `json:"recentFiles"`
}

// Readiness mirrors GET /creds/check.
type Readiness struct {
	Engine  string   `json:"engine"`
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"`
	Found   struct {
		Keys []string `json:"keys,omitempty"`
		Dirs []string `json:"dirs,omitempty"`
	} `json:"found"`
}

// Health mirrors GET /health.
type Health struct {
	OK    bool   `json:"ok"`
	Image string `json:"image"`
	Allow struct {
		Workspaces []string `json:"workspaces"`
		Creds      []string `json:"creds"`
	} `json:"allow"`
}

// Whoami mirrors GET /whoami.
type Whoami struct {
	UID      int    `json:"uid"`
	GID      int    `json:"gid"`
	Platform string `json:"platform"`
}

// WarmSummary mirrors one entry of GET /warm.
type WarmSummary struct {
	ContainerID string `json:"containerId"`
	Engine      string `json:"engine"`
	Workspace   string `json:"workspace"`
	Creds       string `json:"creds"`
	ReadOnly    bool   `json:"readOnly"`
	UIDGID      string `json:"uidgid"`
}

// EnsureWarmRequest mirrors POST /warm/ensure's body.
type EnsureWarmRequest struct {
	Engine    string `json:"engine"`
	Workspace string `json:"workspace"`
	Creds     string `json:"creds"`
	ReadOnly  bool   `json:"readOnly,omitempty"`
	UIDGID    string `json:"uidgid,omitempty"`
}

// Event mirrors one frame of the GET /events SSE stream's JSON payload.
type Event struct {
	Lifecycle *struct {
		RunID string `json:"runId"`
		Kind  string `json:"kind"`
	} `json:"lifecycle,omitempty"`
	Artifact *struct {
		RunID string `json:"runId"`
		Kind  string `json:"kind"`
		Value string `json:"value"`
	} `json:"artifact,omitempty"`
}

// Health fetches the daemon's liveness and configured allow-lists.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp)
	return resp, err
}

// Whoami fetches the daemon process's identity and platform.
func (c *Client) Whoami(ctx context.Context) (Whoami, error) {
	var resp Whoami
	err := c.doJSON(ctx, http.MethodGet, "/whoami", nil, &resp)
	return resp, err
}

// ListWarm lists the current warm container pool.
func (c *Client) ListWarm(ctx context.Context) ([]WarmSummary, error) {
	var resp struct {
		Containers []WarmSummary `json:"containers"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/warm", nil, &resp)
	return resp.Containers, err
}

// EnsureWarm ensures a warm container exists for the given mount fingerprint.
func (c *Client) EnsureWarm(ctx context.Context, req EnsureWarmRequest) (string, error) {
	var resp struct {
		ContainerID string `json:"containerId"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/warm/ensure", req, &resp)
	return resp.ContainerID, err
}

// DeleteWarm stops and removes a warm container.
func (c *Client) DeleteWarm(ctx context.Context, containerID string) (OkResponse, error) {
	var resp OkResponse
	err := c.doJSON(ctx, http.MethodDelete, "/warm/"+url.PathEscape(containerID), nil, &resp)
	return resp, err
}

// File downloads a file from a Run's workspace (path must resolve under the
// workspace or its .runs directory).
func (c *Client) File(ctx context.Context, runID, path string) (io.ReadCloser, error) {
	reqPath := "/runs/" + url.PathEscape(runID) + "/file?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+reqPath, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Events opens the daemon-wide SSE event stream and returns the raw
// response body for the caller to decode frame-by-frame; the caller must
// Close it.
func (c *Client) Events(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: events: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Attach opens the bidirectional TTY WebSocket for a Run. The caller reads
// and writes raw binary frames directly on the returned connection, and
// sends `{"type":"resize","cols":N,"rows":N}` text frames to resize the
// Run's pty.
func (c *Client) Attach(ctx context.Context, runID string) (*websocket.Conn, error) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/ws/runs/" + url.PathEscape(runID)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: attach run %s: %w", runID, err)
	}
	return conn, nil
}

// StartRun starts a new Run.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (StartRunResponse, error) {
	var resp StartRunResponse
	err := c.doJSON(ctx, http.MethodPost, "/runs", req, &resp)
	return resp, err
}

// ListRuns lists every currently registered Run.
func (c *Client) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var resp struct {
		Runs []RunSummary `json:"runs"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/runs", nil, &resp)
	return resp.Runs, err
}

// RunMeta fetches a Run's static descriptors and mounts.
func (c *Client) RunMeta(ctx context.Context, runID string) (RunMeta, error) {
	var resp RunMeta
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID)+"/meta", nil, &resp)
	return resp, err
}

// Input writes bytes to a Run's TTY.
func (c *Client) Input(ctx context.Context, runID string, data []byte) error {
	body := struct {
		Data string `json:"data"`
	}{Data: string(data)}
	return c.doJSON(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/input", body, nil)
}

// Stop gracefully stops a Run.
func (c *Client) Stop(ctx context.Context, runID string) (OkResponse, error) {
	return c.terminate(ctx, http.MethodDelete, "/runs/"+url.PathEscape(runID))
}

// Kill immediately kills a Run.
func (c *Client) Kill(ctx context.Context, runID string) (OkResponse, error) {
	return c.terminate(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/kill")
}

// Close unconditionally tears down a Run.
func (c *Client) Close(ctx context.Context, runID string) (OkResponse, error) {
	return c.terminate(ctx, http.MethodPost, "/runs/"+url.PathEscape(runID)+"/close")
}

func (c *Client) terminate(ctx context.Context, method, path string) (OkResponse, error) {
	var resp OkResponse
	err := c.doJSON(ctx, method, path, nil, &resp)
	return resp, err
}

// StopAll gracefully stops every Run.
func (c *Client) StopAll(ctx context.Context, includeWarm bool) (OkResponse, error) {
	var resp OkResponse
	path := "/runs/stop-all?includeWarm=" + strconv.FormatBool(includeWarm)
	err := c.doJSON(ctx, http.MethodPost, path, nil, &resp)
	return resp, err
}

// KillAll immediately kills every Run.
func (c *Client) KillAll(ctx context.Context, includeWarm bool) (OkResponse, error) {
	var resp OkResponse
	path := "/runs/kill-all?includeWarm=" + strconv.FormatBool(includeWarm)
	err := c.doJSON(ctx, http.MethodPost, path, nil, &resp)
	return resp, err
}

// Artifacts lists the files and transcripts a Run has referenced.
func (c *Client) Artifacts(ctx context.Context, runID string) (RunArtifacts, error) {
	var resp RunArtifacts
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID)+"/artifacts", nil, &resp)
	return resp, err
}

// StreamLogs opens the SSE log stream for a Run and returns the raw
// response body for the caller to decode frame-by-frame; the caller must
// Close it.
func (c *Client) StreamLogs(ctx context.Context, runID string, follow bool) (io.ReadCloser, error) {
	path := "/runs/" + url.PathEscape(runID) + "/logs?follow=0"
	if follow {
		path = "/runs/" + url.PathEscape(runID) + "/logs?follow=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: stream logs: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// CheckCreds fetches an engine's credential readiness.
func (c *Client) CheckCreds(ctx context.Context, engine, creds string) (Readiness, error) {
	var resp Readiness
	path := "/creds/check?engine=" + url.QueryEscape(engine) + "&creds=" + url.QueryEscape(creds)
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp, err
}

// WriteEnv persists credential environment overlays.
func (c *Client) WriteEnv(ctx context.Context, creds string, updates map[string]string, deletes []string) (map[string]string, error) {
	body := struct {
		Creds   string            `json:"creds"`
		Updates map[string]string `json:"updates,omitempty"`
		Deletes []string          `json:"deletes,omitempty"`
	}{Creds: creds, Updates: updates, Deletes: deletes}

	var resp struct {
		Env map[string]string `json:"env"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/creds/write-env", body, &resp)
	return resp.Env, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("client: %s %s: status %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, string(data))
}
