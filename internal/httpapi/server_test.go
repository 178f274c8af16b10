package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cliboard/cliboard/pkg/alog"
	"github.com/cliboard/cliboard/pkg/credstore"
	"github.com/cliboard/cliboard/pkg/ctrdriver"
	"github.com/cliboard/cliboard/pkg/eventbus"
	"github.com/cliboard/cliboard/pkg/orchestrator"
	"github.com/cliboard/cliboard/pkg/pathguard"
	"github.com/cliboard/cliboard/pkg/warmpool"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// fakeDriver is a minimal in-memory ctrdriver.Driver, built the same way
// pkg/orchestrator's own test double is, for exercising the HTTP surface
// without a real container runtime.
type fakeDriver struct {
	streams map[string]*io.PipeWriter
	next    int
}

func newFakeDriver() *fakeDriver { return &fakeDriver{streams: make(map[string]*io.PipeWriter)} }

func (f *fakeDriver) CreateFresh(context.Context, ctrdriver.CreateSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	f.next++
	outR, outW := io.Pipe()
	_, inW := io.Pipe()
	id := "c"
	f.streams[id] = outW
	return ctrdriver.Ref{ContainerID: id}, ctrdriver.Stream{
		Reader: outR,
		Writer: inW,
		Closer: closerFunc(func() error { outW.Close(); inW.Close(); return nil }),
	}, nil
}
func (f *fakeDriver) ExecInWarm(context.Context, ctrdriver.Ref, ctrdriver.ExecSpec) (ctrdriver.Ref, ctrdriver.Stream, error) {
	panic("not used")
}
func (f *fakeDriver) Resize(context.Context, ctrdriver.Ref, int, int) error { return nil }
func (f *fakeDriver) Stop(context.Context, ctrdriver.Ref, int) error       { return nil }
func (f *fakeDriver) Kill(context.Context, ctrdriver.Ref) error            { return nil }
func (f *fakeDriver) ExecOneShot(context.Context, ctrdriver.Ref, []string) error {
	return nil
}
func (f *fakeDriver) Remove(context.Context, ctrdriver.Ref, bool) error    { return nil }
func (f *fakeDriver) Wait(context.Context, ctrdriver.Ref) (ctrdriver.ExitInfo, error) {
	return ctrdriver.ExitInfo{}, nil
}
func (f *fakeDriver) Inspect(context.Context, ctrdriver.Ref) (ctrdriver.Status, error) {
	return ctrdriver.Status{Running: true}, nil
}
func (f *fakeDriver) List(context.Context, map[string]string) ([]ctrdriver.Ref, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *fakeDriver, string, string) {
	t.Helper()
	d := newFakeDriver()
	bus := eventbus.New()
	warm := warmpool.New(d, "cliboard/agent:latest")
	orch := orchestrator.New(d, warm, orchestrator.BackendDocker, "cliboard/agent:latest", bus, nil)

	wsRoot := t.TempDir()
	credsRoot := t.TempDir()

	srv := New(Deps{
		Orchestrator:   orch,
		WarmPool:       warm,
		Bus:            bus,
		Creds:          credstore.New(nil),
		WorkspaceGuard: pathguard.New([]string{wsRoot}),
		CredsGuard:     pathguard.New([]string{credsRoot}),
		Image:          "cliboard/agent:latest",
		Log:            alog.NewDefault(),
	})
	return srv, d, wsRoot, credsRoot
}

func TestHealth(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		OK    bool   `json:"ok"`
		Image string `json:"image"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.OK || body.Image != "cliboard/agent:latest" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStartRun_InvalidEngineIsBadRequest(t *testing.T) {
	srv, _, wsRoot, credsRoot := newTestServer(t)
	payload := map[string]any{
		"engine":    "not-a-real-engine",
		"workspace": wsRoot,
		"creds":     credsRoot,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStartRun_WorkspaceOutsideAllowListIsBadRequest(t *testing.T) {
	srv, _, _, credsRoot := newTestServer(t)
	payload := map[string]any{
		"engine":    "codex",
		"workspace": "/not/allowed",
		"creds":     credsRoot,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestStartRun_RelativeWorkspaceIsBadRequest(t *testing.T) {
	srv, _, _, credsRoot := newTestServer(t)
	payload := map[string]any{
		"engine":    "codex",
		"workspace": "relative/workspace",
		"creds":     credsRoot,
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("invalid-path")) {
		t.Fatalf("expected invalid-path error kind, got body %s", rec.Body.String())
	}
}

func TestStartRunThenListAndStop(t *testing.T) {
	srv, _, wsRoot, credsRoot := newTestServer(t)
	payload := map[string]any{
		"engine":    "codex",
		"workspace": wsRoot,
		"creds":     credsRoot,
		"argv":      []string{"codex"},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start run: got status %d, body %s", rec.Code, rec.Body.String())
	}

	var started struct {
		RunID         string `json:"runId"`
		ContainerName string `json:"containerName"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if started.RunID == "" {
		t.Fatal("expected a runId")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/runs", nil)
	listRec := httptest.NewRecorder()
	srv.Router.ServeHTTP(listRec, listReq)
	var listed struct {
		Runs []RunSummary `json:"runs"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Runs) != 1 || listed.Runs[0].RunID != started.RunID {
		t.Fatalf("unexpected list: %+v", listed)
	}

	stopReq := httptest.NewRequest(http.MethodDelete, "/runs/"+started.RunID, nil)
	stopRec := httptest.NewRecorder()
	srv.Router.ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("stop run: got status %d, body %s", stopRec.Code, stopRec.Body.String())
	}
}

func TestStopUnknownRun_Returns404(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestWriteEnvThenCheckCreds(t *testing.T) {
	srv, _, _, credsRoot := newTestServer(t)

	writeBody, _ := json.Marshal(map[string]any{
		"creds":   credsRoot,
		"updates": map[string]string{"OPENAI_API_KEY": "sk-test"},
	})
	writeReq := httptest.NewRequest(http.MethodPost, "/creds/write-env", bytes.NewReader(writeBody))
	writeReq.Header.Set("Content-Type", "application/json")
	writeRec := httptest.NewRecorder()
	srv.Router.ServeHTTP(writeRec, writeReq)
	if writeRec.Code != http.StatusOK {
		t.Fatalf("write-env: got status %d, body %s", writeRec.Code, writeRec.Body.String())
	}

	checkReq := httptest.NewRequest(http.MethodGet, "/creds/check?engine=codex&creds="+credsRoot, nil)
	checkRec := httptest.NewRecorder()
	srv.Router.ServeHTTP(checkRec, checkReq)
	if checkRec.Code != http.StatusOK {
		t.Fatalf("check: got status %d, body %s", checkRec.Code, checkRec.Body.String())
	}
	var readiness struct {
		Ready bool `json:"ready"`
	}
	if err := json.Unmarshal(checkRec.Body.Bytes(), &readiness); err != nil {
		t.Fatal(err)
	}
	if !readiness.Ready {
		t.Fatal("expected codex to be ready after writing OPENAI_API_KEY")
	}
}
