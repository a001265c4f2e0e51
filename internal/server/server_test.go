package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/battlewithbytes/pve-nestlab/internal/config"
	"github.com/battlewithbytes/pve-nestlab/internal/ops"
)

// mockHV is a no-op Hypervisor for server tests.
type mockHV struct {
	dialErr error
}

func (m *mockHV) ListNodes(ctx context.Context) ([]ops.NodeInfo, error) {
	return []ops.NodeInfo{{Node: "pve", Status: "online"}}, nil
}
func (m *mockHV) ListStorage(ctx context.Context, node string) ([]ops.StorageEntry, error) {
	return []ops.StorageEntry{{ID: "local-lvm", Type: "lvmthin", Content: "images"}}, nil
}
func (m *mockHV) ListTemplates(ctx context.Context) ([]ops.TemplateInfo, error) {
	return nil, nil
}
func (m *mockHV) ListISOs(ctx context.Context, node, storage string) ([]ops.ISOInfo, error) {
	return []ops.ISOInfo{{VolID: "local:iso/proxmox-ve_8.2-1.iso", Size: 1}}, nil
}
func (m *mockHV) NextVMID(ctx context.Context) (int, error) { return 110, nil }
func (m *mockHV) CreateVM(ctx context.Context, node string, opts ops.VMCreateOptions) (string, error) {
	return "UPID:mock:create", nil
}
func (m *mockHV) StartVM(ctx context.Context, node string, vmid int) (string, error) {
	return "UPID:mock:start", nil
}
func (m *mockHV) StopVM(ctx context.Context, node string, vmid int) (string, error) {
	return "UPID:mock:stop", nil
}
func (m *mockHV) DeleteVM(ctx context.Context, node string, vmid int) (string, error) {
	return "UPID:mock:delete", nil
}
func (m *mockHV) TaskStatus(ctx context.Context, node, upid string) (ops.TaskInfo, error) {
	return ops.TaskInfo{State: ops.TaskDone}, nil
}
func (m *mockHV) AgentIP(ctx context.Context, node string, vmid int) (string, error) {
	return "192.168.1.50", nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Service.BindAddress = "127.0.0.1"
	cfg.Service.Port = 0
	cfg.Limits.TaskTimeoutSec = 1
	cfg.Limits.PollIntervalSec = 1
	cfg.Limits.ReachabilityTimeoutSec = 1
	cfg.Nested.Storage = "local-lvm"
	cfg.Guest.Storage = "local-lvm"
	return cfg
}

func testServer(t *testing.T, cfg *config.Config, hv *mockHV) *Server {
	t.Helper()
	dial := func(ctx context.Context, profile ops.Profile) (ops.Hypervisor, error) {
		if hv.dialErr != nil {
			return nil, hv.dialErr
		}
		return hv, nil
	}
	probe := func(ctx context.Context, addr, user, password string) error { return nil }
	eng := ops.New(cfg, dial, ops.WithProbe(probe), ops.WithMetrics(ops.NewMetrics()))
	return New(cfg, eng)
}

func doRequest(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func connectServer(t *testing.T, srv *Server) {
	t.Helper()
	w := doRequest(t, srv, "POST", "/api/connect",
		`{"host":"10.0.0.2","user":"root@pam","password":"secret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d (body: %s)", w.Code, w.Body.String())
	}
}

// waitOpDone polls /api/status until the current operation reaches a
// terminal phase and returns the operation object.
func waitOpDone(t *testing.T, srv *Server) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		w := doRequest(t, srv, "GET", "/api/status", "")
		body := decodeJSON(t, w)
		if op, ok := body["operation"].(map[string]interface{}); ok {
			phase := op["phase"]
			if phase == "succeeded" || phase == "failed" {
				return op
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("operation never reached a terminal phase")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Health ---

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "GET", "/api/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeJSON(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want %q", body["status"], "ok")
	}
}

// --- Connect ---

func TestConnectEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "POST", "/api/connect",
		`{"host":"10.0.0.2","user":"root@pam","password":"secret"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["status"] != "connected" {
		t.Errorf("status = %v", body["status"])
	}
	nodes := body["nodes"].([]interface{})
	if len(nodes) != 1 || nodes[0] != "pve" {
		t.Errorf("nodes = %v, want [pve]", nodes)
	}

	// Status reflects the session and hides the credential.
	w = doRequest(t, srv, "GET", "/api/status", "")
	st := decodeJSON(t, w)
	if st["connected"] != true {
		t.Error("status should report connected")
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("status body must not leak the password")
	}
}

func TestConnectValidationError(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "POST", "/api/connect", `{"user":"root@pam","password":"s"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestConnectBadBody(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "POST", "/api/connect", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestConnectUpstreamFailure(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{dialErr: errors.New("401 unauthorized")})
	w := doRequest(t, srv, "POST", "/api/connect",
		`{"host":"10.0.0.2","user":"root@pam","password":"wrong"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestDisconnectEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doRequest(t, srv, "GET", "/api/nodes", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("nodes after disconnect = %d, want 400", w.Code)
	}
}

// --- Cluster reads ---

func TestNodesRequiresConnection(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "GET", "/api/nodes", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestStorageEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "GET", "/api/storage", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing node param = %d, want 400", w.Code)
	}

	w = doRequest(t, srv, "GET", "/api/storage?node=pve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeJSON(t, w)
	entries := body["storage"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("storage = %v", entries)
	}
}

func TestISOsEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "GET", "/api/isos?node=pve&storage=local", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeJSON(t, w)
	isos := body["isos"].([]interface{})
	if len(isos) != 1 {
		t.Errorf("isos = %v", isos)
	}
}

// --- Themes ---

func TestThemesEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "GET", "/api/themes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	body := decodeJSON(t, w)
	themes := body["themes"].([]interface{})
	if len(themes) != 5 {
		t.Errorf("themes = %v, want 5 entries", themes)
	}
	previews := body["previews"].(map[string]interface{})
	names := previews["databases"].([]interface{})
	if len(names) != 5 {
		t.Errorf("preview = %v, want 5 names", names)
	}
}

// --- Operations ---

func TestCreateNestedEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/create-nested", `{"node":"pve"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body: %s)", w.Code, w.Body.String())
	}

	op := waitOpDone(t, srv)
	if op["kind"] != "create_nested" || op["phase"] != "succeeded" {
		t.Errorf("operation = %v", op)
	}
	result := op["result"].(map[string]interface{})
	if result["vmid"].(float64) != 110 {
		t.Errorf("result = %v", result)
	}
}

func TestCreateNestedRequiresConnection(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	w := doRequest(t, srv, "POST", "/api/create-nested", `{"node":"pve"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateVMsValidation(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/create-vms",
		`{"nested_host":"192.168.1.50","nested_password":"s","count":5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for out-of-range count", w.Code)
	}
}

func TestCreateVMsEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/create-vms",
		`{"nested_host":"192.168.1.50","nested_password":"s","count":10,"theme":"monitoring"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body: %s)", w.Code, w.Body.String())
	}

	op := waitOpDone(t, srv)
	if op["kind"] != "provision_vms" || op["phase"] != "succeeded" {
		t.Fatalf("operation = %v", op)
	}
	result := op["result"].(map[string]interface{})
	if result["succeeded"].(float64) != 10 {
		t.Errorf("result = %v", result)
	}
}

func TestOperationConflictEndpoint(t *testing.T) {
	cfg := testConfig()
	hv := &mockHV{}
	release := make(chan struct{})
	dial := func(ctx context.Context, profile ops.Profile) (ops.Hypervisor, error) {
		return hv, nil
	}
	eng := ops.New(cfg, dial, ops.WithProbe(
		func(ctx context.Context, addr, user, password string) error {
			<-release
			return nil
		}))
	srv := New(cfg, eng)
	defer close(release)

	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/create-vms",
		`{"nested_host":"192.168.1.50","nested_password":"s","count":10,"theme":"containers"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}

	w = doRequest(t, srv, "POST", "/api/create-nested", `{"node":"pve"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	body := decodeJSON(t, w)
	if body["running"] != "provision_vms" {
		t.Errorf("running = %v, want provision_vms", body["running"])
	}
}

func TestDestroyEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "POST", "/api/destroy", `{"vmid":110,"node":"pve"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body: %s)", w.Code, w.Body.String())
	}

	op := waitOpDone(t, srv)
	if op["kind"] != "destroy" || op["phase"] != "succeeded" {
		t.Errorf("operation = %v", op)
	}
}

// --- Logs ---

func TestLogsEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "GET", "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeJSON(t, w)
	logs := body["logs"].([]interface{})
	if len(logs) == 0 {
		t.Fatal("connect should have produced log entries")
	}

	w = doRequest(t, srv, "DELETE", "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doRequest(t, srv, "GET", "/api/logs", "")
	body = decodeJSON(t, w)
	if logs := body["logs"].([]interface{}); len(logs) != 0 {
		t.Errorf("logs after clear = %v", logs)
	}
}

// --- Metrics ---

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t, testConfig(), &mockHV{})
	connectServer(t, srv)

	w := doRequest(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pve_nestlab_ops_total") {
		t.Error("metrics output should include operation counters")
	}
}

// --- Auth ---

func testAuthServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := testConfig()
	cfg.Auth.Mode = config.AuthModePassword
	cfg.Auth.PasswordHash = string(hash)
	return testServer(t, cfg, &mockHV{})
}

func TestAuthRequired(t *testing.T) {
	srv := testAuthServer(t)
	w := doRequest(t, srv, "POST", "/api/connect",
		`{"host":"10.0.0.2","user":"root@pam","password":"secret"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	// Reads stay open.
	w = doRequest(t, srv, "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200 without auth", w.Code)
	}
}

func loginCookie(t *testing.T, srv *Server) *http.Cookie {
	t.Helper()
	w := doRequest(t, srv, "POST", "/api/auth/login", `{"password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d (body: %s)", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login should set a session cookie")
	}
	return cookies[0]
}

func doAuthedRequest(t *testing.T, srv *Server, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, req)
	return w
}

func TestSessionsScopedToServer(t *testing.T) {
	srv1 := testAuthServer(t)
	srv2 := testAuthServer(t)

	cookie := loginCookie(t, srv1)

	w := doAuthedRequest(t, srv1, "POST", "/api/disconnect", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("own server = %d, want 200", w.Code)
	}

	// A token minted by one server instance means nothing to another.
	w = doAuthedRequest(t, srv2, "POST", "/api/disconnect", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("other server = %d, want 401", w.Code)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	srv := testAuthServer(t)
	cookie := loginCookie(t, srv)

	w := doAuthedRequest(t, srv, "POST", "/api/auth/logout", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout = %d", w.Code)
	}

	w = doAuthedRequest(t, srv, "POST", "/api/disconnect", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked session = %d, want 401", w.Code)
	}

	w = doAuthedRequest(t, srv, "GET", "/api/auth/check", "", cookie)
	body := decodeJSON(t, w)
	if body["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", body["authenticated"])
	}
}

func TestLoginFlow(t *testing.T) {
	srv := testAuthServer(t)

	w := doRequest(t, srv, "POST", "/api/auth/login", `{"password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d, want 401", w.Code)
	}

	w = doRequest(t, srv, "POST", "/api/auth/login", `{"password":"hunter2"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d (body: %s)", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login should set a session cookie")
	}

	req := httptest.NewRequest("POST", "/api/connect",
		strings.NewReader(`{"host":"10.0.0.2","user":"root@pam","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authed connect = %d (body: %s)", rec.Code, rec.Body.String())
	}
}
