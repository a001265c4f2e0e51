package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newTestServer creates an httptest.TLSServer and an authenticated Client
// pointing to it.
func newTestServer(t *testing.T, handler http.Handler) (*httptest.Server, *Client) {
	t.Helper()
	ts := httptest.NewTLSServer(handler)
	t.Cleanup(ts.Close)

	client := &Client{
		baseURL:    ts.URL,
		ticket:     "PVE:root@pam:TICKET",
		csrfToken:  "CSRF:TOKEN",
		httpClient: ts.Client(),
	}
	return ts, client
}

func TestLogin(t *testing.T) {
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/access/ticket", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		r.ParseForm()
		gotBody = r.PostForm.Encode()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"ticket":              "PVE:root@pam:NEWTICKET",
				"CSRFPreventionToken": "CSRF:NEW",
			},
		})
	})

	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)
	client := &Client{baseURL: ts.URL, httpClient: ts.Client()}

	if err := client.Login(context.Background(), "root@pam", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.Contains(gotBody, "username=root%40pam") {
		t.Errorf("body should contain username: %s", gotBody)
	}
	if !strings.Contains(gotBody, "password=secret") {
		t.Errorf("body should contain password: %s", gotBody)
	}
	if client.ticket != "PVE:root@pam:NEWTICKET" {
		t.Errorf("ticket = %q", client.ticket)
	}
	if client.csrfToken != "CSRF:NEW" {
		t.Errorf("csrf token = %q", client.csrfToken)
	}
}

func TestLoginRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/access/ticket", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"data":null}`)
	})

	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)
	client := &Client{baseURL: ts.URL, httpClient: ts.Client()}

	err := client.Login(context.Background(), "root@pam", "wrong")
	if err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestAuthCookieAndCSRF(t *testing.T) {
	var gotCookie, gotCSRFOnGet, gotCSRFOnPost string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PVEAuthCookie"); err == nil {
			gotCookie = c.Value
		}
		gotCSRFOnGet = r.Header.Get("CSRFPreventionToken")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"node": "pve", "status": "online"}},
		})
	})
	mux.HandleFunc("/api2/json/nodes/pve/qemu/100/status/start", func(w http.ResponseWriter, r *http.Request) {
		gotCSRFOnPost = r.Header.Get("CSRFPreventionToken")
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:start:100:"})
	})

	_, client := newTestServer(t, mux)
	if _, err := client.ListNodes(context.Background()); err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if _, err := client.StartVM(context.Background(), "pve", 100); err != nil {
		t.Fatalf("StartVM: %v", err)
	}

	if gotCookie != "PVE:root@pam:TICKET" {
		t.Errorf("cookie = %q", gotCookie)
	}
	if gotCSRFOnGet != "" {
		t.Errorf("GET should not carry CSRF token, got %q", gotCSRFOnGet)
	}
	if gotCSRFOnPost != "CSRF:TOKEN" {
		t.Errorf("POST CSRF token = %q, want CSRF:TOKEN", gotCSRFOnPost)
	}
}

func TestCreateVM(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/qemu", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		r.ParseForm()
		gotBody = r.PostForm.Encode()
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:00001:00000:00000:qmcreate:110:user@pam:"})
	})

	_, client := newTestServer(t, mux)
	upid, err := client.CreateVM(context.Background(), "pve", VMOptions{
		VMID:       110,
		Name:       "nested-proxmox",
		MemoryMB:   16384,
		Cores:      4,
		DiskGB:     100,
		Storage:    "local-lvm",
		Bridge:     "vmbr0",
		CPUType:    "host",
		Agent:      true,
		CloudInit:  true,
		CIUser:     "guest",
		CIPassword: "guest",
		ISO:        "local:iso/proxmox-ve_8.2-1.iso",
	})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if upid == "" {
		t.Fatal("upid should not be empty")
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/api2/json/nodes/pve/qemu" {
		t.Errorf("path = %s", gotPath)
	}
	for _, want := range []string{
		"vmid=110",
		"cpu=host",
		"agent=1",
		"scsi0=local-lvm%3A100",
		"ide2=local-lvm%3Acloudinit",
		"ciuser=guest",
		"ipconfig0=ip%3Ddhcp",
		"boot=order%3Dide3%3Bscsi0",
	} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body should contain %s: %s", want, gotBody)
		}
	}
}

func TestCreateVMSerialConsole(t *testing.T) {
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/qemu", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotBody = r.PostForm.Encode()
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:qmcreate:100:"})
	})

	_, client := newTestServer(t, mux)
	_, err := client.CreateVM(context.Background(), "pve", VMOptions{
		VMID:          100,
		Name:          "mongo-01",
		MemoryMB:      512,
		Cores:         1,
		DiskGB:        8,
		Storage:       "local-lvm",
		Bridge:        "vmbr0",
		SerialConsole: true,
	})
	if err != nil {
		t.Fatalf("CreateVM: %v", err)
	}
	if !strings.Contains(gotBody, "serial0=socket") {
		t.Errorf("body should contain serial0=socket: %s", gotBody)
	}
	if !strings.Contains(gotBody, "vga=serial0") {
		t.Errorf("body should contain vga=serial0: %s", gotBody)
	}
	if !strings.Contains(gotBody, "boot=order%3Dscsi0") {
		t.Errorf("body should boot from scsi0 without an ISO: %s", gotBody)
	}
}

func TestDeleteVM(t *testing.T) {
	var gotMethod, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/qemu/110", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		// ParseForm ignores the body for DELETE requests, so read it directly.
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "UPID:pve:qmdestroy:110:"})
	})

	_, client := newTestServer(t, mux)
	if _, err := client.DeleteVM(context.Background(), "pve", 110); err != nil {
		t.Fatalf("DeleteVM: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
	if !strings.Contains(gotBody, "purge=1") {
		t.Errorf("body should contain purge=1: %s", gotBody)
	}
}

func TestNextVMID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/cluster/nextid", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": "112"})
	})

	_, client := newTestServer(t, mux)
	vmid, err := client.NextVMID(context.Background())
	if err != nil {
		t.Fatalf("NextVMID: %v", err)
	}
	if vmid != 112 {
		t.Errorf("vmid = %d, want 112", vmid)
	}
}

func TestTaskStatusPendingDoneFailed(t *testing.T) {
	status := map[string]interface{}{"status": "running"}
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/tasks/UPID:test/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": status})
	})
	mux.HandleFunc("/api2/json/nodes/pve/tasks/UPID:test/log", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"n": 1, "t": "TASK ERROR: disk full"}},
		})
	})

	_, client := newTestServer(t, mux)

	res, err := client.TaskStatus(context.Background(), "pve", "UPID:test")
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if res.Done {
		t.Error("running task should not be done")
	}

	status = map[string]interface{}{"status": "stopped", "exitstatus": "OK"}
	res, err = client.TaskStatus(context.Background(), "pve", "UPID:test")
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if !res.Done || res.Failed {
		t.Errorf("result = %+v, want done and not failed", res)
	}

	status = map[string]interface{}{"status": "stopped", "exitstatus": "unable to create image"}
	res, err = client.TaskStatus(context.Background(), "pve", "UPID:test")
	if err != nil {
		t.Fatalf("TaskStatus: %v", err)
	}
	if !res.Done || !res.Failed {
		t.Errorf("result = %+v, want done and failed", res)
	}
	if !strings.Contains(res.Detail, "unable to create image") {
		t.Errorf("detail = %q, should carry the exit status", res.Detail)
	}
	if !strings.Contains(res.Detail, "disk full") {
		t.Errorf("detail = %q, should carry the task log tail", res.Detail)
	}
}

func TestAgentIP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/qemu/100/agent/network-get-interfaces", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"result": []map[string]interface{}{
					{
						"name": "lo",
						"ip-addresses": []map[string]interface{}{
							{"ip-address-type": "ipv4", "ip-address": "127.0.0.1"},
						},
					},
					{
						"name": "eth0",
						"ip-addresses": []map[string]interface{}{
							{"ip-address-type": "ipv6", "ip-address": "fe80::1"},
							{"ip-address-type": "ipv4", "ip-address": "192.168.1.42"},
						},
					},
				},
			},
		})
	})

	_, client := newTestServer(t, mux)
	ip, err := client.AgentIP(context.Background(), "pve", 100)
	if err != nil {
		t.Fatalf("AgentIP: %v", err)
	}
	if ip != "192.168.1.42" {
		t.Errorf("ip = %q, want 192.168.1.42", ip)
	}
}

func TestListStorageContentISOs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/storage/local/content", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"volid": "local:iso/proxmox-ve_8.2-1.iso", "content": "iso", "size": 1234567},
				{"volid": "local:vztmpl/debian-12.tar.zst", "content": "vztmpl", "size": 7654321},
			},
		})
	})

	_, client := newTestServer(t, mux)
	m := NewManager(client)
	isos, err := m.ListISOs(context.Background(), "pve", "local")
	if err != nil {
		t.Fatalf("ListISOs: %v", err)
	}
	if len(isos) != 1 {
		t.Fatalf("len = %d, want 1", len(isos))
	}
	if isos[0].VolID != "local:iso/proxmox-ve_8.2-1.iso" {
		t.Errorf("volid = %q", isos[0].VolID)
	}
}

func TestNotFoundNormalization(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/qemu/999", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": "Configuration file 'nodes/pve/qemu-server/999.conf' does not exist",
		})
	})

	_, client := newTestServer(t, mux)
	_, err := client.DeleteVM(context.Background(), "pve", 999)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound(%v) = false, want true", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}

	c, err := NewClient(ClientConfig{
		BaseURL:       "https://localhost:8006",
		TLSSkipVerify: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c == nil {
		t.Fatal("client should not be nil")
	}
}
