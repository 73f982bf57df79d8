package proxmox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResourcesFilterAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "PVEAPIToken=jarvis@pam!plane=secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api2/json/cluster/resources" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("type"); got != "vm" {
			t.Errorf("type filter = %q", got)
		}
		w.Write([]byte(`{"data":[
			{"id":"qemu/104","type":"qemu","name":"media","node":"pve","vmid":104,"status":"running","cpu":0.12,"maxcpu":4,"mem":1024,"maxmem":4096},
			{"id":"lxc/200","type":"lxc","name":"dns","node":"pve2","vmid":200,"status":"stopped"}
		]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithToken("jarvis@pam!plane", "secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	guests, err := c.Guests(context.Background())
	if err != nil {
		t.Fatalf("Guests: %v", err)
	}
	if len(guests) != 2 {
		t.Fatalf("len = %d, want 2", len(guests))
	}
	if guests[0].VMID != 104 || guests[0].Type != "qemu" || guests[0].Status != "running" {
		t.Errorf("guest[0] = %+v", guests[0])
	}
	if guests[1].Type != "lxc" || guests[1].Node != "pve2" {
		t.Errorf("guest[1] = %+v", guests[1])
	}
}

func TestLifecycleEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/api2/json/nodes/pve/qemu/104/status/start" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"data":"UPID:pve:0001:start"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	upid, err := c.Lifecycle(context.Background(), "pve", GuestQEMU, 104, ActionStart)
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if upid != "UPID:pve:0001:start" {
		t.Errorf("upid = %q", upid)
	}
}

func TestNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if _, err := c.Nodes(context.Background()); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestNewRejectsEmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}
