package policy

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startTestAdminServer(t *testing.T) (*AdminServer, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "policy.sock")
	srv := NewAdminServer(sockPath, NewRuntime(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = srv.ListenAndServe(ctx)
	}()
	<-ready
	// give the listener a moment to bind before the first dial.
	time.Sleep(20 * time.Millisecond)
	return srv, sockPath
}

func sendAdminRequest(t *testing.T, sockPath string, req AdminRequest) AdminResponse {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, adminMaxRequestBytes)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	var resp AdminResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v, body = %s", err, buf[:n])
	}
	return resp
}

func TestAdminServer_InstallThenStatus(t *testing.T) {
	_, sockPath := startTestAdminServer(t)

	installResp := sendAdminRequest(t, sockPath, AdminRequest{
		Cmd: "install",
		Snapshot: Snapshot{
			Version:  "policy-v2",
			Rules:    []PatternRule{{PatternID: "r1", Action: ActionSuppress}},
			Defaults: DefaultDefaults(),
		},
	})
	if !installResp.OK || installResp.Version != "policy-v2" {
		t.Fatalf("install response = %+v, want ok with version policy-v2", installResp)
	}

	statusResp := sendAdminRequest(t, sockPath, AdminRequest{Cmd: "status"})
	if !statusResp.OK || statusResp.Version != "policy-v2" || statusResp.RuleCount != 1 {
		t.Fatalf("status response = %+v, want version policy-v2 with 1 rule", statusResp)
	}
}

func TestAdminServer_RollbackToUnknownVersionFails(t *testing.T) {
	_, sockPath := startTestAdminServer(t)

	resp := sendAdminRequest(t, sockPath, AdminRequest{Cmd: "rollback", Version: "policy-vX"})
	if resp.OK {
		t.Fatal("expected rollback to an unknown version to fail")
	}
}

func TestAdminServer_UnknownCommand(t *testing.T) {
	_, sockPath := startTestAdminServer(t)

	resp := sendAdminRequest(t, sockPath, AdminRequest{Cmd: "bogus"})
	if resp.OK {
		t.Fatal("expected an unknown command to fail")
	}
}
