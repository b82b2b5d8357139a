// Package policy — admin.go
//
// Unix domain socket server for administrative policy commands.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/tier1-agent/policy.sock (configurable).
// Permissions: 0600, owned by the running user. This is the
// administrative-calls surface named for policy install/rollback: no
// protobuf/gRPC codec is generated for it, so it follows the teacher's
// own non-gRPC operator idiom instead.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"install","snapshot":{...}}
//	  → Installs a new policy Snapshot, pushing the previous version onto
//	    the rollback history.
//	  → Response: {"ok":true,"version":"policy-v7"}
//
//	{"cmd":"rollback","version":"policy-v6"}
//	  → Rolls the runtime back to a previously-installed version still
//	    present in history.
//	  → Response: {"ok":true,"version":"policy-v6"}
//
//	{"cmd":"status"}
//	  → Returns the currently active version and rule count.
//	  → Response: {"ok":true,"version":"policy-v7","rule_count":3}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (administrative use only).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	adminMaxConcurrentConns = 4
	adminMaxRequestBytes    = 4096
	adminConnTimeout        = 10 * time.Second
)

// AdminRequest is the JSON structure for administrative policy commands.
type AdminRequest struct {
	Cmd      string   `json:"cmd"` // install | rollback | status
	Snapshot Snapshot `json:"snapshot,omitempty"`
	Version  string   `json:"version,omitempty"`
}

// AdminResponse is the JSON structure for administrative command responses.
type AdminResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Version   string `json:"version,omitempty"`
	RuleCount int    `json:"rule_count,omitempty"`
}

// AdminServer is the administrative Unix domain socket server fronting a
// policy Runtime.
type AdminServer struct {
	socketPath string
	runtime    *Runtime
	log        *zap.Logger
	sem        chan struct{}
}

// NewAdminServer creates an AdminServer bound to runtime.
func NewAdminServer(socketPath string, runtime *Runtime, log *zap.Logger) *AdminServer {
	return &AdminServer{
		socketPath: socketPath,
		runtime:    runtime,
		log:        log,
		sem:        make(chan struct{}, adminMaxConcurrentConns),
	}
}

// ListenAndServe starts the admin socket server. Removes any stale socket
// file before binding. Blocks until ctx is cancelled.
func (s *AdminServer) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("policy admin: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("policy admin: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("policy admin: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("policy admin: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("policy admin socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("policy admin: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("policy admin: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *AdminServer) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(adminConnTimeout))

	buf := make([]byte, adminMaxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("policy admin: read error", zap.Error(err))
		return
	}

	var req AdminRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, AdminResponse{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *AdminServer) dispatch(req AdminRequest) AdminResponse {
	switch req.Cmd {
	case "install":
		return s.cmdInstall(req)
	case "rollback":
		return s.cmdRollback(req)
	case "status":
		return s.cmdStatus()
	default:
		return AdminResponse{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *AdminServer) cmdInstall(req AdminRequest) AdminResponse {
	if req.Snapshot.Version == "" {
		return AdminResponse{OK: false, Error: "snapshot.version required for install"}
	}
	s.runtime.InstallSnapshot(req.Snapshot)
	s.log.Info("policy admin: snapshot installed", zap.String("version", req.Snapshot.Version))
	return AdminResponse{OK: true, Version: req.Snapshot.Version, RuleCount: len(req.Snapshot.Rules)}
}

func (s *AdminServer) cmdRollback(req AdminRequest) AdminResponse {
	if req.Version == "" {
		return AdminResponse{OK: false, Error: "version required for rollback"}
	}
	if !s.runtime.RollbackToVersion(req.Version) {
		return AdminResponse{OK: false, Error: fmt.Sprintf("version %q not found in history", req.Version)}
	}
	s.log.Info("policy admin: rolled back", zap.String("version", req.Version))
	return AdminResponse{OK: true, Version: req.Version}
}

func (s *AdminServer) cmdStatus() AdminResponse {
	snap := s.runtime.CurrentSnapshot()
	return AdminResponse{OK: true, Version: snap.Version, RuleCount: len(snap.Rules)}
}

func (s *AdminServer) writeResponse(conn net.Conn, resp AdminResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
