package ipc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func testSocketPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "control.sock")
}

func TestServeAndCall_StatusRoundTrip(t *testing.T) {
	sock := testSocketPath(t)
	srv := &Server{
		SocketPath: sock,
		Handler: func(ctx context.Context, req Request) (interface{}, error) {
			if req.Kind != RequestStatus {
				t.Fatalf("handler got kind %q, want %q", req.Kind, RequestStatus)
			}
			return StatusResult{Uptime: "1h"}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()
	waitForSocket(t, sock)

	client := &Client{SocketPath: sock}
	var out StatusResult
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	if err := client.Call(callCtx, Request{Kind: RequestStatus}, &out); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.Uptime != "1h" {
		t.Errorf("Uptime = %q, want %q", out.Uptime, "1h")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not exit after context cancellation")
	}
}

func TestCall_HandlerError(t *testing.T) {
	sock := testSocketPath(t)
	srv := &Server{
		SocketPath: sock,
		Handler: func(ctx context.Context, req Request) (interface{}, error) {
			return nil, errSentinel
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	waitForSocket(t, sock)

	client := &Client{SocketPath: sock}
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	err := client.Call(callCtx, Request{Kind: RequestSyncNow, GitDir: "/repo/.git"}, nil)
	if err == nil {
		t.Fatal("expected error from Call, got nil")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("socket %s never became ready", path)
}

var errSentinel = sentinelError("handler failed")

type sentinelError string

func (e sentinelError) Error() string { return string(e) }
