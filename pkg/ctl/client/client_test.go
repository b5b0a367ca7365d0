package client

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"motionbridge/pkg/gcode"
)

// startFakeDaemon runs a minimal stand-in for motionbridged's command
// socket: it decodes one request and replies with whatever handle
// returns, closing the connection after each exchange. This isolates
// Client's wire encoding/decoding from pkg/ipc's own server tests.
func startFakeDaemon(t *testing.T, handle func(req map[string]any) map[string]any) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "fake.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req map[string]any
				scanner := bufio.NewScanner(conn)
				if !scanner.Scan() {
					return
				}
				if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
					return
				}
				json.NewEncoder(conn).Encode(handle(req))
			}()
		}
	}()
	return socketPath
}

func TestClientCode(t *testing.T) {
	socketPath := startFakeDaemon(t, func(req map[string]any) map[string]any {
		if req["op"] != "Code" || req["channel"] != "http" || req["code"] != "G28" {
			t.Errorf("unexpected request: %+v", req)
		}
		return map[string]any{"ok": true, "reply": "ok"}
	})

	reply, err := New(socketPath).Code("http", "G28")
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if reply != "ok" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestClientFlush(t *testing.T) {
	socketPath := startFakeDaemon(t, func(req map[string]any) map[string]any {
		if req["op"] != "Flush" || req["sync_file_streams"] != true {
			t.Errorf("unexpected request: %+v", req)
		}
		return map[string]any{"ok": true, "flushed": true}
	})

	flushed, err := New(socketPath).Flush("usb", true)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !flushed {
		t.Fatalf("expected flushed=true")
	}
}

func TestClientLockUnlock(t *testing.T) {
	var seenOps []string
	socketPath := startFakeDaemon(t, func(req map[string]any) map[string]any {
		seenOps = append(seenOps, req["op"].(string))
		return map[string]any{"ok": true}
	})

	cl := New(socketPath)
	if err := cl.Lock("http"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := cl.Unlock("http"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(seenOps) != 2 || seenOps[0] != "LockObjectModel" || seenOps[1] != "UnlockObjectModel" {
		t.Fatalf("unexpected ops sequence: %v", seenOps)
	}
}

func TestClientStatus(t *testing.T) {
	socketPath := startFakeDaemon(t, func(req map[string]any) map[string]any {
		return map[string]any{
			"ok": true,
			"stats": []map[string]any{
				{"Channel": gcode.ChannelUSB, "PendingCodes": 3},
			},
		}
	})

	stats, err := New(socketPath).Status("")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(stats) != 1 || stats[0].PendingCodes != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClientPropagatesDaemonError(t *testing.T) {
	socketPath := startFakeDaemon(t, func(req map[string]any) map[string]any {
		return map[string]any{"ok": false, "error": "unknown channel"}
	})

	if _, err := New(socketPath).GetObjectModel("bogus"); err == nil {
		t.Fatalf("expected error from daemon")
	}
}
