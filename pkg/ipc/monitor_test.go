// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package ipc

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"motionbridge/pkg/log"
)

func dialMonitor(t *testing.T, srv *httptest.Server) (*websocket.Conn, func()) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, func() { conn.Close() }
}

func readNotification(t *testing.T, conn *websocket.Conn) notification {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	return n
}

func TestMonitorSendsSnapshotOnConnect(t *testing.T) {
	om := NewObjectModelStore()
	om.ApplyPatch([]byte(`{"state":{"status":"idle"}}`))
	m := NewMonitor(om, log.New("monitor-test"))

	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, closeConn := dialMonitor(t, srv)
	defer closeConn()

	n := readNotification(t, conn)
	if n.Method != "notify_object_model_snapshot" {
		t.Fatalf("expected snapshot notification first, got %q", n.Method)
	}
	var snap map[string]any
	if err := json.Unmarshal([]byte(n.Params.(string)), &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if _, ok := snap["state"]; !ok {
		t.Fatalf("expected snapshot to contain prior patch, got %v", snap)
	}
}

func TestMonitorBroadcastsPatchUpdate(t *testing.T) {
	om := NewObjectModelStore()
	m := NewMonitor(om, log.New("monitor-test"))

	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, closeConn := dialMonitor(t, srv)
	defer closeConn()
	readNotification(t, conn) // initial snapshot

	m.ApplyPatch([]byte(`{"move":{"axes":[]}}`))

	n := readNotification(t, conn)
	if n.Method != "notify_object_model_update" {
		t.Fatalf("expected update notification, got %q", n.Method)
	}
	if n.Params.(string) != `{"move":{"axes":[]}}` {
		t.Fatalf("unexpected patch payload: %v", n.Params)
	}

	if _, ok := om.Get("move"); !ok {
		t.Fatalf("expected patch to be mirrored into the store")
	}
}

func TestMonitorBroadcastsMessage(t *testing.T) {
	om := NewObjectModelStore()
	m := NewMonitor(om, log.New("monitor-test"))

	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, closeConn := dialMonitor(t, srv)
	defer closeConn()
	readNotification(t, conn) // initial snapshot

	m.OnMessage(1, "ok")

	n := readNotification(t, conn)
	if n.Method != "notify_message" {
		t.Fatalf("expected message notification, got %q", n.Method)
	}
	params, ok := n.Params.(map[string]any)
	if !ok || params["content"] != "ok" {
		t.Fatalf("unexpected message params: %v", n.Params)
	}
}

func TestMonitorClientCountTracksDisconnect(t *testing.T) {
	om := NewObjectModelStore()
	m := NewMonitor(om, log.New("monitor-test"))

	srv := httptest.NewServer(m)
	defer srv.Close()

	conn, _ := dialMonitor(t, srv)
	readNotification(t, conn) // initial snapshot

	deadline := time.Now().Add(time.Second)
	for m.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.ClientCount() != 1 {
		t.Fatalf("expected 1 connected client, got %d", m.ClientCount())
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for m.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.ClientCount() != 0 {
		t.Fatalf("expected client count to drop to 0 after disconnect, got %d", m.ClientCount())
	}
}
