// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/testbench/pkg/lts"
	"github.com/Thermoquad/testbench/pkg/lts/ltstest"
	"github.com/gorilla/websocket"
	"go.bug.st/serial/enumerator"
)

func TestQueryVersion(t *testing.T) {
	tests := []struct {
		name    string
		stale   string
		reply   string
		want    string
		wantErr error
	}{
		{"valid", "", "LTS-0.9.2\n", "LTS-0.9.2", nil},
		{"valid after stale input", "\x00\xFFjunk", "LTS-0.9.2\n", "LTS-0.9.2", nil},
		{"other product", "", "Arduino\n", "", lts.ErrDeviceNotFound},
		{"silent", "", "", "", lts.ErrCommunication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := ltstest.NewPort([]byte(tt.stale)...).ReplyAfterWrite([]byte(tt.reply)...)
			got, err := queryVersion(lts.NewConn(port, lts.WithName("fake")))
			if !bytes.Equal(port.Written(), []byte{lts.GroupCommon, lts.CommonVersion}) {
				t.Errorf("wrote % X, want 0B 05", port.Written())
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("queryVersion() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("queryVersion() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("queryVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryVersion_DrainsBeforeQuery(t *testing.T) {
	// A stale reply sitting in the buffer must not be taken as the version
	port := ltstest.NewPort([]byte("garbage")...)
	_, err := queryVersion(lts.NewConn(port))
	if !errors.Is(err, lts.ErrCommunication) {
		t.Fatalf("queryVersion() error = %v, want ErrCommunication", err)
	}
	if !bytes.Equal(port.Written(), []byte{lts.GroupCommon, lts.CommonVersion}) {
		t.Errorf("wrote % X, want 0B 05", port.Written())
	}
}

func TestIsCDCPort(t *testing.T) {
	tests := []struct {
		port enumerator.PortDetails
		want bool
	}{
		{enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true}, true},
		{enumerator.PortDetails{Name: "/dev/cu.usbmodem1421", IsUSB: true}, true},
		{enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true}, false},
		{enumerator.PortDetails{Name: "/dev/ttyS0", IsUSB: false}, false},
	}
	for _, tt := range tests {
		if got := isCDCPort(&tt.port); got != tt.want {
			t.Errorf("isCDCPort(%s) = %v, want %v", tt.port.Name, got, tt.want)
		}
	}
}

func TestCandidates_IncludesFallbackList(t *testing.T) {
	got := Candidates(nil)
	joined := strings.Join(got, ",")
	for i := 0; i < 10; i++ {
		if !strings.Contains(joined, fallbackCandidates[i]) {
			t.Errorf("Candidates() missing %s", fallbackCandidates[i])
		}
	}
	seen := map[string]bool{}
	for _, p := range got {
		if seen[p] {
			t.Errorf("Candidates() lists %s twice", p)
		}
		seen[p] = true
	}
}

// ============================================================================
// WebSocket bridge
// ============================================================================

func newBridge(t *testing.T, handle func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenWebSocket(t *testing.T) {
	srv := newBridge(t, func(ws *websocket.Conn) {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			switch {
			case bytes.Equal(msg, []byte{lts.GroupCommon, lts.CommonVersion}):
				ws.WriteMessage(websocket.TextMessage, []byte("bridge ready"))
				ws.WriteMessage(websocket.BinaryMessage, []byte("LTS-"))
				ws.WriteMessage(websocket.BinaryMessage, []byte("1.0\n"))
			case bytes.Equal(msg, []byte{lts.GroupDIn, lts.DInGetStates}):
				ws.WriteMessage(websocket.BinaryMessage, []byte{0x0F, lts.StatusSuccess})
			}
		}
	})

	conn, err := OpenWebSocket(WebSocketOptions{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Timeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("OpenWebSocket() error = %v", err)
	}
	defer conn.Close()

	if conn.Version() != "LTS-1.0" {
		t.Errorf("Version() = %q, want %q", conn.Version(), "LTS-1.0")
	}

	conn.Command(lts.GroupDIn, lts.DInGetStates)
	states, err := conn.ReadByte()
	if err != nil || states != 0x0F {
		t.Fatalf("ReadByte() = 0x%02X, %v, want 0x0F", states, err)
	}
	if _, err := conn.Ack(); err != nil {
		t.Errorf("Ack() error = %v", err)
	}

	// Nothing more is coming: the read must time out, not hang
	if _, err := conn.ReadByte(); !errors.Is(err, lts.ErrCommunication) {
		t.Errorf("ReadByte() on idle bridge error = %v, want ErrCommunication", err)
	}
}

func TestOpenWebSocket_BadScheme(t *testing.T) {
	if _, err := OpenWebSocket(WebSocketOptions{URL: "http://example.invalid"}); err == nil {
		t.Error("OpenWebSocket(http://) error = nil, want scheme error")
	}
}
