package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"peersupport-platform/internal/calls"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialWatch(t *testing.T, srv *httptest.Server, path, user, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	hdr := http.Header{}
	hdr.Set("X-Test-User", user)
	hdr.Set("X-Test-Name", name)
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", path, err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode frame %s: %v", b, err)
	}
}

func TestWatchIncomingStreamsOnlyNewInvites(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	// An invitation pending before the stream opens must never be replayed.
	stale := e.createCall(t, "u-x", "Sky", "u-b", "audio")

	conn := dialWatch(t, srv, "/v1/incoming-calls/watch", "u-b", "Blair")
	fresh := e.createCall(t, "u-a", "Avery", "u-b", "video")

	var frame incomingFrame
	readFrame(t, conn, &frame)
	if frame.Type != "incoming_call" {
		t.Fatalf("frame type = %q", frame.Type)
	}
	if frame.Session.ID == stale.ID {
		t.Fatalf("pre-stream invitation replayed")
	}
	if frame.Session.ID != fresh.ID || frame.Session.Status != calls.StatusInviting {
		t.Fatalf("frame session: %+v", frame.Session)
	}
}

func TestWatchSignalsExcludesOwnMessages(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")
	conn := dialWatch(t, srv, "/v1/calls/"+sess.ID+"/signals/watch", "u-a", "Avery")

	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/signals", "u-a", "Avery", gin.H{"kind": "offer", "payload": `{"sdp":"v=0"}`}); w.Code != http.StatusCreated {
		t.Fatalf("push own signal: status %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/signals", "u-b", "Blair", gin.H{"kind": "answer", "payload": `{"sdp":"v=0"}`}); w.Code != http.StatusCreated {
		t.Fatalf("push peer signal: status %d", w.Code)
	}

	var frame signalFrame
	readFrame(t, conn, &frame)
	if frame.Type != "signal" {
		t.Fatalf("frame type = %q", frame.Type)
	}
	if frame.Signal.SenderID != "u-b" || frame.Signal.Kind != "answer" {
		t.Fatalf("first delivered signal: %+v", frame.Signal)
	}
}

func TestWatchCallStreamsStatusChanges(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")
	conn := dialWatch(t, srv, "/v1/calls/"+sess.ID+"/watch", "u-a", "Avery")

	// The session watch opens with a snapshot of the current document.
	var first sessionFrame
	readFrame(t, conn, &first)
	if !first.Snapshot || first.Session == nil || first.Session.Status != calls.StatusInviting {
		t.Fatalf("snapshot frame: %+v", first)
	}

	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/accept", "u-b", "Blair", nil); w.Code != http.StatusOK {
		t.Fatalf("accept: status %d", w.Code)
	}

	var second sessionFrame
	readFrame(t, conn, &second)
	if second.Snapshot || second.Session == nil || second.Session.Status != calls.StatusActive {
		t.Fatalf("live frame: %+v", second)
	}
}

func TestWatchEndpointsGateBeforeUpgrade(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")

	// Plain requests never reach the upgrade, so failures come back as HTTP.
	if w := e.do(t, http.MethodGet, "/v1/calls/"+sess.ID+"/watch", "u-x", "Sky", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider watch: status %d, want 403", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/missing/watch", "u-a", "Avery", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing session watch: status %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/"+sess.ID+"/signals/watch", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous watch: status %d, want 401", w.Code)
	}
}
