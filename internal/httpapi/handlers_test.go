package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"peersupport-platform/internal/auth"
	"peersupport-platform/internal/calls"
	"peersupport-platform/internal/config"
	"peersupport-platform/internal/docstore"
	"peersupport-platform/internal/messaging"
	"peersupport-platform/internal/push"
	"peersupport-platform/internal/rbac"
	"peersupport-platform/internal/signaling"

	"github.com/gin-gonic/gin"
)

type sentWakeup struct {
	title   string
	payload push.WakeupPayload
}

type recordingTransport struct {
	sent []sentWakeup
	err  error
}

func (r *recordingTransport) Name() string { return "recording" }

func (r *recordingTransport) Send(_ context.Context, _ push.Device, title, _ string, p push.WakeupPayload) error {
	r.sent = append(r.sent, sentWakeup{title: title, payload: p})
	return r.err
}

type testEnv struct {
	router    *gin.Engine
	store     docstore.Store
	transport *recordingTransport
}

// identityFromHeader mirrors what RequireAccessToken normally provides, keyed
// off test headers so one router can serve several simulated users.
func identityFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetHeader("X-Test-User")
		name := c.GetHeader("X-Test-Name")
		ctx := auth.WithIdentity(c.Request.Context(), uid, name, rbac.RolePeer)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := docstore.New(docstore.TypeMemory)
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	msgs := messaging.NewService(messaging.NewMemoryRepo())
	callSvc := calls.NewService(store, calls.NewMissedCallLogger(msgs, slog.Default()))
	tr := &recordingTransport{}
	pushRelay := push.NewRelay(push.NewMemoryRepo(), tr, slog.Default())

	mgr, err := auth.NewManager(config.AuthConfig{
		JWTSecret:       "test-secret",
		JWTIssuer:       "peersupport-test",
		JWTAudience:     "peersupport-clients",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	h := Handlers{
		Auth:     mgr,
		Calls:    callSvc,
		Signals:  signaling.NewRelay(store),
		Messages: msgs,
		Push:     pushRelay,
		Log:      slog.Default(),
	}

	user := identityFromHeader()
	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/calls", user, h.CreateCall)
	r.GET("/v1/calls/:id", user, h.GetCall)
	r.POST("/v1/calls/:id/status", user, h.SetCallStatus)
	r.POST("/v1/calls/:id/accept", user, h.AcceptCall)
	r.POST("/v1/calls/:id/signals", user, h.PushSignal)
	r.GET("/v1/incoming-calls/watch", user, h.WatchIncoming)
	r.GET("/v1/calls/:id/watch", user, h.WatchCall)
	r.GET("/v1/calls/:id/signals/watch", user, h.WatchSignals)
	r.POST("/v1/devices", user, h.RegisterDevice)
	r.DELETE("/v1/devices/:token", user, h.RemoveDevice)
	r.POST("/v1/threads/:user_id/messages", user, h.SendMessage)
	r.GET("/v1/threads/:user_id/messages", user, h.ThreadHistory)

	return &testEnv{router: r, store: store, transport: tr}
}

func (e *testEnv) do(t *testing.T, method, path, user, name string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Name", name)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createCall(t *testing.T, caller, callerName, receiver, kind string) calls.CallSession {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/calls", caller, callerName, gin.H{
		"receiver_id":   receiver,
		"receiver_name": "Blair",
		"kind":          kind,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create call: status %d body %s", w.Code, w.Body.String())
	}
	var sess calls.CallSession
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func TestLoginIssuesTokenPair(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{
		"user_id":      "u-a",
		"display_name": "Avery",
		"role":         rbac.RolePeer,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("empty token pair: %+v", resp)
	}
}

func TestLoginRequiresUserAndRole(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/v1/auth/login", "", "", gin.H{"user_id": "u-a"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/v1/calls", "", "", gin.H{"receiver_id": "u-b", "kind": "video"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestCreateCallPersistsAndWakesReceiver(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodPost, "/v1/devices", "u-b", "Blair", gin.H{"token": "tok-b", "platform": "ios"}); w.Code != http.StatusCreated {
		t.Fatalf("register device: status %d", w.Code)
	}

	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")
	if sess.ID == "" || sess.Status != calls.StatusInviting {
		t.Fatalf("created session: %+v", sess)
	}
	if sess.CallerID != "u-a" || sess.CallerDisplayName != "Avery" {
		t.Fatalf("caller identity not taken from token: %+v", sess)
	}

	if len(e.transport.sent) != 1 {
		t.Fatalf("wake-ups sent = %d, want 1", len(e.transport.sent))
	}
	sent := e.transport.sent[0]
	if sent.title != "Incoming video call" {
		t.Fatalf("wake-up title = %q", sent.title)
	}
	p := sent.payload
	if p.Screen != push.ScreenIncomingCall || p.SessionID != sess.ID {
		t.Fatalf("wake-up payload: %+v", p)
	}
	if p.OtherPartyID != "u-a" || p.OtherPartyName != "Avery" || p.Kind != "video" {
		t.Fatalf("wake-up caller fields: %+v", p)
	}
}

func TestCreateCallSurvivesPushFailure(t *testing.T) {
	e := newTestEnv(t)
	e.transport.err = context.DeadlineExceeded

	if w := e.do(t, http.MethodPost, "/v1/devices", "u-b", "Blair", gin.H{"token": "tok-b", "platform": "ios"}); w.Code != http.StatusCreated {
		t.Fatalf("register device: status %d", w.Code)
	}

	sess := e.createCall(t, "u-a", "Avery", "u-b", "audio")
	if sess.Status != calls.StatusInviting {
		t.Fatalf("push failure leaked into call placement: %+v", sess)
	}
}

func TestCreateCallStoreUnavailableSkipsPush(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodPost, "/v1/devices", "u-b", "Blair", gin.H{"token": "tok-b", "platform": "ios"}); w.Code != http.StatusCreated {
		t.Fatalf("register device: status %d", w.Code)
	}
	if err := e.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	w := e.do(t, http.MethodPost, "/v1/calls", "u-a", "Avery", gin.H{
		"receiver_id": "u-b",
		"kind":        "video",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", w.Code)
	}
	if len(e.transport.sent) != 0 {
		t.Fatalf("wake-up attempted after failed create")
	}
}

func TestCreateCallRejectsUnknownKind(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/v1/calls", "u-a", "Avery", gin.H{
		"receiver_id": "u-b",
		"kind":        "hologram",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestGetCallParticipantsOnly(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")

	if w := e.do(t, http.MethodGet, "/v1/calls/"+sess.ID, "u-b", "Blair", nil); w.Code != http.StatusOK {
		t.Fatalf("receiver read: status %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/"+sess.ID, "u-x", "Sky", nil); w.Code != http.StatusForbidden {
		t.Fatalf("outsider read: status %d, want 403", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls/missing", "u-a", "Avery", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing session: status %d, want 404", w.Code)
	}
}

func TestRejectCallWritesMissedLineOnce(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")

	w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/status", "u-b", "Blair", gin.H{"status": "ended"})
	if w.Code != http.StatusOK {
		t.Fatalf("reject: status %d body %s", w.Code, w.Body.String())
	}

	// Terminal session: any further write conflicts and adds nothing.
	w = e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/status", "u-a", "Avery", gin.H{"status": "missed"})
	if w.Code != http.StatusConflict {
		t.Fatalf("write on terminal session: status %d, want 409", w.Code)
	}

	hist := e.do(t, http.MethodGet, "/v1/threads/u-a/messages", "u-b", "Blair", nil)
	if hist.Code != http.StatusOK {
		t.Fatalf("history: status %d", hist.Code)
	}
	var resp struct {
		Messages []messaging.Message `json:"messages"`
	}
	if err := json.Unmarshal(hist.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.Messages) != 1 {
		t.Fatalf("thread lines = %d, want exactly 1", len(resp.Messages))
	}
	if resp.Messages[0].Body != "📹 Missed video call" || resp.Messages[0].Kind != messaging.KindSystem {
		t.Fatalf("thread line: %+v", resp.Messages[0])
	}
}

func TestAcceptCallReturnsHandoff(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")

	w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/accept", "u-b", "Blair", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Session calls.CallSession `json:"session"`
		Handoff calls.Handoff     `json:"handoff"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.Status != calls.StatusActive {
		t.Fatalf("session status = %s, want active", resp.Session.Status)
	}
	if resp.Handoff.IsInitiator {
		t.Fatalf("receiver hand-off marked initiator")
	}
	if resp.Handoff.OtherPartyID != "u-a" || resp.Handoff.OtherPartyName != "Avery" {
		t.Fatalf("hand-off other party: %+v", resp.Handoff)
	}

	// An answered call leaves no missed-call line after hang-up.
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/status", "u-a", "Avery", gin.H{"status": "ended"}); w.Code != http.StatusOK {
		t.Fatalf("hang up: status %d", w.Code)
	}
	hist := e.do(t, http.MethodGet, "/v1/threads/u-b/messages", "u-a", "Avery", nil)
	var resp2 struct {
		Messages []messaging.Message `json:"messages"`
	}
	if err := json.Unmarshal(hist.Body.Bytes(), &resp2); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp2.Messages) != 0 {
		t.Fatalf("answered call wrote %d thread lines", len(resp2.Messages))
	}
}

func TestAcceptTwiceConflicts(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "audio")

	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/accept", "u-b", "Blair", nil); w.Code != http.StatusOK {
		t.Fatalf("first accept: status %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/accept", "u-b", "Blair", nil); w.Code != http.StatusConflict {
		t.Fatalf("second accept: status %d, want 409", w.Code)
	}
}

func TestPushSignalParticipantGate(t *testing.T) {
	e := newTestEnv(t)
	sess := e.createCall(t, "u-a", "Avery", "u-b", "video")

	body := gin.H{"kind": "offer", "payload": `{"sdp":"v=0..."}`}
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/signals", "u-a", "Avery", body); w.Code != http.StatusCreated {
		t.Fatalf("participant push: status %d body %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/signals", "u-x", "Sky", body); w.Code != http.StatusForbidden {
		t.Fatalf("outsider push: status %d, want 403", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/missing/signals", "u-a", "Avery", body); w.Code != http.StatusNotFound {
		t.Fatalf("missing session push: status %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sess.ID+"/signals", "u-a", "Avery", gin.H{"kind": "mute", "payload": "{}"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status %d, want 400", w.Code)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodPost, "/v1/devices", "u-a", "Avery", gin.H{"token": "tok-1", "platform": "android"}); w.Code != http.StatusCreated {
		t.Fatalf("register: status %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/v1/devices/tok-1", "u-a", "Avery", nil); w.Code != http.StatusNoContent {
		t.Fatalf("remove: status %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/v1/devices/tok-1", "u-a", "Avery", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second remove: status %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/devices", "u-a", "Avery", gin.H{"token": "tok-2", "platform": "smartwatch"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad platform: status %d, want 400", w.Code)
	}
}

func TestThreadMessaging(t *testing.T) {
	e := newTestEnv(t)

	if w := e.do(t, http.MethodPost, "/v1/threads/u-b/messages", "u-a", "Avery", gin.H{"body": "how are you doing today?"}); w.Code != http.StatusCreated {
		t.Fatalf("send: status %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/threads/u-a/messages", "u-b", "Blair", gin.H{"body": "better, thanks for asking"}); w.Code != http.StatusCreated {
		t.Fatalf("reply: status %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/v1/threads/u-b/messages?limit=10", "u-a", "Avery", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status %d", w.Code)
	}
	var resp struct {
		Messages []messaging.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("history lines = %d, want 2", len(resp.Messages))
	}
	if resp.Messages[0].SenderID != "u-a" || resp.Messages[1].SenderID != "u-b" {
		t.Fatalf("history order: %+v", resp.Messages)
	}

	if w := e.do(t, http.MethodGet, "/v1/threads/u-b/messages?limit=nope", "u-a", "Avery", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status %d, want 400", w.Code)
	}
}
