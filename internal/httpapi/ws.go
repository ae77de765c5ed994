package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"peersupport-platform/internal/calls"
	"peersupport-platform/internal/config"
	"peersupport-platform/internal/signaling"
	"peersupport-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	wsWriteTimeout = 5 * time.Second

	// Watch streams can sit idle for the length of a call; protocol pings
	// keep proxies from reaping them and surface dead peers.
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchSlots caps concurrent watch streams per user with a shared counter, so
// one client cannot pin an unbounded number of server subscriptions. A nil
// WatchSlots, or one built without a redis client, admits everything.
type WatchSlots struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewWatchSlots(rdb *redis.Client, cfg config.WatchConfig) *WatchSlots {
	return &WatchSlots{rdb: rdb, limit: cfg.MaxPerUser, ttl: cfg.SlotTTL}
}

// Acquire claims one slot for the user. The returned release must run when
// the stream ends.
func (s *WatchSlots) Acquire(ctx context.Context, userID string) (release func(), ok bool, err error) {
	if s == nil || s.rdb == nil {
		return func() {}, true, nil
	}
	key := "watch:slots:" + userID
	got, err := utils.AcquireWatchSlot(ctx, s.rdb, key, s.limit, s.ttl)
	if err != nil || !got {
		return func() {}, got, err
	}
	return func() {
		// Teardown outlives the request context.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseWatchSlot(rctx, s.rdb, key)
	}, true, nil
}

// acquireSlot admits or rejects the stream before the connection upgrade, so
// rejections still go out as plain HTTP statuses.
func (h Handlers) acquireSlot(c *gin.Context, userID string) (func(), bool) {
	release, admitted, err := h.Slots.Acquire(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "watch capacity check failed"})
		return nil, false
	}
	if !admitted {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many watch streams"})
		return nil, false
	}
	return release, true
}

// watchReader drains the client side of an upgraded connection. Its only job
// is to notice the peer going away and cancel the write loop.
func watchReader(cancel context.CancelFunc, conn *websocket.Conn) {
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeFrame(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func sendPing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

type incomingFrame struct {
	Type    string            `json:"type"`
	Session calls.CallSession `json:"session"`
}

type sessionFrame struct {
	Type     string             `json:"type"`
	Snapshot bool               `json:"snapshot"`
	Session  *calls.CallSession `json:"session"`
}

type signalFrame struct {
	Type   string                  `json:"type"`
	Signal signaling.SignalMessage `json:"signal"`
}

// WatchIncoming streams invitations that newly name the authenticated user
// as receiver. Invitations pending from before the stream opened are not
// replayed; a reconnect therefore never resurfaces handled calls.
func (h Handlers) WatchIncoming(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	release, ok := h.acquireSlot(c, userID)
	if !ok {
		return
	}

	watch, err := h.Calls.WatchIncoming(c.Request.Context(), userID)
	if err != nil {
		release()
		abortForError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		watch.Close()
		release()
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		watch.Close()
		_ = conn.Close()
		release()
	}()
	watchReader(cancel, conn)

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			if err := sendPing(conn); err != nil {
				return
			}
		case sess, open := <-watch.Sessions():
			if !open {
				return
			}
			if err := writeFrame(conn, incomingFrame{Type: "incoming_call", Session: sess}); err != nil {
				return
			}
		}
	}
}

// WatchCall streams one session's record: first the current state, then every
// status write. A caller-side cancellation that lands before the stream opens
// still reaches the client through that first frame.
func (h Handlers) WatchCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortForError(c, err)
		return
	}
	if !sess.Participant(userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}
	release, ok := h.acquireSlot(c, userID)
	if !ok {
		return
	}

	watch, err := h.Calls.ObserveSession(c.Request.Context(), sess.ID)
	if err != nil {
		release()
		abortForError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		watch.Close()
		release()
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		watch.Close()
		_ = conn.Close()
		release()
	}()
	watchReader(cancel, conn)

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			if err := sendPing(conn); err != nil {
				return
			}
		case ev, open := <-watch.Events():
			if !open {
				return
			}
			if err := writeFrame(conn, sessionFrame{Type: "session", Snapshot: ev.Snapshot, Session: ev.Session}); err != nil {
				return
			}
		}
	}
}

// WatchSignals streams the other party's handshake messages, starting at the
// attach point. Clients must open this stream before expecting an offer.
func (h Handlers) WatchSignals(c *gin.Context) {
	if h.Calls == nil || h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortForError(c, err)
		return
	}
	if !sess.Participant(userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}
	release, ok := h.acquireSlot(c, userID)
	if !ok {
		return
	}

	watch, err := h.Signals.Observe(c.Request.Context(), sess.ID, signaling.WithoutSender(userID))
	if err != nil {
		release()
		abortForError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		watch.Close()
		release()
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		watch.Close()
		_ = conn.Close()
		release()
	}()
	watchReader(cancel, conn)

	pinger := time.NewTicker(wsPingInterval)
	defer pinger.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pinger.C:
			if err := sendPing(conn); err != nil {
				return
			}
		case msg, open := <-watch.Signals():
			if !open {
				return
			}
			if err := writeFrame(conn, signalFrame{Type: "signal", Signal: msg}); err != nil {
				return
			}
		}
	}
}
