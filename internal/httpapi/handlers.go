package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"peersupport-platform/internal/auth"
	"peersupport-platform/internal/calls"
	"peersupport-platform/internal/messaging"
	"peersupport-platform/internal/push"
	"peersupport-platform/internal/signaling"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Calls    *calls.Service
	Signals  *signaling.Relay
	Messages *messaging.Service
	Push     *push.Relay
	Slots    *WatchSlots
	Log      *slog.Logger
}

// abortForError maps service errors onto HTTP statuses. Record-path failures
// reach the client; anything unrecognized is a plain 500.
func abortForError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, calls.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, push.ErrNotRegistered):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "device not registered"})
	case errors.Is(err, messaging.ErrThreadNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "thread not found"})
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, signaling.ErrInvalidSignal),
		errors.Is(err, messaging.ErrInvalidMessage),
		errors.Is(err, push.ErrInvalidDevice):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// identity pulls the authenticated user out of the request context.
func identity(c *gin.Context) (userID, displayName string, ok bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", "", false
	}
	return uid, auth.DisplayName(c.Request.Context()), true
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.DisplayName, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type createCallRequest struct {
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`
	Kind         string `json:"kind"`
}

// CreateCall places a call: it persists the inviting session, then asks the
// push relay to wake the receiver's devices. The two steps are not
// transactional; a failed wake-up is logged and dropped because the
// receiver's own incoming watch is the primary delivery path. A failed
// create aborts the action and no wake-up is attempted.
func (h Handlers) CreateCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, displayName, ok := identity(c)
	if !ok {
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	sess, err := h.Calls.Create(c.Request.Context(), calls.CreateParams{
		CallerID:     userID,
		ReceiverID:   req.ReceiverID,
		CallerName:   displayName,
		ReceiverName: req.ReceiverName,
		Kind:         calls.SessionKind(req.Kind),
	})
	if err != nil {
		abortForError(c, err)
		return
	}

	if h.Push != nil {
		title := "Incoming audio call"
		if sess.Kind == calls.KindVideo {
			title = "Incoming video call"
		}
		wakeErr := h.Push.Wake(c.Request.Context(), sess.ReceiverID, title, sess.CallerDisplayName+" is calling", push.WakeupPayload{
			Screen:         push.ScreenIncomingCall,
			SessionID:      sess.ID,
			Kind:           string(sess.Kind),
			OtherPartyID:   sess.CallerID,
			OtherPartyName: sess.CallerDisplayName,
		})
		if wakeErr != nil && h.Log != nil {
			h.Log.Warn("wake-up push failed", "session_id", sess.ID, "receiver_id", sess.ReceiverID, "error", wakeErr)
		}
	}

	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) GetCall(c *gin.Context) {
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
	c.JSON(http.StatusOK, sess)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetCallStatus moves a session through its lifecycle: accept, hang up or
// decline. Illegal transitions come back as 409 and leave the record as it
// was.
func (h Handlers) SetCallStatus(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
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

	updated, err := h.Calls.SetStatus(c.Request.Context(), sess.ID, calls.SessionStatus(req.Status))
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// AcceptCall marks the session active and returns the hand-off payload the
// media layer navigates with.
func (h Handlers) AcceptCall(c *gin.Context) {
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

	updated, err := h.Calls.SetStatus(c.Request.Context(), sess.ID, calls.StatusActive)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": updated,
		"handoff": calls.HandoffFor(updated, userID),
	})
}

// --- Signaling ---

type pushSignalRequest struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// PushSignal appends one handshake message to the session's signal channel.
// The payload travels through unparsed.
func (h Handlers) PushSignal(c *gin.Context) {
	if h.Calls == nil || h.Signals == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req pushSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
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

	msg, err := h.Signals.Push(c.Request.Context(), signaling.PushParams{
		SessionID: sess.ID,
		SenderID:  userID,
		Kind:      signaling.SignalKind(req.Kind),
		Payload:   req.Payload,
	})
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// --- Devices ---

type registerDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (h Handlers) RegisterDevice(c *gin.Context) {
	if h.Push == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "push not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	device, err := h.Push.Register(c.Request.Context(), userID, req.Token, req.Platform)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

func (h Handlers) RemoveDevice(c *gin.Context) {
	if h.Push == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "push not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	if err := h.Push.Remove(c.Request.Context(), userID, c.Param("token")); err != nil {
		abortForError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Threads ---

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (h Handlers) SendMessage(c *gin.Context) {
	if h.Messages == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "messaging not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	msg, err := h.Messages.Append(c.Request.Context(), userID, c.Param("user_id"), req.Body)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ThreadHistory returns the latest lines between the caller and another user,
// oldest first. A conversation that has not started yet is an empty list.
func (h Handlers) ThreadHistory(c *gin.Context) {
	if h.Messages == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "messaging not configured"})
		return
	}
	userID, _, ok := identity(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	msgs, err := h.Messages.History(c.Request.Context(), userID, c.Param("user_id"), limit)
	if err != nil {
		abortForError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
