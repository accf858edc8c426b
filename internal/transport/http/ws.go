package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relay/internal/admission"
	"relay/internal/auth"
	"relay/internal/dto"
	"relay/internal/observability/metrics"
	"relay/internal/session"
)

var errSessionClosed = errors.New("session closed")

// Inbound frame from a connected client.
type wsInbound struct {
	Type       string          `json:"type"`
	RoomID     string          `json:"roomId,omitempty"`
	Ciphertext string          `json:"ciphertext,omitempty"`
	Header     json.RawMessage `json:"header,omitempty"`
	Ref        string          `json:"ref,omitempty"`
}

type wsSession struct {
	id       string
	userID   uuid.UUID
	deviceID uuid.UUID
	conn     *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newWSSession(conn *websocket.Conn, claims auth.Claims) *wsSession {
	return &wsSession{
		id:       uuid.NewString(),
		userID:   claims.UserID,
		deviceID: claims.DeviceID,
		conn:     conn,
		send:     make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

func (s *wsSession) ID() string          { return s.id }
func (s *wsSession) UserID() uuid.UUID   { return s.userID }
func (s *wsSession) DeviceID() uuid.UUID { return s.deviceID }

func (s *wsSession) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *wsSession) Close(reason string) error {
	var err error
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Push queues a payload for the write pump. A saturated buffer fails
// fast rather than blocking the dispatcher behind one slow client.
func (s *wsSession) Push(payload []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	case s.send <- payload:
		return nil
	default:
		return errors.New("session send buffer full")
	}
}

var _ session.Session = (*wsSession)(nil)

func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		h.logger.Warn("ws auth failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	decision, err := h.limiter.Allow(r.Context(), remoteIP(r), claims.UserID)
	if err != nil {
		// A broken limiter backend admits rather than blocks.
		h.logger.Warn("admission check failed, admitting", "error", err, "user_id", claims.UserID)
		decision = admission.Decision{Allowed: true}
	}
	if !decision.Allowed {
		retry := int(decision.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		http.Error(w, "connection rate limit exceeded", http.StatusTooManyRequests)
		h.logger.Warn("connection rejected by admission", "user_id", claims.UserID, "remote", r.RemoteAddr)
		return
	}

	var respHeader http.Header
	if proto, ok := auth.TokenSubprotocol(r); ok {
		respHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
	}

	conn, err := h.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	// One socket per device: a reconnect supersedes the previous one.
	if n := h.sessions.KickDevice(claims.UserID, claims.DeviceID, "superseded by new connection"); n > 0 {
		h.logger.Info("superseded stale sessions", "user_id", claims.UserID, "device_id", claims.DeviceID, "closed", n)
	}

	sess := newWSSession(conn, claims)
	h.sessions.Register(claims.UserID, sess)
	deadline := h.presence.Touch(claims.UserID, claims.DeviceID)
	metrics.WSConnections.Inc()
	h.logger.Info("ws session opened", "session_id", sess.ID(), "user_id", claims.UserID, "device_id", claims.DeviceID)

	defer func() {
		_ = sess.Close("connection closed")
		h.sessions.Remove(sess, claims.UserID)
		h.presence.MarkOffline(claims.UserID, claims.DeviceID)
		metrics.WSConnections.Dec()
		h.logger.Info("ws session closed", "session_id", sess.ID(), "user_id", claims.UserID)
	}()

	go h.writePump(sess)

	h.pushFrame(sess, map[string]any{"type": "heartbeat_ack", "deadline": deadline})

	// The request context carries the router's timeout; the socket
	// outlives it.
	h.readLoop(context.WithoutCancel(r.Context()), sess)
}

// writePump is the only goroutine writing data frames to the
// connection. Pings keep intermediaries from idling the socket out
// between app-level heartbeats.
func (h *Handlers) writePump(s *wsSession) {
	ping := time.NewTicker(h.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				_ = s.Close("write failed")
				return
			}
		case <-ping.C:
			_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
		}
	}
}

func (h *Handlers) readLoop(ctx context.Context, s *wsSession) {
	idle := 2 * h.heartbeat
	_ = s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(idle))

		var frame wsInbound
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.pushFrame(s, map[string]any{"type": "error", "error": "malformed frame"})
			continue
		}
		h.handleFrame(ctx, s, frame)
	}
}

func (h *Handlers) handleFrame(ctx context.Context, s *wsSession, frame wsInbound) {
	switch frame.Type {
	case "heartbeat":
		deadline := h.presence.Touch(s.userID, s.deviceID)
		h.pushFrame(s, map[string]any{"type": "heartbeat_ack", "deadline": deadline})

	case "typing_start":
		roomID, err := uuid.Parse(frame.RoomID)
		if err != nil {
			h.pushFrame(s, map[string]any{"type": "error", "ref": frame.Ref, "error": "invalid roomId"})
			return
		}
		h.typing.Start(roomID, s.userID, s.deviceID)

	case "typing_stop":
		roomID, err := uuid.Parse(frame.RoomID)
		if err != nil {
			h.pushFrame(s, map[string]any{"type": "error", "ref": frame.Ref, "error": "invalid roomId"})
			return
		}
		h.typing.Stop(roomID, s.userID, s.deviceID)

	case "send":
		roomID, err := uuid.Parse(frame.RoomID)
		if err != nil {
			h.pushFrame(s, map[string]any{"type": "error", "ref": frame.Ref, "error": "invalid roomId"})
			return
		}
		res, err := h.rooms.Send(ctx, roomID, s.userID, s.deviceID, dto.SendMessageRequest{
			Ciphertext: frame.Ciphertext,
			Header:     frame.Header,
		})
		if err != nil {
			h.pushFrame(s, map[string]any{"type": "error", "ref": frame.Ref, "error": err.Error()})
			h.logger.Warn("ws send failed", "error", err, "room_id", roomID, "user_id", s.userID)
			return
		}
		h.pushFrame(s, map[string]any{"type": "sent", "ref": frame.Ref, "id": res.ID, "roomId": res.RoomID, "sentAt": res.SentAt})

	default:
		h.pushFrame(s, map[string]any{"type": "error", "ref": frame.Ref, "error": "unknown frame type"})
	}
}

func (h *Handlers) pushFrame(s *wsSession, frame map[string]any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := s.Push(payload); err != nil {
		h.logger.Warn("ws push dropped", "session_id", s.ID(), "error", err)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
