package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatwire/auth"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
	"chatwire/session"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Backpressure bound per connection. Frames past it are dropped;
	// reconnect reconciliation recovers any missed message.
	sendBufferSize = 256
)

// wsEnvelope is a client-to-server control frame.
type wsEnvelope struct {
	Type           string `json:"type"`
	ConversationID uint64 `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

// wsFrame is a server-to-client frame, tagged with the logical channel
// it belongs to.
type wsFrame struct {
	Channel   string         `json:"channel"`
	Type      string         `json:"type"`
	Message   *messageJSON   `json:"message,omitempty"`
	Presence  *presenceJSON  `json:"presence,omitempty"`
	Presences []presenceJSON `json:"presences,omitempty"`
}

type presenceJSON struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Online    bool   `json:"online"`
	Typing    bool   `json:"typing"`
	UpdatedAt string `json:"updated_at"`
}

func messageChannel(id domain.ConversationID) string {
	return fmt.Sprintf("messages_conv_%d", id)
}

func presenceChannel(id domain.ConversationID) string {
	return fmt.Sprintf("presence_conv_%d", id)
}

func presenceList(records []domain.PresenceRecord) []presenceJSON {
	out := make([]presenceJSON, 0, len(records))
	for _, record := range records {
		out = append(out, toPresenceJSON(record))
	}
	return out
}

func toPresenceJSON(r domain.PresenceRecord) presenceJSON {
	return presenceJSON{
		UserID:    r.UserID,
		Username:  r.Handle,
		Online:    r.Online,
		Typing:    r.Typing,
		UpdatedAt: r.UpdatedAt.Format(timeLayout),
	}
}

// wsClient is one websocket connection. A single connection may attach
// to several conversations; each attachment is a session owned by the
// session manager.
type wsClient struct {
	handler *Handler
	conn    *websocket.Conn
	claims  *auth.CustomClaims
	send    chan []byte

	mu       sync.Mutex
	closed   bool
	sessions map[domain.ConversationID]*session.Session
}

// HandleWebSocket authenticates, upgrades and runs the connection until
// the peer goes away. Every attached session is torn down on exit, which
// flips the user offline in each conversation.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := auth.IdentityFromRequest(r)
	if claims == nil {
		h.respondError(w, errors.ErrUnauthenticated)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("Websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{
		handler:  h,
		conn:     conn,
		claims:   claims,
		send:     make(chan []byte, sendBufferSize),
		sessions: make(map[domain.ConversationID]*session.Session),
	}

	h.Log.Debug("Websocket connected", "user", claims.Handle)
	go client.writePump()
	client.readPump(r)
}

func (c *wsClient) readPump(r *http.Request) {
	defer c.teardown()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.handler.Log.Warn("Websocket read failed", "user", c.claims.Handle, "err", err)
			}
			return
		}

		var envelope wsEnvelope
		if err = json.Unmarshal(raw, &envelope); err != nil {
			c.handler.Log.Debug("Dropping malformed frame", "user", c.claims.Handle)
			continue
		}
		c.dispatch(r, envelope)
	}
}

func (c *wsClient) dispatch(r *http.Request, envelope wsEnvelope) {
	conversationID := domain.ConversationID(envelope.ConversationID)

	switch envelope.Type {
	case "join":
		c.join(r, conversationID)
	case "leave":
		c.leave(conversationID)
	case "typing":
		c.mu.Lock()
		_, attached := c.sessions[conversationID]
		c.mu.Unlock()
		if attached {
			c.handler.Tracker.Track(conversationID, c.claims.UserID, c.claims.Handle, envelope.Typing)
		}
	default:
		c.handler.Log.Debug("Unknown frame type", "type", envelope.Type)
	}
}

func (c *wsClient) join(r *http.Request, conversationID domain.ConversationID) {
	sess, err := c.handler.Sessions.Connect(r.Context(), c.claims.UserID, c.claims.Handle, conversationID)
	if err != nil {
		c.handler.Log.Warn("Join refused",
			"user", c.claims.Handle, "conversation", conversationID, "err", err)
		return
	}

	c.mu.Lock()
	c.sessions[conversationID] = sess
	c.mu.Unlock()

	sess.OnEvent(c.forward)

	// The sync snapshot was delivered to the session before the forward
	// callback existed, so it is replayed from session state here.
	c.enqueue(wsFrame{
		Channel:   presenceChannel(conversationID),
		Type:      "presence.sync",
		Presences: presenceList(sess.Presence()),
	})
}

func (c *wsClient) leave(conversationID domain.ConversationID) {
	c.mu.Lock()
	sess, ok := c.sessions[conversationID]
	delete(c.sessions, conversationID)
	c.mu.Unlock()
	if ok {
		c.handler.Sessions.Disconnect(sess)
	}
}

// forward translates domain events into wire frames. Called from the
// bus fan-out goroutine.
func (c *wsClient) forward(e event.DomainEvent) {
	switch evt := e.(type) {
	case event.MessageInserted:
		message := toMessageJSON(evt.Message)
		c.enqueue(wsFrame{
			Channel: messageChannel(evt.ConversationID()),
			Type:    "message.insert",
			Message: &message,
		})
	case event.PresenceUpdated:
		record := toPresenceJSON(evt.Record)
		c.enqueue(wsFrame{
			Channel:  presenceChannel(evt.ConversationID()),
			Type:     "presence.track",
			Presence: &record,
		})
	case event.PresenceSynced:
		c.enqueue(wsFrame{
			Channel:   presenceChannel(evt.ConversationID()),
			Type:      "presence.sync",
			Presences: presenceList(evt.Records),
		})
	}
}

func (c *wsClient) enqueue(frame wsFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		c.handler.Log.Error("Frame marshal failed", "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		// Slow consumer: drop the frame, never block the bus.
		c.handler.Log.Warn("Send buffer full, dropping frame", "user", c.claims.Handle)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown disconnects every attached session and closes the write side.
// The closed flag keeps late fan-out deliveries away from the closed
// channel.
func (c *wsClient) teardown() {
	c.mu.Lock()
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.sessions = make(map[domain.ConversationID]*session.Session)
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	for _, sess := range sessions {
		c.handler.Sessions.Disconnect(sess)
	}
	c.handler.Log.Debug("Websocket disconnected", "user", c.claims.Handle)
}
