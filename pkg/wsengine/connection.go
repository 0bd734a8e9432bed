package wsengine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/timewave-computer/almanac/pkg/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func marshalMessage(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// HandleConnection upgrades an already-accepted *websocket.Conn into a tracked
// connection: it assigns a connection id, registers it with the hub, splits the socket
// into read and write halves exactly as §4.7 describes, and blocks until the connection
// closes. Callers typically run this in its own goroutine per accepted socket.
func (h *Hub) HandleConnection(conn *websocket.Conn) {
	id := ConnectionID(uuid.New().String())
	cs := h.register(id)
	defer h.unregister(id)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.writePump(conn, cs)
	h.readPump(conn, cs)
}

// readPump parses text frames as tagged-union messages and dispatches them. Binary
// frames are ignored with a warning, per §4.7. It returns when the connection closes or
// a frame cannot be read, which triggers cleanup in HandleConnection's defer.
func (h *Hub) readPump(conn *websocket.Conn, cs *connState) {
	defer cs.closeOnce.Do(func() { close(cs.done) })

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			h.logger.Printf("connection %s sent a binary frame, ignoring", cs.id)
			continue
		}
		if !cs.limiter.Allow() {
			h.sendError(cs, "", "rate limit exceeded", "rate_limited")
			continue
		}

		msg, err := decodeMessage(raw)
		if err != nil {
			h.sendError(cs, "", err.Error(), "bad_frame")
			continue
		}
		h.dispatch(cs, msg)
	}
}

func (h *Hub) dispatch(cs *connState, msg Message) {
	switch msg.Type {
	case MsgSubscribe:
		h.handleSubscribe(cs, msg)
	case MsgUnsubscribe:
		h.handleUnsubscribe(cs, msg)
	case MsgAuth:
		h.handleAuth(cs, msg)
	case MsgPing:
		h.sendTo(cs, Message{Type: MsgPong, Timestamp: msg.Timestamp})
	default:
		h.sendError(cs, "", "unsupported message type", "bad_type")
	}
}

func (h *Hub) handleSubscribe(cs *connState, msg Message) {
	var filter event.Filter
	if msg.Filter != nil {
		filter = *msg.Filter
	}
	id := SubscriptionID(uuid.New().String())
	h.subscribe(cs, id, cs.userID, filter)
	h.sendTo(cs, Message{Type: MsgSubscribed, SubscriptionID: string(id), Status: "active"})
}

func (h *Hub) handleUnsubscribe(cs *connState, msg Message) {
	id := SubscriptionID(msg.SubscriptionID)
	h.unsubscribe(cs, id)
	h.sendTo(cs, Message{Type: MsgUnsubscribed, SubscriptionID: string(id)})
}

func (h *Hub) handleAuth(cs *connState, msg Message) {
	header := "Bearer " + msg.Token
	userID, role, ok := h.auth.Authenticate(header)
	h.mu.Lock()
	cs.authenticated = ok
	if ok {
		cs.userID = userID
		cs.role = role
	}
	h.mu.Unlock()
	h.sendTo(cs, Message{Type: MsgAuthResponse, Authenticated: ok, User: userID, Role: role})
}

func (h *Hub) sendError(cs *connState, subID, errMsg, code string) {
	h.sendTo(cs, Message{Type: MsgError, SubscriptionID: subID, Error: errMsg, Code: code})
}

func (h *Hub) sendTo(cs *connState, msg Message) {
	payload, err := marshalMessage(msg)
	if err != nil {
		h.logger.Printf("failed to marshal outbound message: %v", err)
		return
	}
	select {
	case cs.outbound <- payload:
	default:
		h.logger.Printf("connection %s outbound channel full, shedding", cs.id)
		h.shed(cs)
	}
}

// writePump drains the outbound channel and mirrors ping/pong traffic, per §4.7. It
// exits when the connection's done channel closes or a write fails.
func (h *Hub) writePump(conn *websocket.Conn, cs *connState) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case payload, ok := <-cs.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cs.done:
			return
		}
	}
}
