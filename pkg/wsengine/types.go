// Package wsengine implements Almanac's WebSocket subscription and event-streaming
// engine: connection lifecycle, persistent filter subscriptions, and fan-out.
package wsengine

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/timewave-computer/almanac/pkg/event"
)

// ConnectionID uniquely identifies one upgraded WebSocket connection.
type ConnectionID string

// SubscriptionID uniquely identifies one client subscription, independent of the
// connection it is currently attached to (so it can survive reconnects).
type SubscriptionID string

// MessageType tags the wire protocol's tagged union, snake_case per the spec's wire
// format.
type MessageType string

const (
	MsgSubscribe     MessageType = "subscribe"
	MsgUnsubscribe   MessageType = "unsubscribe"
	MsgEvent         MessageType = "event"
	MsgSubscribed    MessageType = "subscribed"
	MsgUnsubscribed  MessageType = "unsubscribed"
	MsgError         MessageType = "error"
	MsgPing          MessageType = "ping"
	MsgPong          MessageType = "pong"
	MsgAuth          MessageType = "auth"
	MsgAuthResponse  MessageType = "auth_response"
)

// wireEvent is the base64-carrying wire shape of event.Event (RawData is arbitrary
// bytes, so it cannot ride directly in a JSON text frame).
type wireEvent struct {
	ID          string    `json:"id"`
	Chain       string    `json:"chain"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint32    `json:"log_index"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	RawData     string    `json:"raw_data"` // base64
}

func toWireEvent(e event.Event) wireEvent {
	return wireEvent{
		ID: e.ID, Chain: string(e.Chain), BlockNumber: e.BlockNumber, BlockHash: e.BlockHash,
		TxHash: e.TxHash, LogIndex: e.LogIndex, Timestamp: e.Timestamp, EventType: e.EventType,
		RawData: base64.StdEncoding.EncodeToString(e.RawData),
	}
}

func (w wireEvent) toEvent() (event.Event, error) {
	raw, err := base64.StdEncoding.DecodeString(w.RawData)
	if err != nil {
		return event.Event{}, err
	}
	return event.Event{
		ID: w.ID, Chain: event.ChainID(w.Chain), BlockNumber: w.BlockNumber, BlockHash: w.BlockHash,
		TxHash: w.TxHash, LogIndex: w.LogIndex, Timestamp: w.Timestamp, EventType: w.EventType,
		RawData: raw,
	}, nil
}

// Message is the envelope every frame is decoded into/encoded from. Only the fields
// relevant to Type are populated.
type Message struct {
	Type MessageType `json:"type"`

	// Subscribe / Subscribed / Unsubscribe / Unsubscribed
	SubscriptionID string       `json:"id,omitempty"`
	Filter         *event.Filter `json:"filters,omitempty"`
	Status         string       `json:"status,omitempty"`

	// Event
	Event *wireEvent `json:"event,omitempty"`

	// Error
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`

	// Ping / Pong
	Timestamp int64 `json:"ts,omitempty"`

	// Auth / AuthResponse
	Token         string `json:"token,omitempty"`
	Authenticated bool   `json:"authenticated,omitempty"`
	User          string `json:"user,omitempty"`
	Role          string `json:"role,omitempty"`
}

var errBadFrame = errors.New("wsengine: malformed message frame")

func decodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, errBadFrame
	}
	return m, nil
}

// Subscription is a durable interest in a stream of events matching Filter, bound to
// ConnectionID at the time it is active. EventCount and Active mirror the persisted
// shadow copy so recovery and stats can be served without touching live connections.
type Subscription struct {
	ID           SubscriptionID
	ConnectionID ConnectionID
	UserID       string
	Filter       event.Filter
	CreatedAt    time.Time
	EventCount   uint64
	Active       bool
}

// Authenticator validates a bearer token synthesized from an Auth message and returns
// the identity to attach to the connection. The engine is opaque to how this is
// implemented (§1) — callers supply their own collaborator; NoopAuthenticator is
// provided for tests and wiring that don't need real auth.
type Authenticator interface {
	Authenticate(authorizationHeader string) (userID, role string, ok bool)
}

// NoopAuthenticator accepts any non-empty authorization header and attaches no role.
type NoopAuthenticator struct{}

func (NoopAuthenticator) Authenticate(authorizationHeader string) (string, string, bool) {
	if authorizationHeader == "" {
		return "", "", false
	}
	return authorizationHeader, "", true
}

// Stats summarizes the engine's current connection/subscription population, per §4.7's
// statistics surface and the supplemented /ws/stats endpoint.
type Stats struct {
	TotalConnections              int     `json:"total_connections"`
	AuthenticatedConnections      int     `json:"authenticated_connections"`
	TotalSubscriptions            int     `json:"total_subscriptions"`
	PersistentSubscriptions       int     `json:"persistent_subscriptions"`
	AvgSubscriptionsPerConnection float64 `json:"avg_subscriptions_per_connection"`
}
