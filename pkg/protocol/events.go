// Package protocol defines the JSON event schema spoken over the websocket.
//
// Every event is a JSON object with a "type" tag from a closed set. Inbound
// events (client → server) are decoded through DecodeClientEvent, which
// rejects unknown tags and malformed payloads instead of silently ignoring
// them. Outbound events (server → client) are plain structs whose Encode
// method produces the wire bytes; the tag is fixed by the constructor so a
// handler can never emit a mistagged event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event type tags (client → server)
const (
	TypeDM      = "dm"
	TypeHistory = "history"
)

// Event type tags (server → client). TypeDM and TypeHistory are reused on
// the outbound side with different payloads, matching the tags clients
// already dispatch on.
const (
	TypeReady      = "ws_ready"
	TypeDMSelf     = "dm_self"
	TypeDMBlocked  = "dm_blocked"
	TypeNewMessage = "new_message"
	TypeFeedUpdate = "feed_update"
	TypeError      = "error"
)

var (
	// ErrUnknownType indicates the event carried a tag outside the closed set.
	ErrUnknownType = errors.New("unknown event type")
	// ErrMalformedEvent indicates the payload was not a valid event object.
	ErrMalformedEvent = errors.New("malformed event")
)

// ClientEvent is an inbound event after boundary validation. The concrete
// types are SendMessage and FetchHistory.
type ClientEvent interface {
	clientEvent()
}

// SendMessage asks the server to deliver a direct message.
type SendMessage struct {
	ToUserID int64  `json:"toUserId"`
	Text     string `json:"text"`
}

func (SendMessage) clientEvent() {}

// FetchHistory asks for the full conversation with another user.
type FetchHistory struct {
	WithUser int64 `json:"withUser"`
}

func (FetchHistory) clientEvent() {}

// envelope is used to peek at the tag before decoding the typed payload.
type envelope struct {
	Type string `json:"type"`
}

// DecodeClientEvent parses and validates one inbound event. It returns
// ErrUnknownType for tags outside the closed set and ErrMalformedEvent for
// payloads that do not decode or fail field validation.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeDM:
		var ev SendMessage
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if ev.ToUserID <= 0 {
			return nil, fmt.Errorf("%w: dm requires a positive toUserId", ErrMalformedEvent)
		}
		return &ev, nil

	case TypeHistory:
		var ev FetchHistory
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if ev.WithUser <= 0 {
			return nil, fmt.Errorf("%w: history requires a positive withUser", ErrMalformedEvent)
		}
		return &ev, nil

	case "":
		return nil, fmt.Errorf("%w: missing type tag", ErrMalformedEvent)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ServerEvent is an outbound event ready for the wire.
type ServerEvent interface {
	Encode() ([]byte, error)
}

// Message is the wire form of a stored direct message, field names matching
// the rows the history endpoint has always returned.
type Message struct {
	ID        string    `json:"id"`
	From      int64     `json:"from_user_id"`
	To        int64     `json:"to_user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ReadyEvent acknowledges a successful websocket handshake.
type ReadyEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// NewReady builds the ws_ready acknowledgment carrying the resolved identity.
func NewReady(userID int64) *ReadyEvent {
	return &ReadyEvent{Type: TypeReady, UserID: userID}
}

func (e *ReadyEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// IncomingDMEvent delivers a direct message to its recipient.
type IncomingDMEvent struct {
	Type string `json:"type"`
	From int64  `json:"from"`
	Text string `json:"text"`
}

// NewIncomingDM builds the recipient-side dm event.
func NewIncomingDM(from int64, text string) *IncomingDMEvent {
	return &IncomingDMEvent{Type: TypeDM, From: from, Text: text}
}

func (e *IncomingDMEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// DMSelfEvent echoes a sent message back to its sender.
type DMSelfEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewDMSelf builds the sender-side echo event.
func NewDMSelf(text string) *DMSelfEvent {
	return &DMSelfEvent{Type: TypeDMSelf, Text: text}
}

func (e *DMSelfEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// SignalEvent is a payload-free notification: dm_blocked, new_message or
// feed_update.
type SignalEvent struct {
	Type string `json:"type"`
}

// NewDMBlocked tells the sender their message was refused by the recipient's
// privacy preference.
func NewDMBlocked() *SignalEvent { return &SignalEvent{Type: TypeDMBlocked} }

// NewNewMessage signals both conversation parties that their inbox changed.
func NewNewMessage() *SignalEvent { return &SignalEvent{Type: TypeNewMessage} }

// NewFeedUpdate signals that the receiving user's feed should be refreshed.
func NewFeedUpdate() *SignalEvent { return &SignalEvent{Type: TypeFeedUpdate} }

func (e *SignalEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// HistoryEvent carries a full conversation, ascending by creation time.
type HistoryEvent struct {
	Type     string     `json:"type"`
	Messages []*Message `json:"messages"`
}

// NewHistory builds the history response. A nil slice is sent as [] so
// clients never see null.
func NewHistory(messages []*Message) *HistoryEvent {
	if messages == nil {
		messages = []*Message{}
	}
	return &HistoryEvent{Type: TypeHistory, Messages: messages}
}

func (e *HistoryEvent) Encode() ([]byte, error) { return json.Marshal(e) }

// ErrorEvent reports a per-operation failure to the connection that caused
// it. It never carries internal details.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error event with a client-safe message.
func NewError(message string) *ErrorEvent {
	return &ErrorEvent{Type: TypeError, Message: message}
}

func (e *ErrorEvent) Encode() ([]byte, error) { return json.Marshal(e) }
