package services

import (
	"encoding/json"
	"fmt"

	"medilink_back_end_go/models"
)

// Inbound event types.
const (
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
)

// Outbound event types.
const (
	EventConnected    = "connected"
	EventMessageSent  = "message_sent"
	EventNewMessage   = "new_message"
	EventMessagesRead = "messages_read"
	EventError        = "error"
)

// Protocol error codes.
const (
	CodeInvalidInput       = "invalid_input"
	CodeAccessDenied       = "access_denied"
	CodePersistenceFailure = "persistence_failure"
)

// Websocket close codes used during the handshake.
const (
	CloseMissingToken      = 4001
	CloseInvalidToken      = 4002
	CloseSessionSuperseded = 4000
)

// Envelope is the wire frame for inbound events. Data is decoded per type
// so an unknown or malformed type fails at the dispatch point instead of
// leaking into handlers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendMessagePayload is the data of a send_message event.
type SendMessagePayload struct {
	ConversationID int64   `json:"conversation_id"`
	Message        string  `json:"message"`
	MessageType    string  `json:"message_type"`
	Attachment     *string `json:"attachment,omitempty"`
}

// TypingPayload is the data of a typing event.
type TypingPayload struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

// MarkReadPayload is the data of a mark_read event.
type MarkReadPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

// ConnectedPayload acknowledges a successful handshake with the identity
// the server resolved from the credential.
type ConnectedPayload struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// TypingEvent is the typing signal relayed to the counterpart.
type TypingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// MessagesReadEvent tells the original sender their messages were consumed.
type MessagesReadEvent struct {
	ConversationID int64 `json:"conversation_id"`
	ReaderID       int64 `json:"reader_id"`
	Count          int64 `json:"count"`
}

// ErrorPayload is sent back to the originating connection when an event is
// rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// outbound is the wire frame for server-to-client events. Message events
// carry the materialized message under "message"; everything else goes
// under "data".
type outbound struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message interface{} `json:"message,omitempty"`
}

// DecodeEnvelope parses an inbound frame and rejects unknown event types.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	switch env.Type {
	case EventSendMessage, EventTyping, EventMarkRead:
		return &env, nil
	}
	return nil, fmt.Errorf("unknown event type %q", env.Type)
}

func decodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing event data")
	}
	return json.Unmarshal(data, v)
}

func encodeDataEvent(eventType string, data interface{}) []byte {
	payload, err := json.Marshal(outbound{Type: eventType, Data: data})
	if err != nil {
		// All outbound payloads are plain structs; this cannot fail.
		panic(fmt.Sprintf("encode %s event: %v", eventType, err))
	}
	return payload
}

func encodeMessageEvent(eventType string, msg *models.Message) []byte {
	payload, err := json.Marshal(outbound{Type: eventType, Message: msg})
	if err != nil {
		panic(fmt.Sprintf("encode %s event: %v", eventType, err))
	}
	return payload
}

func encodeErrorEvent(code, message string) []byte {
	return encodeDataEvent(EventError, ErrorPayload{Code: code, Message: message})
}
