package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"medilink_back_end_go/models"
)

// ChatStore is the slice of persistence the relay needs. PgChatStore
// implements it; relay tests use an in-memory fake.
type ChatStore interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	InsertMessage(ctx context.Context, conversationID, senderID int64, body, messageType string, attachment *string) (*models.Message, error)
	TouchConversation(ctx context.Context, id int64) error
	MarkConversationRead(ctx context.Context, conversationID, readerID int64) (int64, error)
}

// Dispatcher is the offline fallback path for messages whose recipient has
// no live connection.
type Dispatcher interface {
	DispatchNewMessage(ctx context.Context, conv *models.Conversation, msg *models.Message) error
}

// Relay consumes inbound events from live connections and delivers them
// to the counterpart, over their live connection when online and through
// the push dispatcher otherwise.
type Relay struct {
	store      ChatStore
	registry   *Registry
	dispatcher Dispatcher
	logger     zerolog.Logger
}

func NewRelay(store ChatStore, registry *Registry, dispatcher Dispatcher, logger zerolog.Logger) *Relay {
	return &Relay{
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "relay").Logger(),
	}
}

// HandleInbound dispatches one raw frame from an active connection.
// Malformed frames and unknown event types are answered with an
// invalid_input error on the sender's own connection.
func (r *Relay) HandleInbound(ctx context.Context, senderID int64, sender Conn, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, err.Error()))
		return
	}

	switch env.Type {
	case EventSendMessage:
		r.handleSendMessage(ctx, senderID, sender, env.Data)
	case EventTyping:
		r.handleTyping(ctx, senderID, env.Data)
	case EventMarkRead:
		r.handleMarkRead(ctx, senderID, sender, env.Data)
	}
}

// handleSendMessage validates, persists, echoes the materialized message to
// the sender, and delivers to the counterpart. Live delivery and push
// fallback are mutually exclusive: the presence check decides the path, and
// a failed write to a connection that went away in between is logged, not
// retried, and not compensated with a push.
func (r *Relay) handleSendMessage(ctx context.Context, senderID int64, sender Conn, data []byte) {
	var p SendMessagePayload
	if err := decodePayload(data, &p); err != nil {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "malformed send_message payload"))
		return
	}

	if p.ConversationID <= 0 {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "conversation id is required"))
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "message body is required"))
		return
	}
	if p.MessageType == "" {
		p.MessageType = models.MessageText
	}
	if !models.ValidMessageType(p.MessageType) {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "unsupported message type"))
		return
	}
	// Active connections always carry a resolved identity; kept as a guard.
	if senderID <= 0 {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "sender identity missing"))
		return
	}

	conv, err := r.conversationForParticipant(ctx, p.ConversationID, senderID)
	if err != nil {
		r.reply(sender, r.membershipError(senderID, p.ConversationID, err))
		return
	}

	msg, err := r.store.InsertMessage(ctx, conv.ID, senderID, p.Message, p.MessageType, p.Attachment)
	if err != nil {
		r.logger.Error().Err(err).Int64("conversation_id", conv.ID).Msg("failed to persist message")
		r.reply(sender, encodeErrorEvent(CodePersistenceFailure, "message could not be stored"))
		return
	}

	// Best-effort: the message is already durable.
	if err := r.store.TouchConversation(ctx, conv.ID); err != nil {
		r.logger.Warn().Err(err).Int64("conversation_id", conv.ID).Msg("failed to bump conversation activity")
	}

	r.reply(sender, encodeMessageEvent(EventMessageSent, msg))

	recipientID := conv.Counterpart(senderID)
	if recipient, online := r.registry.Lookup(recipientID); online {
		if err := recipient.Send(encodeMessageEvent(EventNewMessage, msg)); err != nil {
			r.logger.Debug().Err(err).Int64("recipient_id", recipientID).Msg("live delivery failed")
		}
		return
	}

	if err := r.dispatcher.DispatchNewMessage(ctx, conv, msg); err != nil {
		r.logger.Error().Err(err).Int64("recipient_id", recipientID).Msg("push dispatch failed")
	}
}

// handleTyping relays the transient typing signal to the counterpart.
// Failures are dropped silently: typing is a low-stakes UI affordance, but
// membership is still enforced so the signal cannot leak to
// non-participants. (The explicit-error treatment is reserved for
// send_message; this asymmetry matches the mobile clients.)
func (r *Relay) handleTyping(ctx context.Context, senderID int64, data []byte) {
	var p TypingPayload
	if err := decodePayload(data, &p); err != nil {
		return
	}
	if p.ConversationID <= 0 {
		return
	}

	conv, err := r.conversationForParticipant(ctx, p.ConversationID, senderID)
	if err != nil {
		return
	}

	if recipient, online := r.registry.Lookup(conv.Counterpart(senderID)); online {
		_ = recipient.Send(encodeDataEvent(EventTyping, TypingEvent{
			ConversationID: conv.ID,
			UserID:         senderID,
			IsTyping:       p.IsTyping,
		}))
	}
}

// handleMarkRead bulk-marks every unread message the sender did not write,
// then tells the counterpart so their UI can reconcile read state. No push
// fallback on this path. Repeating the call is a no-op.
func (r *Relay) handleMarkRead(ctx context.Context, senderID int64, sender Conn, data []byte) {
	var p MarkReadPayload
	if err := decodePayload(data, &p); err != nil {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "malformed mark_read payload"))
		return
	}
	if p.ConversationID <= 0 {
		r.reply(sender, encodeErrorEvent(CodeInvalidInput, "conversation id is required"))
		return
	}

	conv, err := r.conversationForParticipant(ctx, p.ConversationID, senderID)
	if err != nil {
		r.reply(sender, r.membershipError(senderID, p.ConversationID, err))
		return
	}

	count, err := r.store.MarkConversationRead(ctx, conv.ID, senderID)
	if err != nil {
		r.logger.Error().Err(err).Int64("conversation_id", conv.ID).Msg("failed to mark messages read")
		r.reply(sender, encodeErrorEvent(CodePersistenceFailure, "read state could not be stored"))
		return
	}

	if recipient, online := r.registry.Lookup(conv.Counterpart(senderID)); online {
		_ = recipient.Send(encodeDataEvent(EventMessagesRead, MessagesReadEvent{
			ConversationID: conv.ID,
			ReaderID:       senderID,
			Count:          count,
		}))
	}
}

// conversationForParticipant loads the conversation and enforces that
// userID is one of its two parties.
func (r *Relay) conversationForParticipant(ctx context.Context, conversationID, userID int64) (*models.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// membershipError maps a conversation lookup failure to its wire error. A
// missing conversation and a foreign conversation are both access_denied
// so the protocol does not reveal which conversation ids exist.
func (r *Relay) membershipError(senderID, conversationID int64, err error) []byte {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotParticipant):
		r.logger.Warn().
			Int64("sender_id", senderID).
			Int64("conversation_id", conversationID).
			Msg("rejected event for conversation the sender does not belong to")
		return encodeErrorEvent(CodeAccessDenied, "not a participant of this conversation")
	default:
		r.logger.Error().Err(err).Int64("conversation_id", conversationID).Msg("conversation lookup failed")
		return encodeErrorEvent(CodePersistenceFailure, "conversation could not be loaded")
	}
}

func (r *Relay) reply(sender Conn, payload []byte) {
	if err := sender.Send(payload); err != nil {
		r.logger.Debug().Err(err).Msg("reply to sender failed")
	}
}
