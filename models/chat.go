package models

import (
	"time"
)

// Conversation statuses.
const (
	ConversationActive   = "active"
	ConversationResolved = "resolved"
	ConversationClosed   = "closed"
)

// Message types.
const (
	MessageText         = "text"
	MessageImage        = "image"
	MessageFile         = "file"
	MessagePrescription = "prescription"
)

// Conversation links a patient with a healthcare professional, optionally
// scoped to a facility (pharmacy, clinic). Exactly two participants; all
// messages in the conversation reference this pair. Conversations are never
// deleted, only resolved or closed.
type Conversation struct {
	ID             int64     `json:"id"`
	PatientID      int64     `json:"patient_id"`
	ProfessionalID int64     `json:"professional_id"`
	FacilityID     *int64    `json:"facility_id,omitempty"`
	Subject        string    `json:"subject"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID int64) bool {
	return userID == c.PatientID || userID == c.ProfessionalID
}

// Counterpart returns the participant that is not userID. The caller must
// have checked HasParticipant first.
func (c *Conversation) Counterpart(userID int64) int64 {
	if userID == c.PatientID {
		return c.ProfessionalID
	}
	return c.PatientID
}

// ConversationSummary is a conversation as listed in the inbox, with the
// caller's unread count.
type ConversationSummary struct {
	Conversation
	UnreadCount int64 `json:"unread_count"`
}

// Message is one entry in a conversation's append-only log. Body, type and
// attachment are immutable once created; only the read flag and timestamp
// change, and only through a non-sender participant marking the
// conversation read.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       int64      `json:"sender_id"`
	Body           string     `json:"body"`
	Type           string     `json:"type"`
	Attachment     *string    `json:"attachment,omitempty"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ValidMessageType reports whether t is one of the supported message types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessagePrescription:
		return true
	}
	return false
}

// PushToken is a registered device delivery token. Owned by the device
// registration endpoint; the chat core only reads it.
type PushToken struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Platform  string    `json:"platform"`
	Token     string    `json:"token"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
