package domain

import (
	"encoding/json"
	"time"
)

// InboundMessage is a plain chat message delivered by a channel.
type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string // platform user ID of the sender
	Identity  string // identity used for authorization (email address)
	Text      string
	Timestamp time.Time
}

// CardSubmission is the structured payload produced when a user submits
// an interactive card attached to a prior message.
type CardSubmission struct {
	Channel    string
	ChatID     string
	MessageRef string // the message carrying the card, for deletion
	Fields     map[string]string
	Timestamp  time.Time
}

// InboundEvent is the single event type flowing from channels to the
// router. Exactly one of Message or Card is set.
type InboundEvent struct {
	ID      string // correlation ID assigned at ingestion
	Message *InboundMessage
	Card    *CardSubmission
}

// OutboundMessage is a fire-and-forget send back to a conversation.
// Markdown is the message body; Card, when non-nil, is a Block Kit card
// body attached to the message. RemoveRef, when non-empty, asks the
// channel to delete that message from the conversation (best-effort).
type OutboundMessage struct {
	Channel   string
	ChatID    string
	Markdown  string
	Card      json.RawMessage
	RemoveRef string
}

// BotIdentity is the bot's own identity, captured once at startup.
// Self-message suppression is a field comparison against UserID.
type BotIdentity struct {
	UserID      string
	DisplayName string
}
