// Package router classifies inbound events and invokes the matching
// handler: authorization gating and command dispatch for plain messages,
// completeness gating and choice routing for card submissions.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"askbot/internal/card"
	"askbot/internal/domain"
	"askbot/internal/metrics"
)

// cardTrigger is the literal trigger word that dispatches the interactive
// card. Matching is case-insensitive.
const cardTrigger = "card"

const (
	unauthorizedReply = "Sorry, you are not authorized to use this bot."
	cardGreeting      = "Hello World - Adaptive Card"
	namePromptReply   = "Please enter a name and resubmit to continue."

	helpReply = "Hello! This is a Generative AI prototype chatbot with retrieval augmented generation responses for demo and evaluation purposes only. \n\n" +
		"Use the following commands:\n\n" +
		"- \"card\" \n"
)

// Authorizer answers allow-list membership queries.
type Authorizer interface {
	IsAuthorized(identity string) bool
}

// InferenceGateway forwards a free-text query to the inference backend.
// Completion is asynchronous; the gateway dispatches the response itself.
type InferenceGateway interface {
	Ask(eventID, channel, chatID, query string)
}

// Router dispatches inbound events. It keeps no cross-event state: each
// event is handled in its own goroutine and two in-flight events may
// interleave arbitrarily.
type Router struct {
	self    domain.BotIdentity
	gate    Authorizer
	bus     domain.MessageBus
	gateway InferenceGateway
	audit   domain.AuditLog
	logger  *slog.Logger

	messages *metrics.Counter
	rejected *metrics.Counter
	cards    *metrics.Counter
}

// Config holds the router's dependencies. Self is the bot identity
// captured at startup; messages from it never trigger dispatch.
type Config struct {
	Self    domain.BotIdentity
	Gate    Authorizer
	Bus     domain.MessageBus
	Gateway InferenceGateway
	Audit   domain.AuditLog
	Logger  *slog.Logger
}

func New(cfg Config) *Router {
	return &Router{
		self:     cfg.Self,
		gate:     cfg.Gate,
		bus:      cfg.Bus,
		gateway:  cfg.Gateway,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		messages: metrics.Collector.Counter("askbot_messages_total", "Message events dispatched"),
		rejected: metrics.Collector.Counter("askbot_rejected_total", "Messages rejected by the authorization gate"),
		cards:    metrics.Collector.Counter("askbot_cards_total", "Card submissions dispatched"),
	}
}

// Run consumes inbound events until the context is cancelled or the bus
// closes. Events are dispatched in arrival order but handled
// concurrently; a slow backend invocation for one event does not delay
// the next.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("router started", "bot_user", r.self.UserID)
	inbound := r.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("router stopping")
			return
		case evt, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, router stopping")
				return
			}
			go r.Handle(evt)
		}
	}
}

// Handle processes a single inbound event.
func (r *Router) Handle(evt domain.InboundEvent) {
	switch {
	case evt.Message != nil:
		r.handleMessage(evt.ID, evt.Message)
	case evt.Card != nil:
		r.handleCard(evt.ID, evt.Card)
	default:
		r.logger.Warn("empty inbound event", "event", evt.ID)
	}
}

func (r *Router) handleMessage(id string, msg *domain.InboundMessage) {
	if msg.SenderID == r.self.UserID {
		return
	}

	r.audit.Record("Incoming message", map[string]any{
		"event":    id,
		"identity": msg.Identity,
		"room":     msg.ChatID,
	})

	if !r.gate.IsAuthorized(msg.Identity) {
		r.rejected.Inc()
		r.logger.Warn("unauthorized access", "event", id, "identity", msg.Identity)
		r.audit.Record("Unauthorized access by "+msg.Identity, nil)
		r.reply(msg.Channel, msg.ChatID, unauthorizedReply)
		return
	}

	r.messages.Inc()
	if strings.EqualFold(strings.TrimSpace(msg.Text), cardTrigger) {
		r.bus.SendOutbound(domain.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Markdown: cardGreeting,
			Card:     card.Blocks(),
		})
		r.audit.Record("Card dispatched", map[string]any{"event": id, "room": msg.ChatID})
		return
	}

	// Unmatched text never errors: everything else falls through to help.
	r.sendHelp(id, msg.Channel, msg.ChatID, msg.Text)
}

// handleCard routes a card submission. No authorization re-check happens
// here: acceptance is gated purely on completeness of the name field
// (cards can only originate from a card dispatched to an authorized
// requester, though nothing re-verifies the submitter).
func (r *Router) handleCard(id string, sub *domain.CardSubmission) {
	if sub.Fields[card.FieldName] == "" {
		r.reply(sub.Channel, sub.ChatID, namePromptReply)
		return
	}

	r.cards.Inc()
	choice := sub.Fields[card.FieldChoice]
	r.audit.Record("Card submission", map[string]any{
		"event":  id,
		"room":   sub.ChatID,
		"choice": choice,
	})

	if choice == card.ChoiceAskAI {
		r.gateway.Ask(id, sub.Channel, sub.ChatID, sub.Fields[card.FieldDescription])
	} else {
		r.sendHelp(id, sub.Channel, sub.ChatID, sub.Fields[card.FieldDescription])
	}

	// Acknowledge the selection, then delete the originating card message.
	// The channel performs the deletion after the acknowledgment is posted;
	// deletion failure is best-effort and not specially handled.
	ack := fmt.Sprintf(">**Selected**: %s \n", choice)
	r.bus.SendOutbound(domain.OutboundMessage{
		Channel:   sub.Channel,
		ChatID:    sub.ChatID,
		Markdown:  ack,
		RemoveRef: sub.MessageRef,
	})
	r.audit.Record("Card response sent", map[string]any{"event": id, "room": sub.ChatID, "message": ack})
}

// sendHelp replies with the fixed help text. The raw user text is logged
// only; it does not alter the help content.
func (r *Router) sendHelp(id, channel, chatID, rawText string) {
	r.logger.Info("help requested", "event", id, "text_len", len(rawText))
	r.reply(channel, chatID, helpReply)
}

func (r *Router) reply(channel, chatID, markdown string) {
	r.bus.SendOutbound(domain.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Markdown: markdown,
	})
}
