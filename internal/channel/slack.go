// Package channel implements the chat platform boundary: Socket Mode
// event ingestion into the bus and best-effort outbound delivery.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"askbot/internal/card"
	"askbot/internal/domain"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Slack implements domain.Channel using Socket Mode. It publishes
// message events and card submissions onto the bus and delivers
// outbound payloads (markdown plus optional card blocks) back to
// conversations. Send and delete failures are logged and dropped; they
// never propagate to the caller.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	audit    domain.AuditLog
	self     domain.BotIdentity

	// emailCache maps platform user IDs to resolved email identities.
	emailCache   map[string]string
	emailCacheMu sync.Mutex
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
	Audit    domain.AuditLog
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken:   cfg.BotToken,
		appToken:   cfg.AppToken,
		logger:     cfg.Logger,
		audit:      cfg.Audit,
		emailCache: make(map[string]string),
	}
}

func (s *Slack) Name() string { return "slack" }

// Connect authenticates and captures the bot's own identity. It must be
// called before Start; a failure here is fatal to startup, since the
// service must not serve events without knowing who it is.
func (s *Slack) Connect(ctx context.Context) (domain.BotIdentity, error) {
	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return domain.BotIdentity{}, fmt.Errorf("slack auth: %w", err)
	}
	s.self = domain.BotIdentity{UserID: authResp.UserID, DisplayName: authResp.User}
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	s.audit.Record("*----------BotId Initialized----------*", nil)
	s.audit.Record("Content", map[string]any{
		"botId":       s.self.UserID,
		"retrievedAt": time.Now().Format(time.RFC1123),
	})

	return s.self, nil
}

// Start begins listening for events and blocks until the context is done.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	if s.client == nil {
		return fmt.Errorf("slack channel not connected")
	}
	s.bus = bus

	// Delivery errors are logged and discarded here; they never reach the
	// router. At-most-once, no queued retry.
	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if err := s.deliver(ctx, msg); err != nil {
			s.logger.Error("outbound delivery failed", "channel", msg.ChatID, "err", err)
		}
	})

	socketClient := socketmode.New(s.client)
	s.socket = socketClient

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeInteractive:
				cb, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleInteraction(cb)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op: the socket client stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Filter the bot's own messages and message_changed subtypes at
	// ingestion; the router re-checks against the bot identity as well.
	if ev.User == "" || ev.User == s.self.UserID || ev.BotID != "" {
		return
	}
	if ev.SubType != "" {
		return
	}

	identity := s.resolveIdentity(ctx, ev.User)
	s.logger.Info("slack message received",
		"user", ev.User,
		"channel", ev.Channel,
		"content_len", len(ev.Text),
	)

	s.bus.Publish(domain.InboundEvent{
		ID: uuid.NewString(),
		Message: &domain.InboundMessage{
			Channel:   "slack",
			ChatID:    ev.Channel,
			SenderID:  ev.User,
			Identity:  identity,
			Text:      ev.Text,
			Timestamp: time.Now(),
		},
	})
}

// handleInteraction converts a card submit into a CardSubmission event.
// Only the card's own submit button is routed; other block actions (the
// select changing value, for instance) are acknowledged and ignored.
func (s *Slack) handleInteraction(cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions {
		return
	}
	submitted := false
	for _, action := range cb.ActionCallback.BlockActions {
		if action.ActionID == card.SubmitActionID {
			submitted = true
			break
		}
	}
	if !submitted {
		return
	}

	chatID := cb.Channel.ID
	if chatID == "" {
		chatID = cb.Container.ChannelID
	}

	s.logger.Info("card submission received", "user", cb.User.ID, "channel", chatID)
	s.bus.Publish(domain.InboundEvent{
		ID: uuid.NewString(),
		Card: &domain.CardSubmission{
			Channel:    "slack",
			ChatID:     chatID,
			MessageRef: cb.Container.MessageTs,
			Fields:     collectFields(cb.BlockActionState),
			Timestamp:  time.Now(),
		},
	})
}

// collectFields flattens the card's input state into the field map the
// router consumes, keyed by action ID.
func collectFields(state *slack.BlockActionStates) map[string]string {
	fields := make(map[string]string)
	if state == nil {
		return fields
	}
	for _, blockValues := range state.Values {
		for actionID, action := range blockValues {
			value := action.Value
			if action.SelectedOption.Value != "" {
				value = action.SelectedOption.Value
			}
			fields[actionID] = value
		}
	}
	return fields
}

// resolveIdentity looks up the sender's email address, the identity the
// allow-list is keyed on. Lookup failures resolve to an empty identity,
// which the gate rejects (fail-closed).
func (s *Slack) resolveIdentity(ctx context.Context, userID string) string {
	s.emailCacheMu.Lock()
	email, ok := s.emailCache[userID]
	s.emailCacheMu.Unlock()
	if ok {
		return email
	}

	user, err := s.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		s.logger.Warn("user lookup failed", "user", userID, "err", err)
		return ""
	}

	s.emailCacheMu.Lock()
	s.emailCache[userID] = user.Profile.Email
	s.emailCacheMu.Unlock()
	return user.Profile.Email
}

// deliver posts the payload and then performs any requested deletion, in
// that order. The returned error reports the first failure; the caller
// decides whether to swallow it.
func (s *Slack) deliver(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.Markdown != "" {
		opts := []slack.MsgOption{slack.MsgOptionText(msg.Markdown, false)}
		if len(msg.Card) > 0 {
			var blocks slack.Blocks
			if err := json.Unmarshal(msg.Card, &blocks); err != nil {
				return fmt.Errorf("invalid card blocks: %w", err)
			}
			opts = append(opts, slack.MsgOptionBlocks(blocks.BlockSet...))
		}
		if _, _, err := s.client.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
			return fmt.Errorf("post message: %w", err)
		}
	}

	if msg.RemoveRef != "" {
		// Deletion is best-effort: a failed delete leaves the stale card
		// visible but the acknowledgment already posted.
		if _, _, err := s.client.DeleteMessageContext(ctx, msg.ChatID, msg.RemoveRef); err != nil {
			return fmt.Errorf("delete message %s: %w", msg.RemoveRef, err)
		}
	}
	return nil
}
