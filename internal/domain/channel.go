package domain

import "context"

// Channel is the interface for a chat platform surface (Slack).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
