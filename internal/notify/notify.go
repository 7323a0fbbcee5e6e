// Package notify is the fire-and-forget notification boundary. Delivery
// failures never surface to editorial operations.
package notify

import (
	"context"

	"scriptoria.org/internal/obs"
)

// Notification is one outbound message. Composition and delivery (email,
// in-app) live outside the core.
type Notification struct {
	UserID       string `json:"user_id"`
	ManuscriptID string `json:"manuscript_id"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	ActionURL    string `json:"action_url,omitempty"`
}

// Dispatcher delivers notifications best-effort.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification)
}

// LogDispatcher writes notifications to the structured log. It stands in
// for the mail pipeline in development and tests.
type LogDispatcher struct{}

var _ Dispatcher = LogDispatcher{}

func (LogDispatcher) Notify(ctx context.Context, n Notification) {
	obs.LogRequest(map[string]any{
		"type":          "notification",
		"user_id":       n.UserID,
		"manuscript_id": n.ManuscriptID,
		"title":         n.Title,
	})
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }
