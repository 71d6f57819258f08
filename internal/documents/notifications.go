package documents

import (
	"context"

	"go.uber.org/zap"
)

// EventKind names a workflow transition worth telling someone about.
type EventKind string

const (
	EventSignatureRequested EventKind = "signature_requested"
	EventRevisionApproved   EventKind = "revision_approved"
)

// Notification is the payload handed to the delivery sink.
type Notification struct {
	Kind            EventKind
	Document        Document
	Revision        Revision
	Role            Role
	ActorName       string
	RecipientUserID string
	RecipientName   string
}

// Notifier delivers notifications. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// UserDirectory resolves a planned signer's display name to a user id.
type UserDirectory interface {
	ResolveUserByDisplayName(ctx context.Context, displayName string) (string, bool, error)
}

// MultiNotifier fans a notification out to every notifier.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, notification Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, notification)
		}
	}
}

// LogNotifier records notifications in the structured log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, notification Notification) {
	logger := n.Logger
	if logger == nil {
		return
	}
	logger.Info("workflow notification",
		zap.String("event", string(notification.Kind)),
		zap.String("doc_number", notification.Document.DocNumber),
		zap.String("revision", notification.Revision.Label),
		zap.String("role", string(notification.Role)),
		zap.String("actor", notification.ActorName),
		zap.String("recipient_user_id", notification.RecipientUserID),
		zap.String("recipient_name", notification.RecipientName),
	)
}
