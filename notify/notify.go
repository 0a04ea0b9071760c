// Package notify provides fire-and-forget notification emitters.
//
// Delivery mechanics (push gateways) are outside this service; an emitter
// either logs the event or persists it as an in-app notification. Callers
// treat every error as a warning.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/core"
)

// Logger writes each notification to a structured log.
type Logger struct {
	Log logrus.FieldLogger
}

func (l Logger) Notify(_ context.Context, account core.AccountID, kind core.NotificationKind, payload map[string]string) error {
	if l.Log == nil {
		return nil
	}
	fields := logrus.Fields{"account_id": account, "kind": kind}
	for k, v := range payload {
		fields["payload_"+k] = v
	}
	l.Log.WithFields(fields).Info("notification")
	return nil
}

// Inbox persists notifications so the account can list them in-app.
type Inbox struct {
	Store core.NotificationStore
	Clock core.Clock
}

func (i Inbox) Notify(ctx context.Context, account core.AccountID, kind core.NotificationKind, payload map[string]string) error {
	now := time.Now()
	if i.Clock != nil {
		now = i.Clock.Now()
	}
	copied := make(map[string]string, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	err := i.Store.InsertNotification(ctx, core.Notification{
		ID:        uuid.NewString(),
		AccountID: account,
		Kind:      kind,
		Payload:   copied,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("store %s notification for %s: %w", kind, account, err)
	}
	return nil
}

// Fanout delivers to every emitter and joins their errors.
type Fanout []core.Notifier

func (f Fanout) Notify(ctx context.Context, account core.AccountID, kind core.NotificationKind, payload map[string]string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, account, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ core.Notifier = Logger{}
	_ core.Notifier = Inbox{}
	_ core.Notifier = Fanout(nil)
)
