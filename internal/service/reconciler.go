package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/audit"
	"github.com/openclaw/pairing-gateway-go/internal/repository"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
)

// Reconciler links every pending session once the collaborator reports an
// open connection.
type Reconciler struct {
	store    repository.SessionStore
	notifier Notifier
}

func NewReconciler(store repository.SessionStore, notifier Notifier) *Reconciler {
	return &Reconciler{store: store, notifier: notifierOrNop(notifier)}
}

// OnConnectionOpen returns the number of sessions it linked. Calling it again
// without new pending sessions links nothing.
func (r *Reconciler) OnConnectionOpen(ctx context.Context, accountID string) int {
	linked := r.store.BulkMarkLinked(accountID)

	for i := range linked {
		session := &linked[i]
		audit.Log(ctx, audit.Event{
			Type:      audit.EventSessionLinked,
			Code:      session.Code,
			SessionID: session.SessionID,
			AccountID: accountID,
			Details:   map[string]interface{}{"source": "connection_open"},
		})
		notify(ctx, r.notifier, sse.SessionTopic(session.Code), EventSessionLinked, session)
	}

	log.Info().
		Str("accountId", accountID).
		Int("count", len(linked)).
		Msg("pending sessions reconciled")

	return len(linked)
}
