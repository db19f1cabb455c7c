package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/audit"
	"github.com/openclaw/pairing-gateway-go/internal/clock"
	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/link"
	"github.com/openclaw/pairing-gateway-go/internal/model"
	"github.com/openclaw/pairing-gateway-go/internal/repository"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
)

const defaultCollaboratorTimeout = 15 * time.Second

// OpenHandler reacts to the collaborator reporting a linked connection.
type OpenHandler interface {
	OnConnectionOpen(ctx context.Context, accountID string) int
}

type TrackerOptions struct {
	ReconnectBackoff    time.Duration
	InitRetryBackoff    time.Duration
	MaxBackoff          time.Duration
	MaxAttempts         int // 0 means unlimited
	CollaboratorTimeout time.Duration
}

// ConnectionTracker owns the device-link connection state and drives the
// collaborator through connect, retry and logout.
type ConnectionTracker struct {
	collaborator link.Collaborator
	credentials  repository.CredentialStore
	onOpen       OpenHandler
	notifier     Notifier
	clock        clock.Clock
	opts         TrackerOptions

	mu           sync.Mutex
	state        model.ConnectionState
	stateChanged time.Time
	qr           string
	qrIssuedAt   *time.Time
	accountID    string
	lastError    string
	attempts     int
	nextRetryAt  *time.Time
	retry        clock.Timer
	retryGen     uint64
	closed       bool
	loggedOut    bool // cleared by Restart or a new open
}

func NewConnectionTracker(
	collaborator link.Collaborator,
	credentials repository.CredentialStore,
	onOpen OpenHandler,
	notifier Notifier,
	clk clock.Clock,
	opts TrackerOptions,
) *ConnectionTracker {
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	return &ConnectionTracker{
		collaborator: collaborator,
		credentials:  credentials,
		onOpen:       onOpen,
		notifier:     notifierOrNop(notifier),
		clock:        clk,
		opts:         opts,
		state:        model.ConnectionStateDisconnected,
		stateChanged: clk.Now(),
	}
}

// Start asks the collaborator to connect with the stored credentials. On
// failure the tracker moves to error and schedules a retry; the returned
// error is informational. After a logout only Restart reconnects.
func (t *ConnectionTracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed || t.loggedOut {
		t.mu.Unlock()
		return nil
	}
	t.cancelRetryLocked()
	t.setStateLocked(model.ConnectionStateConnecting)
	status := t.statusLocked()
	t.mu.Unlock()
	t.publish(ctx, status)

	cctx, cancel := context.WithTimeout(ctx, t.opts.CollaboratorTimeout)
	defer cancel()

	creds, err := t.credentials.Load(cctx)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("load credentials: %w", err))
	}

	req := link.ConnectRequest{SessionID: uuid.NewString(), Credentials: creds}
	if err := t.collaborator.Connect(cctx, req, t.HandleEvent); err != nil {
		return t.fail(ctx, err)
	}

	log.Info().
		Str("linkSessionId", req.SessionID).
		Bool("resumed", creds != nil).
		Msg("collaborator connect requested")
	return nil
}

// Restart re-initializes the collaborator with a fresh retry budget.
func (t *ConnectionTracker) Restart(ctx context.Context) error {
	t.mu.Lock()
	t.cancelRetryLocked()
	t.attempts = 0
	t.loggedOut = false
	t.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, t.opts.CollaboratorTimeout)
	err := t.collaborator.Disconnect(dctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("collaborator disconnect before restart failed")
	}

	return t.Start(ctx)
}

// HandleEvent is the link.EventSink for the collaborator.
func (t *ConnectionTracker) HandleEvent(ctx context.Context, event link.Event) error {
	switch event.Type {
	case link.EventQR:
		t.OnQR(ctx, event.QR)
	case link.EventOpen:
		t.OnOpen(ctx, event.AccountID)
	case link.EventClose:
		if event.IsLoggedOut() {
			t.OnLoggedOut(ctx)
			return nil
		}
		t.OnClose(ctx, event.Reason)
	case link.EventCreds:
		return t.OnCredentials(ctx, event.Credentials)
	default:
		log.Warn().Str("type", string(event.Type)).Msg("ignoring unknown link event")
	}
	return nil
}

func (t *ConnectionTracker) OnQR(ctx context.Context, payload string) {
	t.mu.Lock()
	now := t.clock.Now()
	t.qr = payload
	t.qrIssuedAt = &now
	t.setStateLocked(model.ConnectionStateQRReady)
	status := t.statusLocked()
	t.mu.Unlock()

	log.Debug().Msg("link qr refreshed")
	t.publish(ctx, status)
}

func (t *ConnectionTracker) OnOpen(ctx context.Context, accountID string) {
	t.mu.Lock()
	t.cancelRetryLocked()
	t.qr = ""
	t.qrIssuedAt = nil
	t.accountID = accountID
	t.lastError = ""
	t.attempts = 0
	t.loggedOut = false
	t.setStateLocked(model.ConnectionStateOnline)
	status := t.statusLocked()
	t.mu.Unlock()

	log.Info().Str("accountId", accountID).Msg("device link online")
	t.publish(ctx, status)

	if t.onOpen != nil {
		t.onOpen.OnConnectionOpen(ctx, accountID)
	}
}

// OnClose handles a transient close and schedules a reconnect. A close
// that follows a logout is ignored.
func (t *ConnectionTracker) OnClose(ctx context.Context, reason int) {
	t.mu.Lock()
	if t.loggedOut {
		t.mu.Unlock()
		log.Debug().Int("reason", reason).Msg("ignoring close after logout")
		return
	}
	t.qr = ""
	t.qrIssuedAt = nil
	t.lastError = fmt.Sprintf("connection closed (reason %d)", reason)
	t.setStateLocked(model.ConnectionStateReconnecting)
	t.scheduleRetryLocked(t.opts.ReconnectBackoff)
	status := t.statusLocked()
	t.mu.Unlock()

	log.Warn().
		Int("reason", reason).
		Int("attempt", status.Attempts).
		Str("state", string(status.State)).
		Msg("device link closed")
	t.publish(ctx, status)
}

// OnLoggedOut drops the stored credentials and parks the tracker in
// disconnected until Restart.
func (t *ConnectionTracker) OnLoggedOut(ctx context.Context) {
	t.mu.Lock()
	t.loggedOut = true
	t.cancelRetryLocked()
	t.qr = ""
	t.qrIssuedAt = nil
	t.accountID = ""
	t.attempts = 0
	t.lastError = "logged out"
	t.setStateLocked(model.ConnectionStateDisconnected)
	status := t.statusLocked()
	t.mu.Unlock()

	if err := t.credentials.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear link credentials after logout")
	}
	audit.Log(ctx, audit.Event{Type: audit.EventCredentialsReset})

	log.Warn().Msg("device link logged out, restart required")
	t.publish(ctx, status)
}

// OnCredentials persists creds. An error keeps the event unacknowledged.
func (t *ConnectionTracker) OnCredentials(ctx context.Context, creds json.RawMessage) error {
	if err := t.credentials.Save(ctx, creds); err != nil {
		return fmt.Errorf("save link credentials: %w", err)
	}
	log.Debug().Int("bytes", len(creds)).Msg("link credentials saved")
	return nil
}

func (t *ConnectionTracker) Status() model.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *ConnectionTracker) State() model.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// QR returns the current QR payload, if one is outstanding.
func (t *ConnectionTracker) QR() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.qr, t.qr != ""
}

// Close cancels pending retries. The collaborator itself is closed by its owner.
func (t *ConnectionTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cancelRetryLocked()
}

func (t *ConnectionTracker) fail(ctx context.Context, cause error) error {
	appErr := apperrors.CollaboratorUnavailable(cause)

	t.mu.Lock()
	if t.loggedOut {
		t.mu.Unlock()
		log.Warn().Err(cause).Msg("collaborator connect failed after logout, not retrying")
		return appErr
	}
	t.lastError = appErr.Error()
	t.setStateLocked(model.ConnectionStateError)
	t.scheduleRetryLocked(t.opts.InitRetryBackoff)
	status := t.statusLocked()
	t.mu.Unlock()

	event := log.Error().Err(cause).Int("attempt", status.Attempts)
	if status.NextRetryAt != nil {
		event = event.Time("nextRetryAt", *status.NextRetryAt)
	}
	event.Msg("collaborator connect failed")

	t.publish(ctx, status)
	return appErr
}

// scheduleRetryLocked arms the next reconnect. Once MaxAttempts is exceeded
// the tracker parks in error until Restart.
func (t *ConnectionTracker) scheduleRetryLocked(base time.Duration) {
	t.cancelRetryLocked()
	if t.loggedOut {
		return
	}
	t.attempts++

	if t.closed {
		return
	}
	if t.opts.MaxAttempts > 0 && t.attempts > t.opts.MaxAttempts {
		t.lastError = fmt.Sprintf("giving up after %d attempts: %s", t.opts.MaxAttempts, t.lastError)
		t.setStateLocked(model.ConnectionStateError)
		return
	}

	delay := backoff(base, t.attempts, t.opts.MaxBackoff)
	next := t.clock.Now().Add(delay)
	t.nextRetryAt = &next

	gen := t.retryGen
	t.retry = t.clock.AfterFunc(delay, func() { t.retryFired(gen) })
}

func (t *ConnectionTracker) cancelRetryLocked() {
	t.retryGen++
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
	t.nextRetryAt = nil
}

func (t *ConnectionTracker) retryFired(gen uint64) {
	t.mu.Lock()
	if gen != t.retryGen || t.closed || t.loggedOut {
		t.mu.Unlock()
		return
	}
	t.retry = nil
	t.nextRetryAt = nil
	attempt := t.attempts
	t.mu.Unlock()

	log.Info().Int("attempt", attempt).Msg("retrying collaborator connect")
	_ = t.Start(context.Background())
}

func (t *ConnectionTracker) setStateLocked(state model.ConnectionState) {
	if t.state == state {
		return
	}
	t.state = state
	t.stateChanged = t.clock.Now()
}

func (t *ConnectionTracker) statusLocked() model.ConnectionStatus {
	return model.ConnectionStatus{
		State:        t.state,
		QRAvailable:  t.qr != "",
		QRIssuedAt:   t.qrIssuedAt,
		AccountID:    t.accountID,
		LastError:    t.lastError,
		Attempts:     t.attempts,
		NextRetryAt:  t.nextRetryAt,
		StateChanged: t.stateChanged,
	}
}

func (t *ConnectionTracker) publish(ctx context.Context, status model.ConnectionStatus) {
	notify(ctx, t.notifier, sse.TopicConnection, EventConnectionState, status)
}

// backoff doubles base for each attempt after the first, capped at max.
func backoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
