package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-gateway-go/internal/audit"
	"github.com/openclaw/pairing-gateway-go/internal/clock"
	"github.com/openclaw/pairing-gateway-go/internal/config"
	apperrors "github.com/openclaw/pairing-gateway-go/internal/errors"
	"github.com/openclaw/pairing-gateway-go/internal/jobs"
	"github.com/openclaw/pairing-gateway-go/internal/model"
	"github.com/openclaw/pairing-gateway-go/internal/repository"
	"github.com/openclaw/pairing-gateway-go/internal/sse"
	"github.com/openclaw/pairing-gateway-go/internal/util"
)

// ConnectionView is the part of the connection tracker the API reads.
type ConnectionView interface {
	State() model.ConnectionState
	QR() (string, bool)
	Status() model.ConnectionStatus
	Restart(ctx context.Context) error
}

type PairingConfig struct {
	CodeTTL   time.Duration
	Retention string
}

type CodeResult struct {
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type QRResult struct {
	QRImage   string    `json:"qrImage,omitempty"`
	Code      string    `json:"code"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type StatusResult struct {
	ConnectionState   model.ConnectionState   `json:"connectionState"`
	LiveSessionCount  int                     `json:"liveSessionCount"`
	QRAvailable       bool                    `json:"qrAvailable"`
	AccountID         string                  `json:"accountId,omitempty"`
	LastError         string                  `json:"lastError,omitempty"`
	ReconnectAttempts int                     `json:"reconnectAttempts"`
	NextRetryAt       *time.Time              `json:"nextRetryAt,omitempty"`
	Sessions          repository.SessionStats `json:"sessions"`
	ScheduledExpiries int                     `json:"scheduledExpiries"`
}

type PairingService struct {
	store      repository.SessionStore
	connection ConnectionView
	qr         *QRRenderer
	archive    repository.SessionArchive
	notifier   Notifier
	clock      clock.Clock
	cfg        PairingConfig
	expiry     *jobs.ExpiryScheduler
}

// NewPairingService wires the API over store. archive may be nil unless
// cfg.Retention is archive.
func NewPairingService(
	store repository.SessionStore,
	connection ConnectionView,
	qr *QRRenderer,
	archive repository.SessionArchive,
	notifier Notifier,
	clk clock.Clock,
	cfg PairingConfig,
) *PairingService {
	s := &PairingService{
		store:      store,
		connection: connection,
		qr:         qr,
		archive:    archive,
		notifier:   notifierOrNop(notifier),
		clock:      clk,
		cfg:        cfg,
	}
	s.expiry = jobs.NewExpiryScheduler(clk, s.expireCode)
	return s
}

func (s *PairingService) RequestCode(ctx context.Context, phoneNumber string) (*CodeResult, error) {
	phone := util.NormalizePhone(phoneNumber)
	if err := util.ValidatePhone(phone); err != nil {
		return nil, invalidPhone()
	}

	if state := s.connection.State(); !state.CanIssueCodes() {
		return nil, apperrors.NotReady(string(state))
	}

	session, err := s.issue(ctx, phone, audit.EventCodeIssued)
	if err != nil {
		return nil, err
	}
	return &CodeResult{
		Code:      session.Code,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// RequestQR issues a session alongside the current QR image. Without an
// outstanding QR it only succeeds while the link is online.
func (s *PairingService) RequestQR(ctx context.Context, phoneNumber string) (*QRResult, error) {
	phone := util.NormalizePhone(phoneNumber)
	if phone != "" {
		if err := util.ValidatePhone(phone); err != nil {
			return nil, invalidPhone()
		}
	}

	state := s.connection.State()
	payload, hasQR := s.connection.QR()
	if !hasQR && state != model.ConnectionStateOnline {
		return nil, apperrors.NotReady(string(state))
	}

	var image string
	if hasQR {
		var err error
		image, err = s.qr.DataURL(payload)
		if err != nil {
			return nil, apperrors.Internal("Failed to render QR code").WithCause(err)
		}
	}

	session, err := s.issue(ctx, phone, audit.EventQRIssued)
	if err != nil {
		return nil, err
	}
	return &QRResult{
		QRImage:   image,
		Code:      session.Code,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *PairingService) GetStatus(ctx context.Context) StatusResult {
	status := s.connection.Status()
	return StatusResult{
		ConnectionState:   status.State,
		LiveSessionCount:  s.store.LiveCount(),
		QRAvailable:       status.QRAvailable,
		AccountID:         status.AccountID,
		LastError:         status.LastError,
		ReconnectAttempts: status.Attempts,
		NextRetryAt:       status.NextRetryAt,
		Sessions:          s.store.Stats(),
		ScheduledExpiries: s.expiry.Len(),
	}
}

// GetSession looks in the live store first, then in the archive for the
// most recent session that held code.
func (s *PairingService) GetSession(ctx context.Context, code string) (*model.PairingSession, error) {
	code = util.NormalizeCode(code)
	if session := s.store.FindByCode(code); session != nil {
		return session, nil
	}
	if s.cfg.Retention != config.RetentionArchive || s.archive == nil {
		return nil, apperrors.NotFound("Pairing session")
	}

	archived, err := s.archive.FindByCode(ctx, code)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(archived) == 0 {
		return nil, apperrors.NotFound("Pairing session")
	}
	return &archived[0], nil
}

func (s *PairingService) MarkLinkedByCode(ctx context.Context, code, linkedTo string) (*model.PairingSession, error) {
	session, err := s.store.MarkLinked(util.NormalizeCode(code), linkedTo)
	if err != nil {
		return nil, sessionError(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionLinked,
		Code:      session.Code,
		SessionID: session.SessionID,
		AccountID: linkedTo,
		Details:   map[string]interface{}{"source": "api"},
	})
	notify(ctx, s.notifier, sse.SessionTopic(session.Code), EventSessionLinked, session)
	return session, nil
}

func (s *PairingService) MarkUsedByCode(ctx context.Context, code, usedBy string) (*model.PairingSession, error) {
	session, err := s.store.MarkUsed(util.NormalizeCode(code), usedBy)
	if err != nil {
		return nil, sessionError(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionUsed,
		Code:      session.Code,
		SessionID: session.SessionID,
		Details:   map[string]interface{}{"usedBy": usedBy},
	})
	notify(ctx, s.notifier, sse.SessionTopic(session.Code), EventSessionUsed, session)
	return session, nil
}

// RestartConnection re-initializes the device link. Collaborator failures
// are reflected in the returned status, not as an error.
func (s *PairingService) RestartConnection(ctx context.Context) StatusResult {
	audit.Log(ctx, audit.Event{Type: audit.EventConnectionReset})
	if err := s.connection.Restart(ctx); err != nil {
		log.Warn().Err(err).Msg("connection restart did not reach the collaborator")
	}
	return s.GetStatus(ctx)
}

// Sweep removes expired and retention-elapsed sessions and returns how many
// were removed.
func (s *PairingService) Sweep(ctx context.Context) (int64, error) {
	removed := s.store.Sweep(s.clock.Now())
	if len(removed) == 0 {
		return 0, nil
	}

	for i := range removed {
		if removed[i].Status == model.SessionStatusExpired {
			s.announceExpired(ctx, &removed[i])
		}
	}

	if err := s.archiveSessions(ctx, removed); err != nil {
		return int64(len(removed)), err
	}
	return int64(len(removed)), nil
}

func (s *PairingService) Close() {
	s.expiry.Stop()
}

func (s *PairingService) issue(ctx context.Context, phone string, eventType audit.EventType) (*model.PairingSession, error) {
	session, err := s.store.Create(model.CreatePairingSessionParams{
		PhoneNumber: phone,
		TTL:         s.cfg.CodeTTL,
	})
	if err != nil {
		return nil, apperrors.Internal("Failed to issue pairing code").WithCause(err)
	}
	s.expiry.Schedule(session.Code, session.ExpiresAt)

	audit.Log(ctx, audit.Event{
		Type:      eventType,
		Code:      session.Code,
		SessionID: session.SessionID,
	})
	log.Info().
		Str("code", util.MaskCode(session.Code)).
		Str("sessionId", session.SessionID).
		Time("expiresAt", session.ExpiresAt).
		Msg("pairing session created")

	return session, nil
}

func (s *PairingService) expireCode(code string) {
	session, ok := s.store.Expire(code)
	if !ok {
		return
	}

	ctx := context.Background()
	s.announceExpired(ctx, session)
	if err := s.archiveSessions(ctx, []model.PairingSession{*session}); err != nil {
		log.Error().Err(err).Str("sessionId", session.SessionID).Msg("failed to archive expired session")
	}
}

func (s *PairingService) announceExpired(ctx context.Context, session *model.PairingSession) {
	audit.Log(ctx, audit.Event{
		Type:      audit.EventSessionExpired,
		Code:      session.Code,
		SessionID: session.SessionID,
	})
	notify(ctx, s.notifier, sse.SessionTopic(session.Code), EventSessionExpired, session)
}

func (s *PairingService) archiveSessions(ctx context.Context, sessions []model.PairingSession) error {
	if s.cfg.Retention != config.RetentionArchive || s.archive == nil {
		return nil
	}
	if _, err := s.archive.Archive(ctx, sessions); err != nil {
		return fmt.Errorf("archive %d sessions: %w", len(sessions), err)
	}
	return nil
}

func invalidPhone() error {
	return apperrors.InvalidInput("phoneNumber", fmt.Sprintf("must contain %d to %d digits", util.MinPhoneDigits, util.MaxPhoneDigits))
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		return apperrors.NotFound("Pairing session")
	case errors.Is(err, repository.ErrSessionNotPending):
		return apperrors.Conflict("Pairing session is no longer pending")
	default:
		return apperrors.Internal("Failed to update pairing session").WithCause(err)
	}
}
