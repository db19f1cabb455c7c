package repository

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
	"github.com/openclaw/pairing-gateway-go/internal/config"
	"github.com/openclaw/pairing-gateway-go/internal/model"
)

var (
	ErrSessionNotFound   = errors.New("pairing session not found")
	ErrSessionNotPending = errors.New("pairing session is no longer pending")
)

// CodeSource produces a code for which taken reports false.
type CodeSource interface {
	Generate(taken func(code string) bool) (string, error)
}

// RetentionPolicy controls how long linked and used sessions stay in the
// store once they leave pending.
type RetentionPolicy struct {
	Mode   string
	Window time.Duration
}

func (p RetentionPolicy) keepsTerminal(closedAt, now time.Time) bool {
	if p.Mode != config.RetentionRetain {
		return false
	}
	return now.Before(closedAt.Add(p.Window))
}

type SessionStats struct {
	Pending int `json:"pending"`
	Linked  int `json:"linked"`
	Used    int `json:"used"`
}

type SessionStore interface {
	Create(params model.CreatePairingSessionParams) (*model.PairingSession, error)
	FindByCode(code string) *model.PairingSession
	MarkLinked(code string, linkedTo string) (*model.PairingSession, error)
	MarkUsed(code string, usedBy string) (*model.PairingSession, error)
	BulkMarkLinked(linkedTo string) []model.PairingSession
	Expire(code string) (*model.PairingSession, bool)
	Sweep(now time.Time) []model.PairingSession
	LiveCount() int
	Stats() SessionStats
}

// memorySessionStore keeps every session in one map behind one mutex, so
// all operations on a code are serialized, including timer-driven expiry.
type memorySessionStore struct {
	codes     CodeSource
	clock     clock.Clock
	retention RetentionPolicy

	mu       sync.Mutex
	sessions map[string]*model.PairingSession
}

func NewMemorySessionStore(codes CodeSource, clk clock.Clock, retention RetentionPolicy) SessionStore {
	return &memorySessionStore{
		codes:     codes,
		clock:     clk,
		retention: retention,
		sessions:  make(map[string]*model.PairingSession),
	}
}

func (s *memorySessionStore) Create(params model.CreatePairingSessionParams) (*model.PairingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A retained or not yet swept record still owns its code.
	code, err := s.codes.Generate(func(code string) bool {
		_, ok := s.sessions[code]
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	now := s.clock.Now()
	session := &model.PairingSession{
		Code:        code,
		PhoneNumber: params.PhoneNumber,
		SessionID:   uuid.NewString(),
		Status:      model.SessionStatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(params.TTL),
	}
	s.sessions[code] = session

	out := *session
	return &out, nil
}

func (s *memorySessionStore) FindByCode(code string) *model.PairingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[code]
	if !ok || session.IsExpiredAt(s.clock.Now()) {
		return nil
	}
	out := *session
	return &out
}

func (s *memorySessionStore) MarkLinked(code string, linkedTo string) (*model.PairingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.pendingLocked(code)
	if err != nil {
		return nil, err
	}
	s.linkLocked(session, linkedTo, s.clock.Now())

	out := *session
	return &out, nil
}

func (s *memorySessionStore) MarkUsed(code string, usedBy string) (*model.PairingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.pendingLocked(code)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	session.Status = model.SessionStatusUsed
	session.LinkedTo = optionalString(usedBy)
	session.ClosedAt = &now

	out := *session
	return &out, nil
}

func (s *memorySessionStore) BulkMarkLinked(linkedTo string) []model.PairingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var linked []model.PairingSession
	for _, session := range s.sessions {
		if session.Status != model.SessionStatusPending || session.IsExpiredAt(now) {
			continue
		}
		s.linkLocked(session, linkedTo, now)
		linked = append(linked, *session)
	}
	return linked
}

// Expire removes the session only if it is still pending and its TTL has
// elapsed. A late timer for a session that was linked, or for an older
// session whose code has since been reissued, is a no-op.
func (s *memorySessionStore) Expire(code string) (*model.PairingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[code]
	if !ok {
		return nil, false
	}
	now := s.clock.Now()
	if !session.IsExpiredAt(now) {
		return nil, false
	}
	delete(s.sessions, code)

	out := expiredCopy(session, now)
	return &out, true
}

func (s *memorySessionStore) Sweep(now time.Time) []model.PairingSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []model.PairingSession
	for code, session := range s.sessions {
		switch {
		case session.IsExpiredAt(now):
			removed = append(removed, expiredCopy(session, now))
			delete(s.sessions, code)
		case session.Status.IsTerminal() && !s.retention.keepsTerminal(*session.ClosedAt, now):
			removed = append(removed, *session)
			delete(s.sessions, code)
		}
	}
	return removed
}

func (s *memorySessionStore) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	count := 0
	for _, session := range s.sessions {
		if session.IsLive() && !session.IsExpiredAt(now) {
			count++
		}
	}
	return count
}

func (s *memorySessionStore) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SessionStats
	for _, session := range s.sessions {
		switch session.Status {
		case model.SessionStatusPending:
			stats.Pending++
		case model.SessionStatusLinked:
			stats.Linked++
		case model.SessionStatusUsed:
			stats.Used++
		}
	}
	return stats
}

func (s *memorySessionStore) pendingLocked(code string) (*model.PairingSession, error) {
	session, ok := s.sessions[code]
	if !ok || session.IsExpiredAt(s.clock.Now()) {
		return nil, ErrSessionNotFound
	}
	if session.Status != model.SessionStatusPending {
		return nil, ErrSessionNotPending
	}
	return session, nil
}

func (s *memorySessionStore) linkLocked(session *model.PairingSession, linkedTo string, now time.Time) {
	session.Status = model.SessionStatusLinked
	session.LinkedAt = &now
	session.LinkedTo = optionalString(linkedTo)
	session.ClosedAt = &now
}

func expiredCopy(session *model.PairingSession, now time.Time) model.PairingSession {
	out := *session
	out.Status = model.SessionStatusExpired
	out.ClosedAt = &now
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
