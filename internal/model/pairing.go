package model

import "time"

type PairingSession struct {
	Code        string        `db:"code" json:"code"`
	PhoneNumber string        `db:"phone_number" json:"phoneNumber,omitempty"`
	SessionID   string        `db:"session_id" json:"sessionId"`
	Status      SessionStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expiresAt"`
	LinkedAt    *time.Time    `db:"linked_at" json:"linkedAt,omitempty"`
	LinkedTo    *string       `db:"linked_to" json:"linkedTo,omitempty"`
	ClosedAt    *time.Time    `db:"closed_at" json:"closedAt,omitempty"`
}

// IsLive reports whether the session still occupies its code.
func (s *PairingSession) IsLive() bool {
	return s.Status == SessionStatusPending || s.Status == SessionStatusLinked
}

// IsExpiredAt reports whether a pending session's TTL has elapsed at now.
func (s *PairingSession) IsExpiredAt(now time.Time) bool {
	return s.Status == SessionStatusPending && !now.Before(s.ExpiresAt)
}

type CreatePairingSessionParams struct {
	PhoneNumber string
	TTL         time.Duration
}
