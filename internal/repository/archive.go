package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/pairing-gateway-go/internal/model"
)

// SessionArchive records sessions removed from the live store.
type SessionArchive interface {
	Archive(ctx context.Context, sessions []model.PairingSession) (int64, error)
	FindByCode(ctx context.Context, code string) ([]model.PairingSession, error)
}

type sessionArchiveRepo struct {
	db *sqlx.DB
}

func NewSessionArchive(db *sqlx.DB) SessionArchive {
	return &sessionArchiveRepo{db: db}
}

func (r *sessionArchiveRepo) Archive(ctx context.Context, sessions []model.PairingSession) (int64, error) {
	if len(sessions) == 0 {
		return 0, nil
	}
	return affectedRows(r.db.NamedExecContext(ctx, `
		INSERT INTO pairing_session_archive
			(session_id, code, phone_number, status, created_at, expires_at, linked_at, linked_to, closed_at)
		VALUES
			(:session_id, :code, :phone_number, :status, :created_at, :expires_at, :linked_at, :linked_to, :closed_at)
		ON CONFLICT (session_id) DO NOTHING
	`, sessions))
}

func (r *sessionArchiveRepo) FindByCode(ctx context.Context, code string) ([]model.PairingSession, error) {
	var sessions []model.PairingSession
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT session_id, code, phone_number, status, created_at, expires_at, linked_at, linked_to, closed_at
		FROM pairing_session_archive
		WHERE code = $1
		ORDER BY created_at DESC
	`, code)
	return sessions, err
}
