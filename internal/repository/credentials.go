package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// CredentialStore persists the opaque credential blob the collaborator hands
// back after a successful link. Load returns nil when nothing is stored.
type CredentialStore interface {
	Load(ctx context.Context) (json.RawMessage, error)
	Save(ctx context.Context, creds json.RawMessage) error
	Clear(ctx context.Context) error
}

type credentialRow struct {
	Key         string `db:"key"`
	Credentials []byte `db:"credentials"`
}

type postgresCredentialStore struct {
	db  *sqlx.DB
	key string
}

func NewPostgresCredentialStore(db *sqlx.DB, key string) CredentialStore {
	return &postgresCredentialStore{db: db, key: key}
}

func (s *postgresCredentialStore) Load(ctx context.Context) (json.RawMessage, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key, credentials FROM link_credentials WHERE key = $1
	`, s.key)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return json.RawMessage(found.Credentials), nil
}

func (s *postgresCredentialStore) Save(ctx context.Context, creds json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO link_credentials (key, credentials, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET credentials = EXCLUDED.credentials, updated_at = NOW()
	`, s.key, []byte(creds))
	return err
}

func (s *postgresCredentialStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM link_credentials WHERE key = $1`, s.key)
	return err
}

type redisCredentialStore struct {
	client *redis.Client
	key    string
}

func NewRedisCredentialStore(client *redis.Client, key string) CredentialStore {
	return &redisCredentialStore{client: client, key: key}
}

func (s *redisCredentialStore) Load(ctx context.Context) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *redisCredentialStore) Save(ctx context.Context, creds json.RawMessage) error {
	return s.client.Set(ctx, s.key, []byte(creds), 0).Err()
}

func (s *redisCredentialStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

type memoryCredentialStore struct {
	mu    sync.Mutex
	creds json.RawMessage
}

// NewMemoryCredentialStore keeps credentials in process memory only.
func NewMemoryCredentialStore() CredentialStore {
	return &memoryCredentialStore{}
}

func (s *memoryCredentialStore) Load(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	return append(json.RawMessage(nil), s.creds...), nil
}

func (s *memoryCredentialStore) Save(ctx context.Context, creds json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(json.RawMessage(nil), creds...)
	return nil
}

func (s *memoryCredentialStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
