// Package store persists the small amount of state that survives restarts:
// the application identity, the plex.tv auth token, and the resolved server.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"introskip/internal/crypto"
)

type Store struct {
	db         *sql.DB
	encryptor  *crypto.Encryptor
	passphrase string
}

type Option func(*Store)

// WithEncryptor seals sensitive values with a ready-made key.
func WithEncryptor(e *crypto.Encryptor) Option {
	return func(s *Store) { s.encryptor = e }
}

// WithPassphrase seals sensitive values with a key derived from the
// passphrase and a salt persisted in the database on first use.
func WithPassphrase(passphrase string) Option {
	return func(s *Store) { s.passphrase = passphrase }
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.passphrase != "" && s.encryptor == nil {
		salt, err := s.encryptionSalt()
		if err != nil {
			db.Close()
			return nil, err
		}
		enc, err := crypto.NewEncryptor(crypto.KeyFromPassphrase(s.passphrase, salt))
		if err != nil {
			db.Close()
			return nil, err
		}
		s.encryptor = enc
	}
	return s, nil
}

// HasEncryptor reports whether the store seals sensitive values at rest.
func (s *Store) HasEncryptor() bool {
	return s.encryptor != nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}
