package store

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const (
	appIDKey = "app.id"
	saltKey  = "crypto.salt"
)

// AppID returns this installation's stable client identifier, generating
// and persisting one on first call. Plex ties PINs, tokens, and companion
// commands to it, so it must never change once issued.
func (s *Store) AppID() (string, error) {
	id, err := s.GetSetting(appIDKey)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := s.SetSetting(appIDKey, id); err != nil {
		return "", err
	}
	return id, nil
}

// encryptionSalt returns the key-derivation salt, generating and persisting
// one on first use. Stable across restarts so the same passphrase always
// derives the same key.
func (s *Store) encryptionSalt() ([]byte, error) {
	stored, err := s.GetSetting(saltKey)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		salt, err := base64.StdEncoding.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("decoding stored salt: %w", err)
		}
		return salt, nil
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	if err := s.SetSetting(saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, err
	}
	return salt, nil
}
