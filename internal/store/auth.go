package store

import (
	"errors"
	"fmt"
	"strings"
)

const authTokenKey = "auth.token"

// sealedPrefix distinguishes sealed values from tokens stored before a
// secret key was configured, so those keep working and upgrade on the next
// write.
const sealedPrefix = "enc:"

// SetAuthToken stores the plex.tv account token, sealed when the store has
// an encryptor.
func (s *Store) SetAuthToken(token string) error {
	value := token
	if s.encryptor != nil {
		sealed, err := s.encryptor.Encrypt(token)
		if err != nil {
			return fmt.Errorf("sealing auth token: %w", err)
		}
		value = sealedPrefix + sealed
	}
	return s.SetSetting(authTokenKey, value)
}

// AuthToken returns the stored account token, or "" when none has been
// saved yet.
func (s *Store) AuthToken() (string, error) {
	value, err := s.GetSetting(authTokenKey)
	if err != nil || value == "" {
		return "", err
	}
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s.encryptor == nil {
		return "", errors.New("auth token is sealed; set SECRET_KEY to read it")
	}
	token, err := s.encryptor.Decrypt(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("unsealing auth token: %w", err)
	}
	return token, nil
}

func (s *Store) DeleteAuthToken() error {
	return s.DeleteSetting(authTokenKey)
}
