package store

import (
	"fmt"

	"introskip/internal/httputil"
	"introskip/internal/models"
)

const (
	serverNameKey    = "server.name"
	serverURLKey     = "server.url"
	serverMachineKey = "server.machine_id"
)

// SetServer remembers the resolved server so later runs can skip
// discovery. The auth token and client identifier are stored separately
// and stitched back in on read.
func (s *Store) SetServer(srv models.Server) error {
	if err := httputil.ValidateServerURL(srv.URL); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, kv := range []struct{ k, v string }{
		{serverNameKey, srv.Name},
		{serverURLKey, srv.URL},
		{serverMachineKey, srv.MachineID},
	} {
		if _, err := tx.Exec(settingUpsert, kv.k, kv.v); err != nil {
			return fmt.Errorf("setting %q: %w", kv.k, err)
		}
	}
	return tx.Commit()
}

// Server returns the remembered server with the stored auth token and app
// identity filled in. Wraps models.ErrNotFound when none has been saved.
func (s *Store) Server() (models.Server, error) {
	url, err := s.GetSetting(serverURLKey)
	if err != nil {
		return models.Server{}, err
	}
	if url == "" {
		return models.Server{}, fmt.Errorf("saved server: %w", models.ErrNotFound)
	}
	name, err := s.GetSetting(serverNameKey)
	if err != nil {
		return models.Server{}, err
	}
	machineID, err := s.GetSetting(serverMachineKey)
	if err != nil {
		return models.Server{}, err
	}
	token, err := s.AuthToken()
	if err != nil {
		return models.Server{}, err
	}
	clientID, err := s.AppID()
	if err != nil {
		return models.Server{}, err
	}
	return models.Server{
		Name:      name,
		URL:       url,
		Token:     token,
		MachineID: machineID,
		ClientID:  clientID,
	}, nil
}

func (s *Store) DeleteServer() error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key IN (?, ?, ?)`,
		serverNameKey, serverURLKey, serverMachineKey)
	if err != nil {
		return fmt.Errorf("deleting saved server: %w", err)
	}
	return nil
}
