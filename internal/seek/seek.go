// Package seek resolves a controllable target for a playback session and
// issues absolute seeks to it.
package seek

import (
	"context"
	"errors"
	"fmt"

	"introskip/internal/models"
)

// ErrTargetNotFound reports that no way to control the session's player
// could be found.
var ErrTargetNotFound = errors.New("no controllable player found")

// ErrPlayerNotAdvertised reports that the player is missing from the
// server's client registry. Players only show up there with "advertise as
// player" enabled, so this case gets a dedicated hint upstream.
var ErrPlayerNotAdvertised = fmt.Errorf("player not advertised: %w", ErrTargetNotFound)

// Target is a player that accepts absolute seeks. Some players take more
// than 15 seconds to comply, so callers treat the outcome as advisory.
type Target interface {
	Seek(ctx context.Context, offsetMs int64) error
}

// Provider resolves the Target controlling a session's player.
type Provider interface {
	Target(ctx context.Context, s models.Session) (Target, error)
}

// Chain tries each provider in order and returns the first resolved target.
// When none resolves, the joined per-provider errors are returned so callers
// can still tell which backend failed and why.
type Chain []Provider

func (c Chain) Target(ctx context.Context, s models.Session) (Target, error) {
	var errs []error
	for _, p := range c {
		t, err := p.Target(ctx, s)
		if err == nil {
			return t, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrTargetNotFound
	}
	return nil, errors.Join(errs...)
}
