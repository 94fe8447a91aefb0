// Package skipper implements the automatic intro skipping policy.
package skipper

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"introskip/internal/models"
	"introskip/internal/seek"
)

// extrapolationDelay is how far ahead each predicted snapshot advances. One
// second keeps the skip decision within about a second of real time between
// server notifications.
const extrapolationDelay = time.Second

const (
	resolveTimeout = 10 * time.Second
	// Plex clients have been seen taking >15s to honor a seek command.
	seekTimeout = 30 * time.Second
)

// AutoSkipper watches dispatched sessions and seeks players past intro
// markers. It implements both sessions.Listener and sessions.Extrapolator.
//
// Each session is skipped at most once while it lives; that memory is
// dropped on removal, so a replayed episode gets skipped again.
type AutoSkipper struct {
	targets seek.Provider

	mu      sync.RWMutex
	skipped map[string]struct{}
	skips   int

	seeks sync.WaitGroup
}

func New(targets seek.Provider) *AutoSkipper {
	return &AutoSkipper{
		targets: targets,
		skipped: make(map[string]struct{}),
	}
}

// Accept reports whether the session is a skip candidate: an episode with an
// intro marker, currently playing, not already skipped.
func (a *AutoSkipper) Accept(s models.Session) bool {
	if !s.IsEpisode() {
		// Only episodes carry intro markers.
		slog.Debug("ignored: not an episode", "session", s.Key, "media_type", s.MediaType)
		return false
	}
	if a.Skipped(s.Key) {
		slog.Debug("ignored: already skipped this session", "session", s.Key)
		return false
	}
	if s.State != models.SessionStatePlaying {
		slog.Debug("ignored: not playing", "session", s.Key, "state", s.State)
		return false
	}
	if _, ok := s.IntroMarker(); !ok {
		slog.Debug("ignored: no intro marker", "session", s.Key)
		return false
	}
	return true
}

// OnActivity skips the intro when the session is inside its intro window.
// The seek target is resolved synchronously; the seek command itself is
// fired on its own goroutine and its outcome is advisory.
func (a *AutoSkipper) OnActivity(s models.Session) {
	marker, ok := s.IntroMarker()
	if !ok {
		return
	}
	if !marker.Contains(s.ViewOffsetMs) {
		slog.Debug("not viewing intro", "session", s.Key,
			"offset_ms", s.ViewOffsetMs, "intro_start", marker.StartMs, "intro_end", marker.EndMs)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	target, err := a.targets.Target(ctx, s)
	if err != nil {
		if errors.Is(err, seek.ErrPlayerNotAdvertised) {
			log.Printf("Player for session %s not found; ensure \"advertise as player\" is enabled", s.Key)
		}
		log.Printf("Cannot skip intro for session %s: %v", s.Key, err)
		return
	}

	// Mark before firing so repeat activity for this session cannot
	// double-skip while the command is in flight.
	a.markSkipped(s.Key)

	from := s.ViewOffsetMs
	a.seeks.Add(1)
	go func() {
		defer a.seeks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), seekTimeout)
		defer cancel()
		if err := target.Seek(ctx, marker.EndMs); err != nil {
			log.Printf("Seek failed for session %s: %v", s.Key, err)
			return
		}
		log.Printf("Session %s: skipped intro (seeked from %d to %d)", s.Key, from, marker.EndMs)
	}()
}

// OnRemoval forgets the session's skip so a later replay is skipped again.
func (a *AutoSkipper) OnRemoval(s models.Session) {
	a.mu.Lock()
	delete(a.skipped, s.Key)
	a.mu.Unlock()
}

// ShouldExtrapolate reports whether predicting ahead is worth it. Only
// accepted (hence playing) sessions still heading toward an unskipped intro
// qualify: paused and buffering sessions announce themselves again as soon
// as their state changes.
func (a *AutoSkipper) ShouldExtrapolate(s models.Session, accepted bool) bool {
	if !accepted {
		return false
	}
	marker, ok := s.IntroMarker()
	if !ok {
		return false
	}
	if s.ViewOffsetMs >= marker.EndMs {
		// Already past the intro; nothing left to predict toward.
		return false
	}
	return !a.Skipped(s.Key)
}

// Extrapolate advances the view offset by one tick, keeping the session key.
func (a *AutoSkipper) Extrapolate(s models.Session) (models.Session, time.Duration) {
	return s.WithViewOffset(s.ViewOffsetMs + extrapolationDelay.Milliseconds()), extrapolationDelay
}

// Skipped reports whether the session had its intro skipped already.
func (a *AutoSkipper) Skipped(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.skipped[key]
	return ok
}

// SkipCount returns the number of skips issued since startup.
func (a *AutoSkipper) SkipCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.skips
}

func (a *AutoSkipper) markSkipped(key string) {
	a.mu.Lock()
	a.skipped[key] = struct{}{}
	a.skips++
	a.mu.Unlock()
}

// Wait blocks until in-flight seek commands have finished.
func (a *AutoSkipper) Wait() {
	a.seeks.Wait()
}
