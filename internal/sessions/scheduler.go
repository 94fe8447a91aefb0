package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"introskip/internal/models"
)

// Source queries the media server for the current snapshot of a session.
type Source interface {
	// Session returns the session identified by key, queried fresh from the
	// server. The error wraps models.ErrNotFound when the server no longer
	// reports the session.
	Session(ctx context.Context, key string) (models.Session, error)
}

// Extrapolator decides whether a dispatched session should be speculatively
// re-dispatched, and produces the predicted snapshot.
type Extrapolator interface {
	// ShouldExtrapolate is called after every dispatch with the listener's
	// accept decision for that dispatch.
	ShouldExtrapolate(s models.Session, accepted bool) bool
	// Extrapolate returns the predicted snapshot and the delay after which
	// to dispatch it. Called iff ShouldExtrapolate returned true. The
	// prediction keeps the session key.
	Extrapolate(s models.Session) (models.Session, time.Duration)
}

// Scheduler turns sparse server notifications into a steady dispatch stream.
// Real notifications are resolved against the Source and dispatched; between
// them, one-shot timers re-dispatch predicted snapshots so the skip decision
// point keeps advancing. A real notification for a key always cancels that
// key's pending prediction before dispatching, so stale predictions never
// outrun fresh data.
//
// A single mutex guards the dispatcher (and the listener state behind it)
// and the timer table, because timer callbacks run on their own goroutines
// concurrently with notification delivery.
type Scheduler struct {
	source     Source
	dispatcher *Dispatcher
	ex         Extrapolator

	mu sync.Mutex
	// Invariant: an entry exists iff its timer is alive (armed and neither
	// cancelled nor done executing). At most one pending timer per key.
	timers map[string]*time.Timer
}

func NewScheduler(source Source, dispatcher *Dispatcher, ex Extrapolator) *Scheduler {
	return &Scheduler{
		source:     source,
		dispatcher: dispatcher,
		ex:         ex,
		timers:     make(map[string]*time.Timer),
	}
}

// HandleNotification processes one playback notification. A returned error
// means this notification could not be handled; the caller logs it and keeps
// consuming.
func (sc *Scheduler) HandleNotification(ctx context.Context, n models.PlaybackNotification) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	key := n.SessionKey
	slog.Debug("incoming notification", "session", key, "state", n.State)

	// Real data supersedes any pending prediction for this key.
	sc.cancelTimer(key)

	if n.State == models.SessionStateStopped {
		// The HTTP API no longer reports the session, so just dispatch the
		// removal.
		sc.dispatcher.DispatchRemoval(key)
		return nil
	}

	sess, err := sc.source.Session(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			switch n.State {
			case models.SessionStatePaused:
				// The server sometimes pushes a paused session it no longer
				// reports over HTTP. Playback resuming will notify again.
				slog.Debug("no session found for paused notification", "session", key)
				return nil
			case models.SessionStateBuffering:
				// Seen with clients that buffer heavily at session start:
				// the HTTP API lags until the first playing notification.
				slog.Warn("no session found for buffering notification", "session", key)
				return nil
			}
		}
		return fmt.Errorf("resolving session %s: %w", key, err)
	}

	sc.dispatchAndReschedule(sess)
	return nil
}

// Stop cancels every pending prediction timer.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for key, t := range sc.timers {
		t.Stop()
		delete(sc.timers, key)
	}
}

// Sessions returns a snapshot of every tracked session for the status API.
// The Skipped flag is left for the caller to fill in.
func (sc *Scheduler) Sessions() []models.SessionStatus {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]models.SessionStatus, 0, len(sc.dispatcher.tracked))
	for key, ts := range sc.dispatcher.tracked {
		_, pending := sc.timers[key]
		out = append(out, models.SessionStatus{
			Session:       ts.session,
			LastSeen:      ts.lastSeen,
			Extrapolating: pending,
		})
	}
	return out
}

// cancelTimer stops and forgets the pending timer for key, if any. Stop is
// best-effort: a callback that has already fired is caught by its identity
// check instead.
func (sc *Scheduler) cancelTimer(key string) {
	if t, ok := sc.timers[key]; ok {
		t.Stop()
		delete(sc.timers, key)
		slog.Debug("cancelled prediction timer", "session", key)
	}
}

// dispatchAndReschedule dispatches a snapshot and, when the extrapolator
// asks for it, arms the next prediction timer. Caller must hold sc.mu.
func (sc *Scheduler) dispatchAndReschedule(sess models.Session) {
	accepted := sc.dispatcher.Dispatch(sess)

	// Whether this call came from a timer or from a real notification, no
	// timer may stay registered under this key now.
	delete(sc.timers, sess.Key)

	if !sc.ex.ShouldExtrapolate(sess, accepted) {
		slog.Debug("not extrapolating session", "session", sess.Key, "offset_ms", sess.ViewOffsetMs)
		return
	}

	next, delay := sc.ex.Extrapolate(sess)
	if _, exists := sc.timers[next.Key]; exists {
		panic(fmt.Sprintf("sessions: timer already armed for session %s", next.Key))
	}
	sc.armTimer(next, delay)
}

// armTimer schedules a predicted snapshot for dispatch after delay. Caller
// must hold sc.mu.
func (sc *Scheduler) armTimer(next models.Session, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		sc.mu.Lock()
		defer sc.mu.Unlock()
		// A notification (or a newer prediction) may have superseded this
		// timer between firing and acquiring the lock. Stop cannot un-run a
		// callback that already started, so verify identity before acting.
		if sc.timers[next.Key] != t {
			slog.Debug("dropping stale prediction", "session", next.Key)
			return
		}
		delete(sc.timers, next.Key)
		sc.dispatchAndReschedule(next)
	})
	sc.timers[next.Key] = t
	slog.Debug("armed prediction timer",
		"session", next.Key, "delay", delay, "offset_ms", next.ViewOffsetMs)
}
