// Package sessions tracks live playback sessions and keeps them fresh
// between server notifications by re-dispatching extrapolated snapshots on
// one-shot timers.
package sessions

import (
	"log"
	"time"

	"introskip/internal/models"
)

// Listener receives session lifecycle callbacks from a Dispatcher.
type Listener interface {
	// Accept reports whether the listener wants an activity callback for
	// this snapshot. It must not have side effects.
	Accept(s models.Session) bool
	// OnActivity is called iff Accept returned true for this dispatch.
	OnActivity(s models.Session)
	// OnRemoval is called when a session leaves the system, with the last
	// snapshot seen for it.
	OnRemoval(s models.Session)
}

// DefaultRemovalTimeout is twice the ~10s interval at which the server
// re-announces steady-state sessions, so a single missed announcement does
// not evict a live session.
const DefaultRemovalTimeout = 20 * time.Second

type trackedSession struct {
	session  models.Session
	lastSeen time.Time
}

// Dispatcher fans session activity out to a Listener and tracks which
// sessions are alive. A session that stops being dispatched for longer than
// the removal timeout is swept on the next dispatch, so a player that died
// without ever sending a stop notification still gets its removal callback.
//
// Dispatcher is not safe for concurrent use by itself; the Scheduler
// serializes all calls under its lock.
type Dispatcher struct {
	listener       Listener
	removalTimeout time.Duration
	tracked        map[string]trackedSession
}

func NewDispatcher(listener Listener, removalTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		listener:       listener,
		removalTimeout: removalTimeout,
		tracked:        make(map[string]trackedSession),
	}
}

// Dispatch offers a session snapshot to the listener, refreshes its
// last-seen time and sweeps expired sessions. Returns the listener's accept
// decision.
func (d *Dispatcher) Dispatch(s models.Session) bool {
	if _, seen := d.tracked[s.Key]; !seen && s.IsEpisode() {
		_, hasIntro := s.IntroMarker()
		log.Printf("New session %s: %s is playing %s (intro marker: %v)",
			s.Key, s.Player.Title, sessionTitle(s), hasIntro)
	}

	accepted := false
	if d.listener.Accept(s) {
		accepted = true
		d.listener.OnActivity(s)
	}

	now := time.Now()
	d.tracked[s.Key] = trackedSession{session: s, lastSeen: now}

	// Sweep sessions not dispatched within the timeout, in case a stop
	// notification never arrived. The cutoff comparison is inclusive, so a
	// zero timeout removes even the session upserted just above.
	cutoff := now.Add(-d.removalTimeout)
	for key, ts := range d.tracked {
		if !ts.lastSeen.After(cutoff) {
			d.remove(key)
		}
	}

	return accepted
}

// DispatchRemoval removes a session by key, firing the removal callback with
// the last snapshot seen for it. Returns false when the key was not tracked;
// stop notifications routinely arrive for sessions that were never
// dispatched, so that is not an error.
func (d *Dispatcher) DispatchRemoval(key string) bool {
	if _, ok := d.tracked[key]; !ok {
		return false
	}
	d.remove(key)
	return true
}

func (d *Dispatcher) remove(key string) {
	ts, ok := d.tracked[key]
	if !ok {
		return
	}
	if ts.session.IsEpisode() {
		log.Printf("Session %s ended: %s stopped playing %s",
			key, ts.session.Player.Title, sessionTitle(ts.session))
	}
	d.listener.OnRemoval(ts.session)
	delete(d.tracked, key)
}

func sessionTitle(s models.Session) string {
	if s.GrandparentTitle != "" {
		return s.GrandparentTitle + ": " + s.Title
	}
	return s.Title
}
