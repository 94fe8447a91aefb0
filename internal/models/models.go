package models

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeTrack   MediaType = "track"
	MediaTypeClip    MediaType = "clip"
)

type SessionState string

const (
	SessionStatePlaying   SessionState = "playing"
	SessionStatePaused    SessionState = "paused"
	SessionStateStopped   SessionState = "stopped"
	SessionStateBuffering SessionState = "buffering"
)

func (s SessionState) Valid() bool {
	switch s {
	case SessionStatePlaying, SessionStatePaused, SessionStateStopped, SessionStateBuffering:
		return true
	}
	return false
}

// MarkerTypeIntro is the marker type Plex assigns to skippable intros.
const MarkerTypeIntro = "intro"

// Marker is a timed annotation on a media item, such as an intro or credits
// window. The window is half-open: an offset equal to EndMs is already past it.
type Marker struct {
	Type    string `json:"type"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Contains reports whether offsetMs falls inside the marker window.
func (m Marker) Contains(offsetMs int64) bool {
	return m.StartMs <= offsetMs && offsetMs < m.EndMs
}

// Player is the device a session is playing on.
type Player struct {
	Title     string `json:"title"`
	Product   string `json:"product"`
	MachineID string `json:"machine_id"`
	Address   string `json:"address,omitempty"`
}

// Session is an immutable snapshot of one playback session. Identity is the
// session key: every table in the system is keyed by Key, and two snapshots
// with the same key describe the same logical session no matter how their
// offsets or states differ.
type Session struct {
	Key              string       `json:"key"`
	State            SessionState `json:"state"`
	MediaType        MediaType    `json:"media_type"`
	RatingKey        string       `json:"rating_key"`
	Title            string       `json:"title"`
	GrandparentTitle string       `json:"grandparent_title,omitempty"`
	UserName         string       `json:"user_name,omitempty"`
	ViewOffsetMs     int64        `json:"view_offset_ms"`
	DurationMs       int64        `json:"duration_ms,omitempty"`
	Player           Player       `json:"player"`
	Markers          []Marker     `json:"markers,omitempty"`
}

// IsEpisode reports whether the session is playing a TV episode.
func (s Session) IsEpisode() bool {
	return s.MediaType == MediaTypeEpisode
}

// IntroMarker returns the first intro marker on the playing item.
func (s Session) IntroMarker() (Marker, bool) {
	for _, m := range s.Markers {
		if m.Type == MarkerTypeIntro {
			return m, true
		}
	}
	return Marker{}, false
}

// WithViewOffset returns a copy of the session with its view offset replaced.
func (s Session) WithViewOffset(ms int64) Session {
	s.ViewOffsetMs = ms
	return s
}

// PlaybackNotification is one playback state push from the media server.
// SessionKey is opaque; servers have been seen emitting non-numeric values,
// so it is never parsed as a number.
type PlaybackNotification struct {
	SessionKey   string
	RatingKey    string
	State        SessionState
	ViewOffsetMs int64
}

// Client is a controllable player advertised in the server's client
// registry.
type Client struct {
	Name      string `json:"name"`
	Product   string `json:"product"`
	MachineID string `json:"machine_id"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
}

// Server holds the connection details for one Plex Media Server.
type Server struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Token     string `json:"-"`
	MachineID string `json:"machine_id,omitempty"`
	// ClientID is sent as X-Plex-Client-Identifier on every request.
	ClientID string `json:"-"`
}

// SessionStatus describes one tracked session for the status API.
type SessionStatus struct {
	Session
	LastSeen      time.Time `json:"last_seen"`
	Skipped       bool      `json:"skipped"`
	Extrapolating bool      `json:"extrapolating"`
}
