package plex

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"introskip/internal/models"
)

type plexWSMessage struct {
	NotificationContainer notificationContainer `json:"NotificationContainer"`
}

type notificationContainer struct {
	Type                         string             `json:"type"`
	PlaySessionStateNotification []playSessionState `json:"PlaySessionStateNotification"`
}

type playSessionState struct {
	SessionKey flexString `json:"sessionKey"`
	RatingKey  flexString `json:"ratingKey"`
	State      string     `json:"state"`
	ViewOffset int64      `json:"viewOffset"`
}

// flexString tolerates servers that emit keys as JSON numbers instead of
// strings; the key stays opaque text either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Subscribe opens the server's notification websocket and returns a channel
// of playback notifications. The connection is re-established with backoff
// until ctx is cancelled, at which point the channel closes.
func (s *Server) Subscribe(ctx context.Context) (<-chan models.PlaybackNotification, error) {
	ch := make(chan models.PlaybackNotification, 16)
	go s.wsLoop(ctx, ch)
	return ch, nil
}

func (s *Server) wsLoop(ctx context.Context, ch chan<- models.PlaybackNotification) {
	defer close(ch)
	backoff := time.Second

	for {
		connected, err := s.wsConnect(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("plex ws %s: %v", s.name, err)
		}
		if connected {
			backoff = time.Second
		} else {
			backoff = min(backoff*2, 30*time.Second)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// wsConnect dials the notification endpoint and pumps frames until the
// connection drops or ctx is cancelled. The returned bool reports whether
// the dial succeeded, so the caller can reset its backoff.
func (s *Server) wsConnect(ctx context.Context, ch chan<- models.PlaybackNotification) (bool, error) {
	wsURL := strings.Replace(s.url, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/:/websockets/notifications"

	header := http.Header{"X-Plex-Token": {s.token}}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	log.Printf("Listening for playback notifications from %s", s.name)

	// Keepalive pings, scoped to this connection.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(
					websocket.PingMessage, nil,
					time.Now().Add(5*time.Second),
				); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		for _, n := range parseNotifications(msg) {
			select {
			case ch <- n:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

// parseNotifications extracts playback notifications from one websocket
// frame. Frames of other notification types, frames that do not parse, and
// entries with a state outside the known vocabulary yield nothing.
func parseNotifications(data []byte) []models.PlaybackNotification {
	var msg plexWSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("plex ws: skipping unparseable frame", "error", err)
		return nil
	}
	if msg.NotificationContainer.Type != "playing" {
		return nil
	}
	out := make([]models.PlaybackNotification, 0, len(msg.NotificationContainer.PlaySessionStateNotification))
	for _, ps := range msg.NotificationContainer.PlaySessionStateNotification {
		state := models.SessionState(ps.State)
		if !state.Valid() {
			slog.Warn("plex ws: unknown playback state",
				"session", string(ps.SessionKey), "state", ps.State)
			continue
		}
		out = append(out, models.PlaybackNotification{
			SessionKey:   string(ps.SessionKey),
			RatingKey:    string(ps.RatingKey),
			State:        state,
			ViewOffsetMs: ps.ViewOffset,
		})
	}
	return out
}
