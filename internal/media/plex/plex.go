// Package plex is a client for one Plex Media Server: the sessions API skip
// decisions read from, the client registry seek commands go through, and the
// websocket stream playback notifications arrive on.
package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"introskip/internal/httputil"
	"introskip/internal/models"
	"introskip/internal/version"
)

type Server struct {
	name      string
	url       string
	token     string
	clientID  string
	client    *http.Client
	cmdClient *http.Client

	markerCache sync.Map // ratingKey -> []models.Marker
}

func New(srv models.Server) *Server {
	return &Server{
		name:     srv.Name,
		url:      strings.TrimRight(srv.URL, "/"),
		token:    srv.Token,
		clientID: srv.ClientID,
		client:   httputil.NewClient(),
		// Player commands block until the player acknowledges; some take
		// well over the default timeout to comply.
		cmdClient: httputil.NewClientWithTimeout(httputil.IntegrationTimeout),
	}
}

func (s *Server) Name() string { return s.name }
func (s *Server) URL() string  { return s.url }

func (s *Server) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/identity", nil)
	if err != nil {
		return err
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	return nil
}

// GetSessions returns a fresh snapshot of every live playback session.
func (s *Server) GetSessions(ctx context.Context) ([]models.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/status/sessions", nil)
	if err != nil {
		return nil, err
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	return s.parseSessions(ctx, body)
}

// Session looks up one session by key. The session list is always queried
// fresh; only marker metadata is cached. The returned error wraps
// models.ErrNotFound when the server no longer reports the key.
func (s *Server) Session(ctx context.Context, key string) (models.Session, error) {
	sessions, err := s.GetSessions(ctx)
	if err != nil {
		return models.Session{}, err
	}
	for _, sess := range sessions {
		if sess.Key == key {
			return sess, nil
		}
	}
	return models.Session{}, fmt.Errorf("session %q: %w", key, models.ErrNotFound)
}

func (s *Server) parseSessions(ctx context.Context, data []byte) ([]models.Session, error) {
	var mc mediaContainer
	if err := xml.Unmarshal(data, &mc); err != nil {
		return nil, fmt.Errorf("parsing plex XML: %w", err)
	}

	items := make([]plexItem, 0, len(mc.Videos)+len(mc.Tracks))
	items = append(items, mc.Videos...)
	items = append(items, mc.Tracks...)

	activeKeys := make(map[string]struct{}, len(items))

	sessions := make([]models.Session, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		sess := buildSession(item)
		if sess.IsEpisode() && item.RatingKey != "" {
			activeKeys[item.RatingKey] = struct{}{}
			if len(sess.Markers) == 0 {
				// Some server versions omit Marker elements from the
				// sessions payload; fall back to the metadata endpoint.
				sess.Markers = s.getMarkers(ctx, item.RatingKey)
			}
		}
		sessions = append(sessions, sess)
	}

	s.markerCache.Range(func(key, _ any) bool {
		if k, ok := key.(string); ok {
			if _, active := activeKeys[k]; !active {
				s.markerCache.Delete(k)
			}
		}
		return true
	})

	return sessions, nil
}

func buildSession(item plexItem) models.Session {
	return models.Session{
		Key:              item.SessionKey,
		State:            models.SessionState(item.Player.State),
		MediaType:        plexMediaType(item.Type),
		RatingKey:        item.RatingKey,
		Title:            item.Title,
		GrandparentTitle: item.GrandparentTitle,
		UserName:         item.User.Title,
		ViewOffsetMs:     atoi64(item.ViewOffset),
		DurationMs:       atoi64(item.Duration),
		Player: models.Player{
			Title:     item.Player.Title,
			Product:   item.Player.Product,
			MachineID: item.Player.MachineID,
			Address:   item.Player.Address,
		},
		Markers: convertMarkers(item.Markers),
	}
}

// getMarkers fetches the markers for an episode from the metadata endpoint.
// Results are cached per rating key; empty results are not cached because
// the server detects intros asynchronously and markers can appear minutes
// after an episode first plays.
func (s *Server) getMarkers(ctx context.Context, ratingKey string) []models.Marker {
	if ratingKey == "" {
		return nil
	}

	if cached, ok := s.markerCache.Load(ratingKey); ok {
		if markers, ok := cached.([]models.Marker); ok {
			return markers
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.url+"/library/metadata/"+ratingKey+"?includeMarkers=1", nil)
	if err != nil {
		slog.Debug("plex: failed to create metadata request", "ratingKey", ratingKey, "error", err)
		return nil
	}
	s.setHeaders(req)
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("plex: failed to fetch markers", "ratingKey", ratingKey, "error", err)
		return nil
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		slog.Debug("plex: metadata returned non-200", "ratingKey", ratingKey, "status", resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		slog.Debug("plex: failed to read metadata body", "ratingKey", ratingKey, "error", err)
		return nil
	}

	var mc metadataContainer
	if err := xml.Unmarshal(body, &mc); err != nil {
		slog.Debug("plex: failed to parse metadata XML", "ratingKey", ratingKey, "error", err)
		return nil
	}
	if len(mc.Videos) == 0 {
		slog.Debug("plex: metadata has no items", "ratingKey", ratingKey)
		return nil
	}

	markers := convertMarkers(mc.Videos[0].Markers)
	if len(markers) == 0 {
		slog.Debug("plex: no markers detected yet", "ratingKey", ratingKey)
		return nil
	}

	s.markerCache.Store(ratingKey, markers)
	return markers
}

func (s *Server) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", s.token)
	if s.clientID != "" {
		req.Header.Set("X-Plex-Client-Identifier", s.clientID)
	}
	req.Header.Set("X-Plex-Product", version.Product)
	req.Header.Set("X-Plex-Version", version.Version)
	req.Header.Set("Accept", "application/xml")
}

type mediaContainer struct {
	XMLName xml.Name   `xml:"MediaContainer"`
	Videos  []plexItem `xml:"Video"`
	Tracks  []plexItem `xml:"Track"`
}

type plexItem struct {
	SessionKey       string   `xml:"sessionKey,attr"`
	RatingKey        string   `xml:"ratingKey,attr"`
	Type             string   `xml:"type,attr"`
	Title            string   `xml:"title,attr"`
	GrandparentTitle string   `xml:"grandparentTitle,attr"`
	Duration         string   `xml:"duration,attr"`
	ViewOffset       string   `xml:"viewOffset,attr"`
	Player           player   `xml:"Player"`
	User             user     `xml:"User"`
	Markers          []marker `xml:"Marker"`
}

type player struct {
	Title     string `xml:"title,attr"`
	Product   string `xml:"product,attr"`
	State     string `xml:"state,attr"`
	Address   string `xml:"address,attr"`
	MachineID string `xml:"machineIdentifier,attr"`
}

type user struct {
	Title string `xml:"title,attr"`
}

type marker struct {
	Type        string `xml:"type,attr"`
	StartOffset string `xml:"startTimeOffset,attr"`
	EndOffset   string `xml:"endTimeOffset,attr"`
}

type metadataContainer struct {
	XMLName xml.Name       `xml:"MediaContainer"`
	Videos  []metadataItem `xml:"Video"`
}

type metadataItem struct {
	RatingKey string   `xml:"ratingKey,attr"`
	Markers   []marker `xml:"Marker"`
}

func convertMarkers(ms []marker) []models.Marker {
	if len(ms) == 0 {
		return nil
	}
	out := make([]models.Marker, 0, len(ms))
	for _, m := range ms {
		out = append(out, models.Marker{
			Type:    m.Type,
			StartMs: atoi64(m.StartOffset),
			EndMs:   atoi64(m.EndOffset),
		})
	}
	return out
}

func plexMediaType(t string) models.MediaType {
	switch t {
	case "movie":
		return models.MediaTypeMovie
	case "episode":
		return models.MediaTypeEpisode
	case "track":
		return models.MediaTypeTrack
	case "clip":
		return models.MediaTypeClip
	default:
		return models.MediaType(t)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
