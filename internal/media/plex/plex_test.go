package plex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"introskip/internal/models"
)

func TestGetSessions(t *testing.T) {
	sessionsData, err := os.ReadFile("testdata/sessions.xml")
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "test-token" {
			t.Error("missing plex token header")
		}
		switch r.URL.Path {
		case "/status/sessions":
			w.Write(sessionsData)
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	srv := New(models.Server{
		Name:  "TestPlex",
		URL:   ts.URL,
		Token: "test-token",
	})

	sessions, err := srv.GetSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	s := sessions[0]
	if s.Key != "61" {
		t.Errorf("session key = %q, want 61", s.Key)
	}
	if s.State != models.SessionStatePlaying {
		t.Errorf("state = %q, want playing", s.State)
	}
	if s.MediaType != models.MediaTypeEpisode {
		t.Errorf("media type = %q, want episode", s.MediaType)
	}
	if s.RatingKey != "3001" {
		t.Errorf("rating key = %q, want 3001", s.RatingKey)
	}
	if s.Title != "Ozymandias" {
		t.Errorf("title = %q, want Ozymandias", s.Title)
	}
	if s.GrandparentTitle != "Breaking Bad" {
		t.Errorf("grandparent = %q, want Breaking Bad", s.GrandparentTitle)
	}
	if s.UserName != "alice" {
		t.Errorf("user = %q, want alice", s.UserName)
	}
	if s.ViewOffsetMs != 15000 {
		t.Errorf("view offset = %d, want 15000", s.ViewOffsetMs)
	}
	if s.DurationMs != 2843000 {
		t.Errorf("duration = %d, want 2843000", s.DurationMs)
	}
	if s.Player.Title != "Living Room TV" {
		t.Errorf("player = %q, want Living Room TV", s.Player.Title)
	}
	if s.Player.Product != "Plex for Apple TV" {
		t.Errorf("player product = %q, want Plex for Apple TV", s.Player.Product)
	}
	if s.Player.MachineID != "player-appletv" {
		t.Errorf("player machine id = %q, want player-appletv", s.Player.MachineID)
	}
	if s.Player.Address != "192.168.1.40" {
		t.Errorf("player address = %q, want 192.168.1.40", s.Player.Address)
	}
	if len(s.Markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(s.Markers))
	}
	intro, ok := s.IntroMarker()
	if !ok {
		t.Fatal("expected an intro marker")
	}
	if intro.StartMs != 1000 || intro.EndMs != 91000 {
		t.Errorf("intro marker = [%d, %d), want [1000, 91000)", intro.StartMs, intro.EndMs)
	}

	s2 := sessions[1]
	if s2.Key != "62" {
		t.Errorf("session 2 key = %q, want 62", s2.Key)
	}
	if s2.MediaType != models.MediaTypeMovie {
		t.Errorf("session 2 media type = %q, want movie", s2.MediaType)
	}
	if s2.State != models.SessionStatePaused {
		t.Errorf("session 2 state = %q, want paused", s2.State)
	}
	if len(s2.Markers) != 0 {
		t.Errorf("movie should carry no markers, got %d", len(s2.Markers))
	}
}

const sessionsWithoutMarkers = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Video sessionKey="7" ratingKey="9001" type="episode" title="Pilot" grandparentTitle="Severance" duration="3060000" viewOffset="500">
    <User id="1" title="alice"/>
    <Player title="TV" product="Plex for Apple TV" state="playing" address="10.0.0.5" machineIdentifier="m1"/>
  </Video>
</MediaContainer>`

const metadataWithIntro = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Video ratingKey="9001">
    <Marker type="intro" startTimeOffset="2000" endTimeOffset="62000"/>
  </Video>
</MediaContainer>`

const metadataWithoutMarkers = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Video ratingKey="9001"/>
</MediaContainer>`

func TestGetSessionsEnrichesMarkersFromMetadata(t *testing.T) {
	var metadataHits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/sessions":
			w.Write([]byte(sessionsWithoutMarkers))
		case "/library/metadata/9001":
			if r.URL.Query().Get("includeMarkers") != "1" {
				t.Error("metadata request missing includeMarkers=1")
			}
			metadataHits.Add(1)
			w.Write([]byte(metadataWithIntro))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "tok"})

	for i := 0; i < 2; i++ {
		sessions, err := srv.GetSessions(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions) != 1 {
			t.Fatalf("expected 1 session, got %d", len(sessions))
		}
		intro, ok := sessions[0].IntroMarker()
		if !ok {
			t.Fatal("expected an intro marker after enrichment")
		}
		if intro.StartMs != 2000 || intro.EndMs != 62000 {
			t.Errorf("intro marker = [%d, %d), want [2000, 62000)", intro.StartMs, intro.EndMs)
		}
	}

	// Second pass must hit the cache, not the metadata endpoint.
	if got := metadataHits.Load(); got != 1 {
		t.Errorf("metadata endpoint hit %d times, want 1", got)
	}
}

func TestMarkerCacheSkipsEmptyResults(t *testing.T) {
	var metadataHits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/sessions":
			w.Write([]byte(sessionsWithoutMarkers))
		case "/library/metadata/9001":
			metadataHits.Add(1)
			w.Write([]byte(metadataWithoutMarkers))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "tok"})

	for i := 0; i < 2; i++ {
		sessions, err := srv.GetSessions(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(sessions[0].Markers) != 0 {
			t.Errorf("expected no markers, got %d", len(sessions[0].Markers))
		}
	}

	// Markers appear server-side minutes after playback starts, so an empty
	// answer must be retried on the next snapshot.
	if got := metadataHits.Load(); got != 2 {
		t.Errorf("metadata endpoint hit %d times, want 2", got)
	}
}

func TestMarkerCachePrunedWhenSessionEnds(t *testing.T) {
	var metadataHits atomic.Int32
	var active atomic.Bool
	active.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/sessions":
			if active.Load() {
				w.Write([]byte(sessionsWithoutMarkers))
			} else {
				w.Write([]byte(`<MediaContainer size="0"/>`))
			}
		case "/library/metadata/9001":
			metadataHits.Add(1)
			w.Write([]byte(metadataWithIntro))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "tok"})

	if _, err := srv.GetSessions(context.Background()); err != nil {
		t.Fatal(err)
	}
	active.Store(false)
	if _, err := srv.GetSessions(context.Background()); err != nil {
		t.Fatal(err)
	}
	active.Store(true)
	if _, err := srv.GetSessions(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := metadataHits.Load(); got != 2 {
		t.Errorf("metadata endpoint hit %d times, want 2 (cache pruned between plays)", got)
	}
}

func TestSessionByKey(t *testing.T) {
	sessionsData, err := os.ReadFile("testdata/sessions.xml")
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(sessionsData)
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "tok"})

	sess, err := srv.Session(context.Background(), "62")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Title != "Inception" {
		t.Errorf("title = %q, want Inception", sess.Title)
	}

	_, err = srv.Session(context.Background(), "999")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/identity" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Plex-Token") == "" {
			t.Error("missing X-Plex-Token header")
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer machineIdentifier="abc123" version="1.40.0"/>`))
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "tok"})
	if err := srv.TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestTestConnectionFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	srv := New(models.Server{URL: ts.URL, Token: "bad"})
	if err := srv.TestConnection(context.Background()); err == nil {
		t.Error("expected error for 401")
	}
}
