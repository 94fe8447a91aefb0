package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"introskip/internal/httputil"
	"introskip/internal/models"
	"introskip/internal/seek"
	"introskip/internal/version"
)

// companionPort is the port Plex players listen on for companion commands.
const companionPort = 32500

// GetClients returns the players currently advertised in the server's
// client registry. Only players with "advertise as player" enabled appear
// here.
func (s *Server) GetClients(ctx context.Context) ([]models.Client, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/clients", nil)
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
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, err
	}

	var cc clientContainer
	if err := xml.Unmarshal(body, &cc); err != nil {
		return nil, fmt.Errorf("parsing clients XML: %w", err)
	}

	clients := make([]models.Client, 0, len(cc.Clients))
	for _, c := range cc.Clients {
		clients = append(clients, models.Client{
			Name:      c.Name,
			Product:   c.Product,
			MachineID: c.MachineID,
			Address:   c.Address,
			Port:      atoi(c.Port),
		})
	}
	return clients, nil
}

type clientContainer struct {
	XMLName xml.Name    `xml:"MediaContainer"`
	Clients []xmlClient `xml:"Server"`
}

type xmlClient struct {
	Name      string `xml:"name,attr"`
	Product   string `xml:"product,attr"`
	MachineID string `xml:"machineIdentifier,attr"`
	Address   string `xml:"address,attr"`
	Port      string `xml:"port,attr"`
}

// ClientProvider resolves seek targets among the players in the server's
// client registry and commands them through the server proxy.
type ClientProvider struct {
	server *Server
}

func NewClientProvider(s *Server) *ClientProvider {
	return &ClientProvider{server: s}
}

func (p *ClientProvider) Target(ctx context.Context, s models.Session) (seek.Target, error) {
	clients, err := p.server.GetClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	for _, c := range clients {
		if c.MachineID != "" && c.MachineID == s.Player.MachineID {
			return &proxiedPlayer{server: p.server, machineID: c.MachineID}, nil
		}
	}
	return nil, fmt.Errorf("player %q (%s): %w",
		s.Player.Title, s.Player.MachineID, seek.ErrPlayerNotAdvertised)
}

// proxiedPlayer sends playback commands to a player through the server,
// addressed by the X-Plex-Target-Client-Identifier header.
type proxiedPlayer struct {
	server    *Server
	machineID string
	commandID atomic.Int64
}

func (t *proxiedPlayer) Seek(ctx context.Context, offsetMs int64) error {
	params := url.Values{}
	params.Set("type", "video")
	params.Set("offset", strconv.FormatInt(offsetMs, 10))
	params.Set("commandID", strconv.FormatInt(t.commandID.Add(1), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.server.url+"/player/playback/seekTo?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	t.server.setHeaders(req)
	req.Header.Set("X-Plex-Target-Client-Identifier", t.machineID)

	resp, err := t.server.cmdClient.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex returned status %d", resp.StatusCode)
	}
	return nil
}

// CompanionProvider reaches players at their reported address on the
// companion port, for players that never register with the server's client
// list. Resolution probes the player so an unreachable device falls through
// the chain instead of swallowing the seek.
type CompanionProvider struct {
	clientID string
	port     int
	client   *http.Client
}

func NewCompanionProvider(clientID string) *CompanionProvider {
	return &CompanionProvider{
		clientID: clientID,
		port:     companionPort,
		client:   httputil.NewClientWithTimeout(httputil.IntegrationTimeout),
	}
}

func (p *CompanionProvider) Target(ctx context.Context, s models.Session) (seek.Target, error) {
	if s.Player.Address == "" {
		return nil, fmt.Errorf("session %s reports no player address: %w", s.Key, seek.ErrTargetNotFound)
	}

	target := &companionPlayer{
		baseURL:   fmt.Sprintf("http://%s:%d", s.Player.Address, p.port),
		clientID:  p.clientID,
		machineID: s.Player.MachineID,
		client:    p.client,
	}
	if err := target.probe(ctx); err != nil {
		return nil, fmt.Errorf("player %q at %s unreachable: %w (%v)",
			s.Player.Title, s.Player.Address, seek.ErrTargetNotFound, err)
	}
	return target, nil
}

// companionPlayer speaks the companion protocol directly to a player.
type companionPlayer struct {
	baseURL   string
	clientID  string
	machineID string
	client    *http.Client
	commandID atomic.Int64
}

func (t *companionPlayer) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/resources", nil)
	if err != nil {
		return err
	}
	t.setHeaders(req)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("player returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *companionPlayer) Seek(ctx context.Context, offsetMs int64) error {
	params := url.Values{}
	params.Set("type", "video")
	params.Set("offset", strconv.FormatInt(offsetMs, 10))
	params.Set("commandID", strconv.FormatInt(t.commandID.Add(1), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/player/playback/seekTo?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("player returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *companionPlayer) setHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Client-Identifier", t.clientID)
	req.Header.Set("X-Plex-Product", version.Product)
	req.Header.Set("X-Plex-Version", version.Version)
	if t.machineID != "" {
		req.Header.Set("X-Plex-Target-Client-Identifier", t.machineID)
	}
}
