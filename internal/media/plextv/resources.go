package plextv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"introskip/internal/httputil"
	"introskip/internal/models"
)

// Resource is one device registered to the account: servers, players,
// controllers. Provides is a comma-separated capability list.
type Resource struct {
	Name             string       `json:"name"`
	ClientIdentifier string       `json:"clientIdentifier"`
	Provides         string       `json:"provides"`
	Owned            bool         `json:"owned"`
	Connections      []Connection `json:"connections"`
}

type Connection struct {
	URI   string `json:"uri"`
	Local bool   `json:"local"`
	Relay bool   `json:"relay"`
}

// IsServer reports whether the resource advertises the server capability.
func (r Resource) IsServer() bool {
	for _, p := range strings.Split(r.Provides, ",") {
		if strings.TrimSpace(p) == "server" {
			return true
		}
	}
	return false
}

// Resources lists the account's devices, with both plex.direct and plain
// HTTP connection endpoints included.
func (c *Client) Resources(ctx context.Context, token string) ([]Resource, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/resources?includeHttps=1", token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("plex.tv returned status %d: %s", status, httputil.Truncate(body, 200))
	}
	var resources []Resource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, fmt.Errorf("parsing resources: %w", err)
	}
	return resources, nil
}

// FindServer resolves a media server from the account's resources. An empty
// name takes the first server found; otherwise the name must match,
// case-insensitively. Each candidate's connections are probed in order,
// relays last, and the first one that answers wins.
func (c *Client) FindServer(ctx context.Context, token, name string) (models.Server, error) {
	resources, err := c.Resources(ctx, token)
	if err != nil {
		return models.Server{}, err
	}

	var candidates []Resource
	for _, r := range resources {
		if !r.IsServer() {
			continue
		}
		if name != "" && !strings.EqualFold(r.Name, name) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		if name != "" {
			return models.Server{}, fmt.Errorf("server %q on this account: %w", name, models.ErrNotFound)
		}
		return models.Server{}, fmt.Errorf("media server on this account: %w", models.ErrNotFound)
	}

	for _, r := range candidates {
		for _, conn := range orderConnections(r.Connections) {
			uri := strings.TrimRight(conn.URI, "/")
			if err := c.probe(ctx, uri, token); err != nil {
				slog.Debug("plextv: connection unreachable",
					"server", r.Name, "uri", uri, "relay", conn.Relay, "error", err)
				continue
			}
			return models.Server{
				Name:      r.Name,
				URL:       uri,
				Token:     token,
				MachineID: r.ClientIdentifier,
				ClientID:  c.clientID,
			}, nil
		}
	}

	names := make([]string, 0, len(candidates))
	for _, r := range candidates {
		names = append(names, r.Name)
	}
	return models.Server{}, fmt.Errorf("no reachable connection to %s", strings.Join(names, ", "))
}

// orderConnections moves relay connections to the back so direct routes are
// tried first.
func orderConnections(conns []Connection) []Connection {
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		if !c.Relay {
			out = append(out, c)
		}
	}
	for _, c := range conns {
		if c.Relay {
			out = append(out, c)
		}
	}
	return out
}

// probe checks a server connection directly, outside the plex.tv limiter.
func (c *Client) probe(ctx context.Context, uri, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri+"/identity", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Plex-Token", token)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity returned status %d", resp.StatusCode)
	}
	return nil
}
