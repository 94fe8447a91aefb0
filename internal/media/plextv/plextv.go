// Package plextv is a client for the plex.tv account API: PIN-based device
// linking, token checks, and server discovery across a user's resources.
package plextv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"introskip/internal/httputil"
	"introskip/internal/version"
)

const (
	apiBase  = "https://plex.tv/api/v2"
	authBase = "https://app.plex.tv/auth"
)

// ErrPinExpired marks a PIN the user did not link in time. Expired PINs
// disappear from the API, so a fresh one has to be generated.
var ErrPinExpired = errors.New("pin expired")

type Client struct {
	product  string
	clientID string
	apiURL   string
	client   *http.Client

	// Paces every plex.tv call; the PIN poll loop is the only caller that
	// ever hits the limit.
	limiter *rate.Limiter
}

func New(clientID string) *Client {
	return &Client{
		product:  version.Product,
		clientID: clientID,
		apiURL:   apiBase,
		client:   httputil.NewClientWithTimeout(httputil.ExtendedTimeout),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// Pin is one device-link code. The ID addresses the PIN on the API; the
// code is what the auth page asks the user to confirm.
type Pin struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
}

type pinResponse struct {
	ID        int    `json:"id"`
	Code      string `json:"code"`
	AuthToken string `json:"authToken"`
}

// GeneratePin requests a new strong PIN bound to this client identifier.
func (c *Client) GeneratePin(ctx context.Context) (Pin, error) {
	body, status, err := c.do(ctx, http.MethodPost, "/pins?strong=true", "")
	if err != nil {
		return Pin{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return Pin{}, fmt.Errorf("plex.tv returned status %d: %s", status, httputil.Truncate(body, 200))
	}
	var pr pinResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Pin{}, fmt.Errorf("parsing pin: %w", err)
	}
	if pr.ID == 0 || pr.Code == "" {
		return Pin{}, fmt.Errorf("plex.tv returned an unusable pin: %s", httputil.Truncate(body, 200))
	}
	return Pin{ID: pr.ID, Code: pr.Code}, nil
}

// AuthURL is the page the user opens to link the PIN to their account.
func (c *Client) AuthURL(pin Pin) string {
	q := url.Values{}
	q.Set("clientID", c.clientID)
	q.Set("code", pin.Code)
	q.Set("context[device][product]", c.product)
	return authBase + "#?" + q.Encode()
}

// CheckPin asks whether the user has linked the PIN yet. An empty token
// with a nil error means not yet; a 404 means the PIN expired.
func (c *Client) CheckPin(ctx context.Context, pin Pin) (string, error) {
	path := "/pins/" + strconv.Itoa(pin.ID) + "?code=" + url.QueryEscape(pin.Code)
	body, status, err := c.do(ctx, http.MethodGet, path, "")
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("pin %d: %w", pin.ID, ErrPinExpired)
	default:
		return "", fmt.Errorf("plex.tv returned status %d: %s", status, httputil.Truncate(body, 200))
	}
	var pr pinResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return "", fmt.Errorf("parsing pin: %w", err)
	}
	return pr.AuthToken, nil
}

// WaitForToken polls the PIN until the user links it, the PIN expires, or
// ctx is cancelled. The client's limiter paces the polling to about one
// check per second once the initial burst is spent.
func (c *Client) WaitForToken(ctx context.Context, pin Pin) (string, error) {
	for {
		token, err := c.CheckPin(ctx, pin)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
}

// IsTokenValid reports whether an account token still authenticates.
// A definitive 401 is not an error; anything else unexpected is.
func (c *Client) IsTokenValid(ctx context.Context, token string) (bool, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/user", token)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized:
		return false, nil
	default:
		return false, fmt.Errorf("plex.tv returned status %d: %s", status, httputil.Truncate(body, 200))
	}
}

// do issues one paced plex.tv API request and returns the body and status.
// Non-2xx statuses are returned to the caller, not turned into errors here;
// endpoints attach their own meaning to them.
func (c *Client) do(ctx context.Context, method, path, token string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.setHeaders(req, token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httputil.DrainBody(resp)
	body, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxResponseBody))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", c.product)
	req.Header.Set("X-Plex-Version", version.Version)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}
}
