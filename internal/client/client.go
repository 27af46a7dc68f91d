// Package client talks to a running poolswitch server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/api"
)

// DefaultTimeout bounds requests that do not run a migration.
const DefaultTimeout = 5 * time.Second

// Client is a JSON-over-HTTP client for the management API.
type Client struct {
	address    string
	httpClient *http.Client
}

// New returns a client for the server at address, e.g. http://localhost:8080.
// Migrations can outlast DefaultTimeout by the full drain timeout, so the
// underlying HTTP client has no timeout of its own; callers bound requests
// with their context.
func New(address string) *Client {
	return &Client{
		address:    strings.TrimRight(address, "/"),
		httpClient: &http.Client{},
	}
}

// StatusError is returned for responses the server answered with an
// unexpected status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return "http " + e.URL + ": " + http.StatusText(e.StatusCode)
}

// Migrate asks the server to migrate to backend. The server answers
// declined and failed migrations with a non-2xx status and a body; both
// are returned as a response without an error.
func (c *Client) Migrate(ctx context.Context, backend string) (*api.MigrationResponse, error) {
	var out api.MigrationResponse
	err := c.postJSON(ctx, c.address+"/api/migrations", api.MigrationRequest{Backend: backend}, &out, true)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Active returns the lookup key of the active backend.
func (c *Client) Active(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var out api.ActiveResponse
	if err := c.getJSON(ctx, c.address+"/api/backends/active", &out); err != nil {
		return "", err
	}
	return out.LookupKey, nil
}

// Backends returns the status of every backend.
func (c *Client) Backends(ctx context.Context) (*api.BackendsResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var out api.BackendsResponse
	if err := c.getJSON(ctx, c.address+"/api/backends", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any, decodeErrors bool) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && !(decodeErrors && isJSON(resp)) {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return decode(resp.Body, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to get %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return decode(resp.Body, out)
}

func isJSON(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json")
}

func decode(r io.Reader, out any) error {
	return errors.Wrap(json.NewDecoder(r).Decode(out), "failed to decode response")
}
