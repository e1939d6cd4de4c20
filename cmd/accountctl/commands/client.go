package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/better-wallet/smart-account/pkg/errors"
)

// Client calls the account server's HTTP API
type Client struct {
	Base   string
	APIKey string
	HTTP   *http.Client
}

// NewClient creates a client for the server at base
func NewClient(base, apiKey string) *Client {
	return &Client{
		Base:   strings.TrimRight(base, "/"),
		APIKey: apiKey,
		HTTP:   http.DefaultClient,
	}
}

// Do sends in as the JSON body (when non-nil) and decodes the response into out (when
// non-nil). Error responses are returned as *apperrors.AppError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error *apperrors.AppError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == nil {
			return fmt.Errorf("%s %s failed: %s", method, req.URL, resp.Status)
		}
		e.Error.StatusCode = resp.StatusCode
		return e.Error
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
