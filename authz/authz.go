// Package authz implements the authorization callout, a single POST
// to an external web service that gates authentication.
package authz

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Timeout is the maximum time allowed for the callout.
const Timeout = 5 * time.Second

// Request is the JSON body posted to the authorization URI.
type Request struct {
	Username      string `json:"Username"`
	Password      string `json:"Password"`
	RemoteAddress string `json:"RemoteAddress"`
}

// Client issues authorization callouts. The zero value is ready to
// use; HTTPClient is overridable for tests.
type Client struct {
	HTTPClient *http.Client
}

// New returns a Client whose HTTP client enforces Timeout.
func New() *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: Timeout},
	}
}

// Authorize POSTs req as JSON to uri, reports whether the response was
// a 2xx status. No retries, no caching. Non-2xx, network errors and
// timeouts all count as a rejection, not an error. The returned error
// is non-nil only when the request itself could not be built.
func (c *Client) Authorize(ctx context.Context, uri string, req Request) (bool, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshal authorization request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build authorization request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
