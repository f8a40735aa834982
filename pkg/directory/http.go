// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/ratelimit"
	"github.com/golang-jwt/jwt/v5"
)

// Username is the user name the gateway identifies itself with towards the device manager.
const Username = "gatekeeper"

// HTTPClient looks up devices in the device manager.
type HTTPClient struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

// HTTPOption configures the HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = client }
}

// WithSecret sets the secret that tenant tokens are signed with. Without secret, tokens are not signed.
func WithSecret(secret []byte) HTTPOption {
	return func(c *HTTPClient) { c.secret = secret }
}

// NewHTTPClient returns a new client for the device manager at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) token(tenant string) (string, error) {
	claims := jwt.MapClaims{
		"service":  tenant,
		"username": Username,
		"iat":      time.Now().Unix(),
	}
	if len(c.secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// GetDevice implements Client.
func (c *HTTPClient) GetDevice(ctx context.Context, tenant, device string) (err error) {
	start := time.Now()
	defer func() { observe("http", start, err) }()

	if err = ratelimit.Wait(ctx); err != nil {
		return err
	}
	token, err := c.token(tenant)
	if err != nil {
		return fmt.Errorf("could not create token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/device/"+url.PathEscape(device), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("device manager returned status %d", res.StatusCode)
	}
}
