// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package certificate

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Source loads the current revocation list.
type Source interface {
	Fetch(ctx context.Context) (*x509.RevocationList, error)
}

// ParseList parses a PEM ("X509 CRL") or DER encoded revocation list.
func ParseList(data []byte) (*x509.RevocationList, error) {
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != "X509 CRL" {
			return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		data = block.Bytes
	}
	return x509.ParseRevocationList(data)
}

// FileSource reads the revocation list from a file.
type FileSource struct {
	Path string
}

// Fetch implements Source.
func (s FileSource) Fetch(_ context.Context) (*x509.RevocationList, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	return ParseList(data)
}

// PKISource fetches the revocation list of a certificate authority from the PKI HTTP API.
type PKISource struct {
	URL    string
	CAName string
	Client *http.Client
}

type pkiResponse struct {
	CRL string `json:"CRL"`
}

// Fetch implements Source.
func (s PKISource) Fetch(ctx context.Context) (*x509.RevocationList, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := fmt.Sprintf("%s/ca/%s/crl?update=true", strings.TrimSuffix(s.URL, "/"), url.PathEscape(s.CAName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pki returned status %d", res.StatusCode)
	}
	var body pkiResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("could not decode pki response: %w", err)
	}
	der, err := base64.StdEncoding.DecodeString(body.CRL)
	if err != nil {
		return nil, fmt.Errorf("could not decode revocation list: %w", err)
	}
	return ParseList(der)
}
