// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

// Package certificate validates device client certificates and keeps track of revoked certificates.
package certificate

import (
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
)

// Validation errors
var (
	ErrNoCertificate      = errors.New("no client certificate")
	ErrMalformed          = errors.New("malformed client certificate")
	ErrCommonNameMismatch = errors.New("certificate common name does not match device")
	ErrRevoked            = errors.New("certificate revoked")
)

// Oracle tells whether a certificate serial number is revoked.
type Oracle interface {
	HasRevoked(serial string) bool
}

// SerialNumber formats a certificate serial number the way revocation sets index it.
func SerialNumber(serial *big.Int) string {
	return fmt.Sprintf("%X", serial)
}

// Validator checks client certificates against the expected device and a revocation oracle.
type Validator struct {
	oracle Oracle
}

// NewValidator returns a Validator. A nil oracle never reports revocations.
func NewValidator(oracle Oracle) *Validator {
	return &Validator{oracle: oracle}
}

// Validate the peer certificate chain (leaf first) for the expected device.
// It returns ErrNoCertificate if the chain is empty; the caller decides whether that is acceptable.
func (v *Validator) Validate(chain []*x509.Certificate, expectedDevice string) error {
	if len(chain) == 0 {
		return ErrNoCertificate
	}
	leaf := chain[0]
	if leaf == nil || leaf.SerialNumber == nil {
		return ErrMalformed
	}
	if leaf.Subject.CommonName != expectedDevice {
		return fmt.Errorf("%w: %q", ErrCommonNameMismatch, leaf.Subject.CommonName)
	}
	if v != nil && v.oracle != nil && v.oracle.HasRevoked(SerialNumber(leaf.SerialNumber)) {
		return fmt.Errorf("%w: serial %s", ErrRevoked, SerialNumber(leaf.SerialNumber))
	}
	return nil
}

// ValidateRaw parses DER encoded certificates and validates them like Validate.
// Parse errors are reported as ErrMalformed.
func (v *Validator) ValidateRaw(rawChain [][]byte, expectedDevice string) error {
	chain := make([]*x509.Certificate, 0, len(rawChain))
	for _, raw := range rawChain {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		chain = append(chain, cert)
	}
	return v.Validate(chain, expectedDevice)
}
