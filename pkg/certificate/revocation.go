// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package certificate

import (
	"crypto/x509"
	"sync/atomic"
	"time"
)

type revoked struct {
	serials    map[string]struct{}
	updated    time.Time
	nextUpdate time.Time
}

// RevocationSet is the set of currently revoked serial numbers.
// It is replaced wholesale on every update, so readers always see a complete set.
type RevocationSet struct {
	current atomic.Pointer[revoked]
}

// NewRevocationSet returns an empty set that has not been loaded yet.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{}
}

// HasRevoked implements Oracle.
func (s *RevocationSet) HasRevoked(serial string) bool {
	current := s.current.Load()
	if current == nil {
		return false
	}
	_, ok := current.serials[serial]
	return ok
}

// Replace the set with the given serial numbers.
func (s *RevocationSet) Replace(serials []string, nextUpdate time.Time) {
	next := &revoked{
		serials:    make(map[string]struct{}, len(serials)),
		updated:    time.Now(),
		nextUpdate: nextUpdate,
	}
	for _, serial := range serials {
		next.serials[serial] = struct{}{}
	}
	s.current.Store(next)
	revokedCertificates.Set(float64(len(next.serials)))
	revocationUpdated.Set(float64(next.updated.Unix()))
}

// ReplaceFromList replaces the set with the entries of the revocation list.
func (s *RevocationSet) ReplaceFromList(list *x509.RevocationList) {
	serials := make([]string, 0, len(list.RevokedCertificateEntries))
	for _, entry := range list.RevokedCertificateEntries {
		serials = append(serials, SerialNumber(entry.SerialNumber))
	}
	s.Replace(serials, list.NextUpdate)
}

// Loaded returns true once the set has been replaced at least once.
func (s *RevocationSet) Loaded() bool {
	return s.current.Load() != nil
}

// Len returns the number of revoked serial numbers.
func (s *RevocationSet) Len() int {
	current := s.current.Load()
	if current == nil {
		return 0
	}
	return len(current.serials)
}

// Updated returns when the set was last replaced and when the source expects the next update.
func (s *RevocationSet) Updated() (updated, nextUpdate time.Time) {
	current := s.current.Load()
	if current == nil {
		return
	}
	return current.updated, current.nextUpdate
}
