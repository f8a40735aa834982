// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package certificate

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
)

// Refresher keeps a RevocationSet up to date from a Source.
type Refresher struct {
	set    *RevocationSet
	source Source
	issuer *x509.Certificate
}

// NewRefresher returns a Refresher. If issuer is not nil, lists not signed by it are rejected.
func NewRefresher(set *RevocationSet, source Source, issuer *x509.Certificate) *Refresher {
	return &Refresher{set: set, source: source, issuer: issuer}
}

// Refresh fetches the revocation list and replaces the set.
// On error the current set is left untouched.
func (r *Refresher) Refresh(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			revocationRefreshes.WithLabelValues("error").Inc()
		} else {
			revocationRefreshes.WithLabelValues("ok").Inc()
		}
	}()
	list, err := r.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch revocation list: %w", err)
	}
	if r.issuer != nil {
		if err := list.CheckSignatureFrom(r.issuer); err != nil {
			return fmt.Errorf("revocation list not signed by issuer: %w", err)
		}
	}
	r.set.ReplaceFromList(list)
	log.FromContext(ctx).WithFields(log.F{
		"revoked":     r.set.Len(),
		"next_update": list.NextUpdate,
	}).Debug("Updated revocation list")
	return nil
}

// Run refreshes the set every interval until the context is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	logger := log.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				logger.WithError(err).Warn("Could not refresh revocation list")
			}
		}
	}
}
