// Copyright © 2018 The Things Industries, distributed under the MIT license (see LICENSE file)

package log

import (
	"context"
)

type ctxKeyType struct{}

var ctxKey ctxKeyType

// FromContext returns the logger from the context, or Noop.
func FromContext(ctx context.Context) Interface {
	if v := ctx.Value(ctxKey); v != nil {
		if logger, ok := v.(Interface); ok {
			return logger
		}
	}
	return Noop
}

// NewContext returns a new context that contains the logger
func NewContext(ctx context.Context, logger Interface) context.Context {
	return context.WithValue(ctx, ctxKey, logger)
}

// NewContextWithFields returns a new context whose logger carries the given fields.
func NewContextWithFields(ctx context.Context, fields Fielder) context.Context {
	return NewContext(ctx, FromContext(ctx).WithFields(fields))
}
