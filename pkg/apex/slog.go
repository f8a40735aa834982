// Copyright © 2024 The Things Industries, distributed under the MIT license (see LICENSE file)

package apex

import (
	"context"
	"log/slog"

	"github.com/TheThingsIndustries/gatekeeper/pkg/log"
)

// Slog returns a *slog.Logger that writes its records to logger.
// Level filtering is left to the backend of logger.
func Slog(logger log.Interface) *slog.Logger {
	return slog.New(&slogHandler{logger: logger})
}

type slogHandler struct {
	logger log.Interface
	attrs  log.F
	prefix string
}

func (h *slogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *slogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := h.attrs.Merge(nil)
	r.Attrs(func(a slog.Attr) bool {
		h.add(fields, a)
		return true
	})
	logger := h.logger
	if len(fields) > 0 {
		logger = logger.WithFields(fields)
	}
	switch {
	case r.Level >= slog.LevelError:
		logger.Error(r.Message)
	case r.Level >= slog.LevelWarn:
		logger.Warn(r.Message)
	case r.Level >= slog.LevelInfo:
		logger.Info(r.Message)
	default:
		logger.Debug(r.Message)
	}
	return nil
}

func (h *slogHandler) add(fields log.F, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, member := range v.Group() {
			(&slogHandler{prefix: h.prefix + a.Key + "."}).add(fields, member)
		}
		return
	}
	fields[h.prefix+a.Key] = v.Any()
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := h.attrs.Merge(nil)
	for _, a := range attrs {
		h.add(fields, a)
	}
	return &slogHandler{logger: h.logger, attrs: fields, prefix: h.prefix}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{logger: h.logger, attrs: h.attrs, prefix: h.prefix + name + "."}
}
