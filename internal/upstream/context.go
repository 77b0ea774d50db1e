package upstream

import (
	"context"
	"net/http"
)

type ctxKey int

const (
	ctxHeaders ctxKey = iota
)

// WithHeaderOverrides attaches extra HTTP headers to the context for the
// client to apply on the outgoing call.
func WithHeaderOverrides(ctx context.Context, hdr http.Header) context.Context {
	if hdr == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxHeaders, hdr)
}

// HeaderOverrides reads headers previously attached with WithHeaderOverrides.
func HeaderOverrides(ctx context.Context) http.Header {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(ctxHeaders); v != nil {
		if h, ok := v.(http.Header); ok {
			return h
		}
	}
	return nil
}