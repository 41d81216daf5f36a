// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"context"

	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Every record gets its own span ID so that all the log events emitted
// while queueing, executing and delivering it can be correlated, even
// across the worker and completion goroutines.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

type spanIDKey struct{}

// ContextWithSpanID returns a context carrying the given span ID.
//
// Workers attach the record span ID to the context passed to the
// [TransportConn] so that transport log events can be correlated.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey{}, spanID)
}

// SpanIDFromContext returns the span ID attached by [ContextWithSpanID],
// or the empty string.
func SpanIDFromContext(ctx context.Context) string {
	spanID, _ := ctx.Value(spanIDKey{}).(string)
	return spanID
}
