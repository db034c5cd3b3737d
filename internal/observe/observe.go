// Package observe bundles structured logging and tracing for the
// engine.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("resonance")

// Observer handles logging and tracing.
type Observer struct {
	log *bolt.Logger
}

// New creates an Observer with console output. If verbose is false,
// only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewConsoleHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// NewJSON creates an Observer with JSON output. If verbose is false,
// only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	l := bolt.New(bolt.NewJSONHandler(out))
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Nop returns an Observer that discards everything. Constructors use
// it when the caller passes nil.
func Nop() *Observer {
	return &Observer{log: bolt.New(bolt.NewJSONHandler(io.Discard))}
}

// Log returns the underlying logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts a new OTel span.
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes any buffered output (placeholder).
func (o *Observer) Close() error {
	return nil
}

// OrNop returns o, or a discarding observer when o is nil.
func OrNop(o *Observer) *Observer {
	if o == nil {
		return Nop()
	}
	return o
}
