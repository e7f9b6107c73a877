// Package tracing provides lightweight request tracing across the
// shell and its supervised backend.
//
// Trace context propagates via the X-Trace-ID and X-Span-ID headers:
// the renderer may open a trace, the shell continues it, and requests
// forwarded to the backend carry it onward. Spans are emitted through
// the structured log rather than an external collector; a desktop
// shell has no tracing infrastructure to ship to.
package tracing
