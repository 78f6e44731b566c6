package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracingTransport wraps an http.RoundTripper so every outbound call (LLM
// requests in particular) gets a span, without pulling in the otelhttp
// contrib module.
type tracingTransport struct {
	base http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := otel.Tracer("rewind/httpclient").Start(req.Context(), req.Method+" "+req.URL.Host,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
	}
	return resp, err
}

// NewHTTPClient returns an http.Client instrumented with a tracing
// RoundTripper wrapping base's transport (or http.DefaultTransport).
func NewHTTPClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = &tracingTransport{base: rt}
	return base
}

// headerTransport injects a fixed set of headers into every request that
// doesn't already set them.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

// WithHeaders returns a shallow copy of base with a transport that injects
// headers into every outbound request, without overwriting headers the
// caller already set.
func WithHeaders(base *http.Client, headers map[string]string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	clone := *base
	clone.Transport = &headerTransport{base: rt, headers: headers}
	return &clone
}
