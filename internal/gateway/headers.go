package gateway

import "net/http"

// forwardedHeaders are the request headers local clients may pass to the
// backend. Credentials are always set by the pipeline, never by the client.
var forwardedHeaders = map[string]bool{
	"Accept":          true,
	"Accept-Encoding": true,
	"Accept-Language": true,
	"Content-Type":    true,
	"Content-Length":  true,
	"X-Request-Id":    true,

	// W3C Trace Context so the gateway hop stays in the caller's trace.
	"Traceparent": true,
	"Tracestate":  true,
}

// headerFilter drops every request header not in forwardedHeaders before
// handing the request to the authenticated pipeline.
type headerFilter struct {
	base http.RoundTripper
}

// Compile-time check that headerFilter implements http.RoundTripper.
var _ http.RoundTripper = (*headerFilter)(nil)

func (f *headerFilter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header = make(http.Header, len(forwardedHeaders))
	for key, values := range req.Header {
		if forwardedHeaders[http.CanonicalHeaderKey(key)] {
			out.Header[key] = values
		}
	}
	return f.base.RoundTrip(out)
}
