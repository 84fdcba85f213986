package tools

import (
	"net/http"
	"sync/atomic"
)

// credentialTransport sets the headers of one call on every request it carries and
// remembers whether the server answered 401 or 403.
type credentialTransport struct {
	base     http.RoundTripper
	headers  map[string]string
	rejected atomic.Int32
}

func newCredentialTransport(base http.RoundTripper, headers map[string]string) *credentialTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &credentialTransport{base: base, headers: headers}
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}
	rsp, err := t.base.RoundTrip(req)
	if err == nil && (rsp.StatusCode == http.StatusUnauthorized || rsp.StatusCode == http.StatusForbidden) {
		t.rejected.Store(int32(rsp.StatusCode))
	}
	return rsp, err
}

// rejectedStatus returns the 401 or 403 status seen, or zero.
func (t *credentialTransport) rejectedStatus() int {
	return int(t.rejected.Load())
}

func (t *credentialTransport) authenticated() bool {
	return t.headers["Authorization"] != ""
}
