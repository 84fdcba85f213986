package httpclient

import (
	"context"
	"io"
)

// HTTPClientInterface is what consumers of this package depend on.
type HTTPClientInterface interface {
	DoRequest(ctx context.Context, opts RequestOptions) (*Response, error)
	StreamRequest(ctx context.Context, opts RequestOptions) (io.ReadCloser, error)
}

var _ HTTPClientInterface = &HTTPClient{}
