package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/edgerpc/edgerpc"
)

// httpTransport issues each call as its own HTTP POST round trip, per
// spec.md §4.7 "request/response transport": a single-round-trip call
// fallback, implemented directly against net/http rather than through
// channel.Channel (see channel package doc, and SPEC_FULL.md §2.9) since it
// has no persistent connection to frame messages over.
type httpTransport struct {
	url     string
	client  *http.Client
	retries int
}

func newHTTPTransport(opts *Options) *httpTransport {
	return &httpTransport{
		url:     opts.fallbackURL(),
		client:  opts.httpClient(),
		retries: opts.fallbackMaxRetries(),
	}
}

// call posts req and decodes the response, retrying on network failure up
// to t.retries times (spec.md §4.7 "on network failure retry up to a
// configured limit").
func (t *httpTransport) call(ctx context.Context, req *edgerpc.Request) (*edgerpc.Response, error) {
	body, err := edgerpc.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		rsp, err := t.post(ctx, body)
		if err == nil {
			return rsp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &TransportError{Reason: fmt.Sprintf("fallback transport: %v", lastErr)}
}

// callBatch posts br as a batch request, retrying on network failure up to
// t.retries times, mirroring call.
func (t *httpTransport) callBatch(ctx context.Context, br *edgerpc.BatchRequest) (*edgerpc.BatchResponse, error) {
	body, err := edgerpc.EncodeBatchRequest(br)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		rsp, err := t.postBatch(ctx, body)
		if err == nil {
			return rsp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &TransportError{Reason: fmt.Sprintf("fallback transport: %v", lastErr)}
}

func (t *httpTransport) postBatch(ctx context.Context, body []byte) (*edgerpc.BatchResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRsp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRsp.Body.Close()

	raw, err := io.ReadAll(httpRsp.Body)
	if err != nil {
		return nil, err
	}

	br, err := edgerpc.DecodeBatchResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding batch response (status %d): %w", httpRsp.StatusCode, err)
	}
	return br, nil
}

func (t *httpTransport) post(ctx context.Context, body []byte) (*edgerpc.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpRsp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpRsp.Body.Close()

	raw, err := io.ReadAll(httpRsp.Body)
	if err != nil {
		return nil, err
	}

	rsp, err := edgerpc.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", httpRsp.StatusCode, err)
	}
	return rsp, nil
}
