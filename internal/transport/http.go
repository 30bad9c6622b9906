package transport

import (
	"context"
	"io"
	"net/http"
	"time"
)

// maxBody caps how much of a response body is read.
const maxBody = 1 << 20

// Response is the part of an HTTP response bloc cares about.
type Response struct {
	StatusCode int
	Body       []byte
}

// HTTP issues requests with a shared http.Client. Deadlines come from the
// request context.
type HTTP struct {
	hc *http.Client
}

func NewHTTP(hc *http.Client) *HTTP {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{hc: hc}
}

func (t *HTTP) Do(ctx context.Context, method, url string, header http.Header) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Response{}, err
	}
	for k, vv := range header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, err
	}
	return Response{StatusCode: resp.StatusCode, Body: body}, nil
}
