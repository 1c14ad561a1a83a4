package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/coreybb/datapusher/models"
	"github.com/coreybb/datapusher/webutil"
)

const (
	DefaultForwardTimeout = 10 * time.Second
	userAgent             = "datapusher/1.0"
	maxResponseBody       = 1024
)

// Forwarder delivers a payload to a single destination.
// Implement this to change how outbound requests are made.
type Forwarder interface {
	Forward(ctx context.Context, dest models.Destination, payload *Payload) Result
}

// Result describes one delivery attempt.
type Result struct {
	StatusCode int
	Response   string
	Latency    time.Duration
	Err        error
}

// Failed reports whether the attempt errored or the destination answered >= 400.
func (r Result) Failed() bool {
	return r.Err != nil || r.StatusCode >= http.StatusBadRequest
}

// HTTPForwarder issues one outbound HTTP request per destination.
type HTTPForwarder struct {
	client *http.Client
}

func NewHTTPForwarder(timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = DefaultForwardTimeout
	}
	return &HTTPForwarder{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPForwarder) Forward(ctx context.Context, dest models.Destination, payload *Payload) Result {
	req, err := buildRequest(ctx, dest, payload)
	if err != nil {
		return Result{Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{Err: fmt.Errorf("request to %s failed: %w", dest.URL, err), Latency: latency}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	return Result{
		StatusCode: resp.StatusCode,
		Response:   string(body),
		Latency:    latency,
	}
}

// buildRequest sends the payload as query parameters for GET destinations and
// as a JSON body otherwise. Destination headers are applied last, keeping
// their configured key casing.
func buildRequest(ctx context.Context, dest models.Destination, payload *Payload) (*http.Request, error) {
	var (
		req *http.Request
		err error
	)
	if dest.IsGet() {
		target, parseErr := url.Parse(dest.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid destination URL %q: %w", dest.URL, parseErr)
		}
		if payload.IsObject() {
			query := target.Query()
			for key, values := range payload.QueryValues() {
				for _, v := range values {
					query.Add(key, v)
				}
			}
			target.RawQuery = query.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, strings.ToUpper(dest.HTTPMethod), dest.URL, bytes.NewReader(payload.Bytes()))
		if err == nil {
			req.Header.Set(webutil.HeaderContentType, webutil.ContentTypeJSON)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", dest.URL, err)
	}

	req.Header.Set("User-Agent", userAgent)
	for key, value := range dest.Headers {
		if textproto.CanonicalMIMEHeaderKey(key) == "Host" {
			req.Host = value
			continue
		}
		req.Header.Del(key)
		req.Header[key] = []string{value}
	}
	return req, nil
}
