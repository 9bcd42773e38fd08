package internal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const maxErrorBodyBytes = 512

// statusTransport turns every response with status >= 400 into an
// *UpstreamStatusError so the adapters above it never decode error bodies.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil, &UpstreamStatusError{
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(body)),
	}
}

// NewHTTPClient returns an http.Client whose transport reports upstream
// status failures as *UpstreamStatusError. A nil base uses http.DefaultTransport.
func NewHTTPClient(timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &statusTransport{base: base},
	}
}

// ClassifyError maps a raw error from an upstream call into the taxonomy.
// Errors already in the taxonomy are returned with op filled in.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var status *UpstreamStatusError
	if stderrors.As(err, &status) {
		classified := *status
		classified.Op = op
		return &classified
	}
	var r retryable
	if stderrors.As(err, &r) {
		return err
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return &DeserializationError{Op: op, Err: err}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err, Timeout: true}
	}
	if stderrors.Is(err, context.Canceled) {
		return &NetworkError{Op: op, Err: err}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return &NetworkError{Op: op, Err: err, Timeout: true}
	}
	return &NetworkError{Op: op, Err: err}
}
