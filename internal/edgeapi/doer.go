package edgeapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Doer executes one authenticated request against the control plane and
// returns the raw JSON response body. Implementations own authentication;
// callers never see credentials.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error)
}

// SignFunc decorates an outgoing request with authentication headers.
type SignFunc func(req *http.Request) error

// HTTPDoer is the production Doer over net/http. Authentication is supplied
// as a SignFunc so credential handling stays outside this package's logic.
type HTTPDoer struct {
	baseURL string
	sign    SignFunc
	client  *http.Client
}

// HTTPDoerOptions configures an HTTPDoer.
type HTTPDoerOptions struct {
	SkipTLSVerify bool
}

// NewHTTPDoer creates a Doer targeting the given base URL. sign may be nil
// for unauthenticated endpoints (tests).
func NewHTTPDoer(baseURL string, sign SignFunc, opts HTTPDoerOptions) (*HTTPDoer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("edgeapi: missing base URL")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &HTTPDoer{
		baseURL: strings.TrimRight(baseURL, "/"),
		sign:    sign,
		client:  &http.Client{Transport: transport},
	}, nil
}

func (d *HTTPDoer) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("edgeapi: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := d.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("edgeapi: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if d.sign != nil {
		if err := d.sign(req); err != nil {
			return nil, fmt.Errorf("edgeapi: sign request: %w", err)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: method + " " + path, Err: err}
	}
	if err := statusToError(method+" "+path, resp.StatusCode, data); err != nil {
		return nil, err
	}
	return data, nil
}

// statusToError maps an HTTP status to the package error taxonomy.
func statusToError(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("status %d: %s", status, errorDetail(body))}
	default:
		return &ValidationError{Op: op, Detail: fmt.Sprintf("status %d: %s", status, errorDetail(body))}
	}
}

// errorDetail pulls the human-readable detail out of a control-plane error
// body, falling back to the raw body.
func errorDetail(body []byte) string {
	var parsed struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Title != "" {
			return parsed.Title
		}
	}
	return strings.TrimSpace(string(body))
}
