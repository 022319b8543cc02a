package edgeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestNewHTTPDoerRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPDoer("", nil, HTTPDoerOptions{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}

func TestHTTPDoerStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"not found", http.StatusNotFound, `{}`, IsNotFound},
		{"conflict", http.StatusConflict, `{}`, IsConflict},
		{"bad request", http.StatusBadRequest, `{"detail":"invalid ttl"}`, IsValidation},
		{"server error", http.StatusInternalServerError, `{}`, IsTransient},
		{"bad gateway", http.StatusBadGateway, `{}`, IsTransient},
		{"rate limited", http.StatusTooManyRequests, `{}`, IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			doer, err := NewHTTPDoer(srv.URL, nil, HTTPDoerOptions{})
			if err != nil {
				t.Fatal(err)
			}
			_, err = doer.Do(context.Background(), http.MethodGet, "/zones/example.com/status", nil, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("status %d mapped to wrong error class: %v", tt.status, err)
			}
		})
	}
}

func TestHTTPDoerNetworkErrorIsTransient(t *testing.T) {
	// Nothing listens here.
	doer, err := NewHTTPDoer("http://127.0.0.1:1", nil, HTTPDoerOptions{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = doer.Do(context.Background(), http.MethodGet, "/zones", nil, nil)
	if !IsTransient(err) {
		t.Fatalf("expected a transient error, got %v", err)
	}
}

func TestHTTPDoerSignsAndEncodes(t *testing.T) {
	var gotAuth, gotPath, gotQuery, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	sign := func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer token123")
		return nil
	}
	doer, err := NewHTTPDoer(srv.URL, sign, HTTPDoerOptions{})
	if err != nil {
		t.Fatal(err)
	}

	query := url.Values{"zone": []string{"example.com"}}
	body := map[string]string{"comment": "hello"}
	data, err := doer.Do(context.Background(), http.MethodPost, "/changelists", query, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected response body: %s", data)
	}
	if gotAuth != "Bearer token123" {
		t.Errorf("request not signed: %q", gotAuth)
	}
	if gotPath != "/changelists" {
		t.Errorf("unexpected path: %q", gotPath)
	}
	if gotQuery != "zone=example.com" {
		t.Errorf("unexpected query: %q", gotQuery)
	}
	if gotContentType != "application/json" {
		t.Errorf("unexpected content type: %q", gotContentType)
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"title":"Bad Request","detail":"ttl out of range"}`, "ttl out of range"},
		{`{"title":"Bad Request"}`, "Bad Request"},
		{`plain text`, "plain text"},
	}
	for _, tt := range tests {
		if got := errorDetail([]byte(tt.body)); got != tt.want {
			t.Errorf("errorDetail(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
