package directory

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"cardsync/internal/csync"
)

// stubHTTPClient returns a canned status or error for every request.
type stubHTTPClient struct {
	status int
	err    error
}

func (c *stubHTTPClient) Do(*http.Request) (*http.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &http.Response{
		StatusCode: c.status,
		Status:     fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func TestStatusClient_Do(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://dav.example.org/contacts/", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, csync.ErrNotAuthenticated},
		{"forbidden", http.StatusForbidden, csync.ErrNotAuthenticated},
		{"precondition failed", http.StatusPreconditionFailed, csync.ErrPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &statusClient{inner: &stubHTTPClient{status: tt.status}}
			if _, err := c.Do(req); !errors.Is(err, tt.wantErr) {
				t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("success passes through", func(t *testing.T) {
		c := &statusClient{inner: &stubHTTPClient{status: http.StatusOK}}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("other error statuses pass through", func(t *testing.T) {
		c := &statusClient{inner: &stubHTTPClient{status: http.StatusNotFound}}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("transport error passes through", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		c := &statusClient{inner: &stubHTTPClient{err: cause}}
		if _, err := c.Do(req); !errors.Is(err, cause) {
			t.Errorf("Do() error = %v, want %v", err, cause)
		}
	})
}

func TestMapDAVError(t *testing.T) {
	t.Run("passes sentinels through", func(t *testing.T) {
		for _, sentinel := range []error{csync.ErrNotAuthenticated, csync.ErrPreconditionFailed} {
			wrapped := fmt.Errorf("doing request: %w", sentinel)
			if err := mapDAVError("list members", wrapped); !errors.Is(err, sentinel) {
				t.Errorf("mapDAVError(%v) = %v, want the sentinel", wrapped, err)
			}
		}
	})

	t.Run("wraps other failures as transport errors", func(t *testing.T) {
		err := mapDAVError("fetch member", fmt.Errorf("connection reset"))
		var te *csync.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("mapDAVError() = %v, want *TransportError", err)
		}
		if te.Op != "fetch member" {
			t.Errorf("op = %q, want %q", te.Op, "fetch member")
		}
	})
}
