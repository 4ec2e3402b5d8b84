package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aisio/internal/transport"
)

func TestAuthMiddleware(t *testing.T) {
	next := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	tests := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"no token configured", "", "", http.StatusNoContent},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized},
		{"valid", "secret", "Bearer secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/broadcast", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tt.token, next)(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestReadEmitRequest(t *testing.T) {
	srv := &apiServer{}

	tests := []struct {
		name     string
		body     string
		ok       bool
		wantArgs int
	}{
		{"no args", `{"event":"ping"}`, true, 0},
		{"null args", `{"event":"ping","args":null}`, true, 0},
		{"array args", `{"event":"move","args":[10,20.5,"x"]}`, true, 3},
		{"missing event", `{"args":[]}`, false, 0},
		{"scalar args", `{"event":"move","args":5}`, false, 0},
		{"object args", `{"event":"move","args":[{"a":1}]}`, false, 0},
		{"bad json", `{`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/emit", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			name, args, ok := srv.readEmitRequest(w, req)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v (body %s)", tt.ok, ok, w.Body.String())
			}
			if !ok {
				if w.Code != http.StatusBadRequest {
					t.Fatalf("expected 400, got %d", w.Code)
				}
				return
			}
			if name == "" || len(args) != tt.wantArgs {
				t.Fatalf("unexpected result %q %v", name, args)
			}
		})
	}
}

func TestEmitStatus(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("%w: x", ErrUnknownConnection): http.StatusNotFound,
		transport.ErrNotConnected:                 http.StatusConflict,
		ErrNotRunning:                             http.StatusConflict,
		errors.New("boom"):                        http.StatusBadGateway,
	}
	for err, want := range cases {
		if got := emitStatus(err); got != want {
			t.Fatalf("emitStatus(%v) = %d, want %d", err, got, want)
		}
	}
}
