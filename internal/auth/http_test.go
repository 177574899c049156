// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers header and query token extraction, rejection, and pass-through mode

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func principalEcho() (http.Handler, **Principal) {
	var got *Principal
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &got
}

func TestBearerMiddleware_ValidHeader(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Principal{ID: "user-123"}, time.Hour)

	next, got := principalEcho()
	handler := BearerMiddleware(verifier, nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if *got == nil || (*got).ID != "user-123" {
		t.Errorf("principal = %+v, want user-123", *got)
	}
}

func TestBearerMiddleware_QueryToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, _ := verifier.Generate(Principal{ID: "browser"}, time.Hour)

	next, got := principalEcho()
	handler := BearerMiddleware(verifier, nil)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s/ws?access_token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if *got == nil || (*got).ID != "browser" {
		t.Errorf("principal = %+v, want browser", *got)
	}
}

func TestBearerMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, _ := verifier.Generate(Principal{ID: "p"}, -time.Hour)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{name: "missing header", header: "", wantMsg: "missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", wantMsg: "invalid authorization header format"},
		{name: "empty token", header: "Bearer ", wantMsg: "empty token"},
		{name: "bad token", header: "Bearer nope", wantMsg: "invalid token"},
		{name: "expired token", header: "Bearer " + expired, wantMsg: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, got := principalEcho()
			handler := BearerMiddleware(verifier, nil)(next)

			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantMsg)
			}
			if *got != nil {
				t.Error("next handler should not have run")
			}
		})
	}
}

func TestBearerMiddleware_NilVerifierPassesThrough(t *testing.T) {
	next, got := principalEcho()
	handler := BearerMiddleware(nil, nil)(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if *got != nil {
		t.Errorf("principal = %+v, want nil", *got)
	}
}
