package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tcgemporium/authcore"
	"github.com/tcgemporium/authcore/jwt"
)

type fakeGate struct {
	claims   *jwt.Claims
	err      error
	gotToken string
	gotPath  string
}

func (f *fakeGate) Gate(_ context.Context, token, requestPath string) (*jwt.Claims, error) {
	f.gotToken = token
	f.gotPath = requestPath
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			t.Error("claims missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestGateReadsCookieFirst(t *testing.T) {
	gate := &fakeGate{claims: &jwt.Claims{Subject: "u-1", Purpose: jwt.PurposeAccess}}
	h := Gate(gate, "")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/private/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "cookie-token"})
	req.Header.Set("Authorization", "Bearer header-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if gate.gotToken != "cookie-token" {
		t.Fatalf("expected cookie token, got %q", gate.gotToken)
	}
	if gate.gotPath != "/api/v1/private/auth/me" {
		t.Fatalf("unexpected path %q", gate.gotPath)
	}
}

func TestGateFallsBackToBearer(t *testing.T) {
	gate := &fakeGate{claims: &jwt.Claims{Subject: "u-1", Purpose: jwt.PurposeAccess}}
	h := Gate(gate, "")(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || gate.gotToken != "header-token" {
		t.Fatalf("expected bearer fallback, got %d %q", rec.Code, gate.gotToken)
	}
}

func TestGateRejections(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		noToken  bool
		wantCode int
		wantBody string
	}{
		{name: "missing token", noToken: true, wantCode: http.StatusUnauthorized, wantBody: "unauthorized"},
		{name: "unauthenticated", err: authcore.ErrUnauthenticated, wantCode: http.StatusUnauthorized, wantBody: "unauthorized"},
		{name: "forbidden", err: authcore.ErrForbidden, wantCode: http.StatusForbidden, wantBody: "forbidden"},
		{name: "backend failure", err: authcore.ErrEngineNotReady, wantCode: http.StatusUnauthorized, wantBody: "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := &fakeGate{err: tt.err}
			h := Gate(gate, "")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("next handler must not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if !tt.noToken {
				req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "t"})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Fatalf("expected body %q, got %q", tt.wantBody, got)
			}
		})
	}
}

func TestRequirePurpose(t *testing.T) {
	h := RequirePurpose(jwt.PurposeAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		claims *jwt.Claims
		want   int
	}{
		{claims: nil, want: http.StatusUnauthorized},
		{claims: &jwt.Claims{Purpose: jwt.PurposeAccess}, want: http.StatusForbidden},
		{claims: &jwt.Claims{Purpose: jwt.PurposeAdmin}, want: http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/me", nil)
		if c.claims != nil {
			req = req.WithContext(WithClaims(req.Context(), c.claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("claims %+v: expected %d, got %d", c.claims, c.want, rec.Code)
		}
	}
}

func TestSetAndClearTokenCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetTokenCookie(rec, "tok", 3*time.Hour, CookieConfig{Secure: true})
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "auth_token" || c.Value != "tok" || c.Path != "/" {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie attributes not hardened: %+v", c)
	}
	if c.MaxAge != int((3 * time.Hour).Seconds()) {
		t.Fatalf("expected max-age of the token ttl, got %d", c.MaxAge)
	}

	rec = httptest.NewRecorder()
	ClearTokenCookie(rec, CookieConfig{})
	cleared := rec.Result().Cookies()[0]
	if cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected expired empty cookie, got %+v", cleared)
	}
}
