package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthvoice/retrieval/config"
)

var testSecret = []byte("test-secret")

func runMiddleware(t *testing.T, decorate func(*http.Request)) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	handler := EchoAuthMiddleware(testSecret)(func(c echo.Context) error {
		owner, _ := c.Get("owner_id").(string)
		fromCtx, ok := OwnerFromContext(c.Request().Context())
		if !ok || fromCtx != owner {
			t.Fatalf("request context owner %q does not match echo owner %q", fromCtx, owner)
		}
		return c.String(http.StatusOK, owner)
	})
	return rec, handler(ctx)
}

func TestAuthMiddlewareBearerHeader(t *testing.T) {
	tok, err := SignJWT("owner-42", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, err := runMiddleware(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "owner-42" {
		t.Fatalf("expected owner-42 got %q", rec.Body.String())
	}
}

func TestAuthMiddlewareCookie(t *testing.T) {
	tok, err := SignJWT("owner-7", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, err := runMiddleware(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "auth", Value: tok})
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "owner-7" {
		t.Fatalf("expected owner-7 got %q", rec.Body.String())
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	_, err := runMiddleware(t, nil)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %v", err)
	}
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	tok, err := SignJWT("owner-1", testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = runMiddleware(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %v", err)
	}
}

func TestAuthMiddlewareWrongSecret(t *testing.T) {
	tok, err := SignJWT("owner-1", []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	_, err = runMiddleware(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tok)
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %v", err)
	}
}

func TestLoadJWTSecretPreference(t *testing.T) {
	cfg := &config.Config{}
	if _, err := LoadJWTSecret(cfg); err == nil {
		t.Fatalf("expected error for unset secret")
	}

	cfg.General.JWTSecret = "general"
	secret, err := LoadJWTSecret(cfg)
	if err != nil || string(secret) != "general" {
		t.Fatalf("expected general secret, got %q err %v", secret, err)
	}

	cfg.Server.JWTSecret = "server"
	secret, err = LoadJWTSecret(cfg)
	if err != nil || string(secret) != "server" {
		t.Fatalf("server.jwt_secret must take precedence, got %q err %v", secret, err)
	}
}
