package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func invoke(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, handler(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ID:    42,
		Role:  "admin",
		Email: "staff@example.com",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := JWTMiddleware(testSecret)(func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != 42 {
			t.Errorf("expected user id 42, got %d", UserIDFromContext(ctx))
		}
		if RoleFromContext(ctx) != "admin" {
			t.Errorf("expected role admin, got %s", RoleFromContext(ctx))
		}
		if EmailFromContext(ctx) != "staff@example.com" {
			t.Errorf("unexpected email %s", EmailFromContext(ctx))
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := invoke(JWTMiddleware(testSecret), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_BadScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	_, err := invoke(JWTMiddleware(testSecret), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	tok := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		ID:   1,
		Role: "admin",
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	_, err := invoke(JWTMiddleware(testSecret), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %v", err)
	}
}

func TestRequireRole(t *testing.T) {
	tok := signToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ID:   7,
		Role: "staff",
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	chain := JWTMiddleware(testSecret)(RequireRole("admin")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	err := chain(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403 for disallowed role, got %v", err)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	chain = JWTMiddleware(testSecret)(RequireRole("admin", "staff")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	if err := chain(c); err != nil {
		t.Errorf("unexpected error for allowed role: %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := DevAuthMiddleware()(func(c echo.Context) error {
		if RoleFromContext(c.Request().Context()) != "admin" {
			t.Error("expected admin role in dev mode")
		}
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
