package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"studiopulse/pkg/auth"
)

func newAuthApp(t *testing.T, allowBodyToken bool) (*fiber.App, *auth.LocalJWTAuth) {
	t.Helper()
	jwtAuth, err := auth.NewLocalJWTAuth("test-secret-key")
	if err != nil {
		t.Fatal(err)
	}

	app := fiber.New()
	app.Post("/protected", LocalAuthMiddleware(jwtAuth, allowBodyToken), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": c.Locals("user_id")})
	})
	return app, jwtAuth
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	app, jwtAuth := newAuthApp(t, false)

	token, err := jwtAuth.GenerateToken("user-42", "u@example.com", "user", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/protected", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthAcceptsTokenInBody(t *testing.T) {
	app, jwtAuth := newAuthApp(t, true)

	token, err := jwtAuth.GenerateToken("user-42", "u@example.com", "user", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/protected", strings.NewReader(`{"token": "`+token+`", "events": []}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// The body fallback is opt-in per route; a surface without it must refuse a
// valid token that only rides in the body.
func TestAuthIgnoresBodyTokenWhenDisabled(t *testing.T) {
	app, jwtAuth := newAuthApp(t, false)

	token, err := jwtAuth.GenerateToken("user-42", "u@example.com", "user", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/protected", strings.NewReader(`{"token": "`+token+`", "events": []}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	app, _ := newAuthApp(t, false)

	req := httptest.NewRequest("POST", "/protected", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthRejectsGarbageToken(t *testing.T) {
	app, _ := newAuthApp(t, false)

	req := httptest.NewRequest("POST", "/protected", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer not.a.jwt")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	app, jwtAuth := newAuthApp(t, false)

	token, err := jwtAuth.GenerateToken("user-42", "u@example.com", "user", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest("POST", "/protected", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
