package middleware

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"studiopulse/pkg/auth"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
)

// Verified tokens are cached briefly so a chatty client does not pay the
// parse+HMAC cost on every batch. TTL stays well under token expiry.
var verifiedTokens = gocache.New(2*time.Minute, 5*time.Minute)

// LocalAuthMiddleware verifies local JWT tokens.
// Supports the Authorization header and a token query parameter. When
// allowBodyToken is set it additionally reads a top-level token field from
// the JSON body, for legacy clients that cannot set headers from the capture
// path; only the generic telemetry surface gets that fallback.
func LocalAuthMiddleware(jwtAuth *auth.LocalJWTAuth, allowBodyToken bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip auth if JWT secret is not configured (development mode ONLY)
		environment := os.Getenv("ENVIRONMENT")

		if jwtAuth == nil {
			// CRITICAL: Never allow auth bypass in production
			if environment == "production" {
				log.Fatal("❌ CRITICAL SECURITY ERROR: JWT auth not configured in production environment. Authentication is required.")
			}

			// Only allow bypass in development/testing
			if environment != "development" && environment != "testing" && environment != "" {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Authentication service unavailable",
				})
			}

			log.Println("⚠️  Auth skipped: JWT not configured (development mode)")
			c.Locals("user_id", "dev-user")
			return c.Next()
		}

		token := tokenFromRequest(c, allowBodyToken)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing or invalid authorization token",
			})
		}

		if cached, found := verifiedTokens.Get(token); found {
			user := cached.(*auth.User)
			c.Locals("user_id", user.ID)
			c.Locals("user_role", user.Role)
			return c.Next()
		}

		user, err := jwtAuth.VerifyAccessToken(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		verifiedTokens.Set(token, user, gocache.DefaultExpiration)
		c.Locals("user_id", user.ID)
		c.Locals("user_role", user.Role)
		return c.Next()
	}
}

// tokenFromRequest tries the Authorization header, then the token query
// parameter, then (when enabled) a top-level "token" field in the JSON body.
func tokenFromRequest(c *fiber.Ctx, allowBodyToken bool) string {
	if authHeader := c.Get("Authorization"); authHeader != "" {
		if token, err := auth.ExtractToken(authHeader); err == nil {
			return token
		}
	}

	if token := c.Query("token"); token != "" {
		return token
	}

	if !allowBodyToken {
		return ""
	}

	// Peek the raw body rather than BodyParser so handlers still see the
	// full payload.
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(c.Body(), &body); err == nil {
		return body.Token
	}
	return ""
}
