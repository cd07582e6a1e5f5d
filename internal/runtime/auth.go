package runtime

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// AdminGuard requires a bearer token matching the bcrypt hash. An empty hash
// leaves the routes open.
func AdminGuard(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if hash == "" {
			return next
		}
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}

// HashAdminToken returns the bcrypt hash to store in server.admin_token_hash.
func HashAdminToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(b), err
}

func extractToken(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return c.Request().Header.Get("X-Admin-Token")
}
