// Package middleware provides authentication, logging, tracing, metrics and
// throttling middleware for the HTTP surface.
package middleware

import (
	"errors"
	"strconv"
	"strings"

	"plaza/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Locals keys populated by the auth middleware.
const (
	LocalUserID   = "userID"
	LocalUserName = "userName"
	LocalIsAdmin  = "isAdmin"
)

// Identity is the caller resolved from a verified token.
type Identity struct {
	UserID      uint
	DisplayName string
	IsAdmin     bool
}

// Authenticator verifies HS256 tokens issued by the account service.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for the shared signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

var (
	errMissingSubject = errors.New("invalid token structure - missing subject")
	errSubjectType    = errors.New("invalid token subject type")
)

// ParseToken validates the token and extracts the caller identity.
func (a *Authenticator) ParseToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, jwt.ErrTokenInvalidClaims
	}

	// "sub" is the user id (RFC 7519 subject claim)
	subClaim, ok := claims["sub"]
	if !ok {
		return Identity{}, errMissingSubject
	}
	subStr, ok := subClaim.(string)
	if !ok {
		return Identity{}, errSubjectType
	}
	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return Identity{}, errSubjectType
	}

	identity := Identity{UserID: uint(userIDVal)}
	if name, ok := claims["name"].(string); ok {
		identity.DisplayName = strings.TrimSpace(name)
	}
	if admin, ok := claims["admin"].(bool); ok {
		identity.IsAdmin = admin
	}
	if identity.DisplayName == "" {
		identity.DisplayName = "user-" + subStr
	}
	return identity, nil
}

// AuthRequired is a middleware that enforces authentication for protected routes.
func (a *Authenticator) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Authorization header required"))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid authorization header format"))
		}

		identity, err := a.ParseToken(parts[1])
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

// WebSocketAuthRequired validates JWT tokens from the query string for WebSocket connections,
// falling back to the Authorization header.
func (a *Authenticator) WebSocketAuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if token == "" {
			parts := strings.Split(c.Get("Authorization"), " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Token required"))
			}
			token = parts[1]
		}

		identity, err := a.ParseToken(token)
		if err != nil {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("Invalid or expired token"))
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

// AdminRequired rejects callers whose token lacks the admin claim.
// It must run after AuthRequired.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isAdmin, _ := c.Locals(LocalIsAdmin).(bool); !isAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

// IdentityFromCtx returns the identity stored by the auth middleware.
func IdentityFromCtx(c *fiber.Ctx) (Identity, bool) {
	userID, ok := c.Locals(LocalUserID).(uint)
	if !ok || userID == 0 {
		return Identity{}, false
	}
	name, _ := c.Locals(LocalUserName).(string)
	isAdmin, _ := c.Locals(LocalIsAdmin).(bool)
	return Identity{UserID: userID, DisplayName: name, IsAdmin: isAdmin}, true
}

func setIdentity(c *fiber.Ctx, identity Identity) {
	c.Locals(LocalUserID, identity.UserID)
	c.Locals(LocalUserName, identity.DisplayName)
	c.Locals(LocalIsAdmin, identity.IsAdmin)
}
