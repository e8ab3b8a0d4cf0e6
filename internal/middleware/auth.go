package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/jwt"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/response"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	// IsTokenRevoked checks if a JWT token has been revoked/blacklisted
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// The token comes from the Authorization header or, for websocket upgrades
// that cannot set headers, from the token query parameter. On success it
// sets user_id (uuid.UUID) and username in the Gin context.
// revocationChecker may be nil.
func AuthMiddleware(jwtManager *jwt.JWTManager, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			abortWith(c, apperrors.UnauthorizedError("Authorization header required"))
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				abortWith(c, apperrors.ExpiredTokenError())
				return
			}
			abortWith(c, apperrors.InvalidTokenError("Invalid token"))
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), tokenString)
			switch {
			case err != nil:
				// Fail-open: signature and expiry already passed
				logger.FromContext(c.Request.Context()).Warn("Token revocation check unavailable",
					zap.String("user_id", claims.UserID.String()),
					zap.Error(err))
			case revoked:
				abortWith(c, apperrors.InvalidTokenError("Token revoked"))
				return
			}
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

func abortWith(c *gin.Context, err *apperrors.AppError) {
	response.Error(c, err.StatusCode, string(err.Code), err.Message)
	c.Abort()
}
