package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const UserIDKey = "user_id"

// TokenVerifier resolves an access token to a user id remotely.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// AuthMiddleware validates Supabase access tokens. With a JWT secret the
// HS256 signature is checked locally; otherwise verifier is asked.
func AuthMiddleware(jwtSecret string, verifier TokenVerifier, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("component", "auth").Logger()
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "missing authorization header", "")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			unauthorized(c, "invalid authorization header format", "")
			return
		}

		tokenString := strings.TrimSpace(parts[1])
		if tokenString == "" {
			unauthorized(c, "empty token", "")
			return
		}
		if strings.Count(tokenString, ".") != 2 {
			unauthorized(c, "invalid token format", "JWT token must have 3 parts separated by dots")
			return
		}

		var (
			userID string
			err    error
		)
		switch {
		case jwtSecret != "":
			userID, err = verifyHS256(tokenString, jwtSecret)
		case verifier != nil:
			userID, err = verifier.VerifyToken(tokenString)
		default:
			err = errors.New("no token verification configured")
		}
		if err != nil {
			logger.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			unauthorized(c, "invalid token", tokenMessage(err))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func verifyHS256(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Supabase uses HS256 (HMAC) with the project JWT secret
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("missing user id in token")
	}
	return sub, nil
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	}
	return err.Error()
}

func unauthorized(c *gin.Context, errMsg, message string) {
	body := gin.H{"error": errMsg}
	if message != "" {
		body["message"] = message
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}

// UserID returns the authenticated user id set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
