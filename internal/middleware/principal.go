package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jengzang/records-live-go/pkg/response"
)

// PrincipalKey is the gin context key holding the authenticated principal.
const PrincipalKey = "principalId"

// PrincipalHeader carries the principal when a trusted proxy has already
// authenticated the caller.
const PrincipalHeader = "X-Principal-ID"

// PrincipalConfig controls how callers are identified.
type PrincipalConfig struct {
	// JWTSecret verifies HS256 bearer tokens; the subject is the principal.
	JWTSecret string
	// TrustHeader accepts PrincipalHeader when no token is presented.
	TrustHeader bool
}

var errNoSubject = errors.New("token has no subject")

// Principal resolves the caller from a bearer token, a token query
// parameter (browsers cannot set headers on websocket upgrades) or a
// trusted header. An invalid token is rejected outright.
func Principal(cfg PrincipalConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}

		switch {
		case token != "" && cfg.JWTSecret != "":
			subject, err := ParseSubject(token, cfg.JWTSecret)
			if err != nil {
				response.Unauthorized(c, "invalid token")
				return
			}
			c.Set(PrincipalKey, subject)
		case cfg.TrustHeader:
			if p := strings.TrimSpace(c.GetHeader(PrincipalHeader)); p != "" {
				c.Set(PrincipalKey, p)
			}
		}
		c.Next()
	}
}

// RequirePrincipal rejects requests that were not authenticated.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalID(c) == "" {
			response.Unauthorized(c, "authentication required")
			return
		}
		c.Next()
	}
}

// PrincipalID returns the authenticated principal or "".
func PrincipalID(c *gin.Context) string {
	return c.GetString(PrincipalKey)
}

// ParseSubject verifies an HS256 token and returns its subject claim.
func ParseSubject(token, secret string) (string, error) {
	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", errNoSubject
	}
	return subject, nil
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
