package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"polymarket-copybot/config"
)

const (
	realm       = `Basic realm="Polymarket Copybot"`
	tokenIssuer = "polymarket-copybot"
	maxLimit    = 10000
)

// Auth protects the API with HTTP Basic credentials and/or HS256 bearer
// tokens. With neither configured every request passes.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	basicEnabled := cfg.Username != "" && cfg.Password != ""
	bearerEnabled := cfg.JWTSecret != ""

	return func(c *gin.Context) {
		if !basicEnabled && !bearerEnabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if bearerEnabled && strings.HasPrefix(header, "Bearer ") {
			claims, err := ParseToken(cfg.JWTSecret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			c.Set("subject", claims.Subject)
			c.Next()
			return
		}

		if basicEnabled {
			user, pass, hasAuth := c.Request.BasicAuth()
			if !hasAuth {
				c.Header("WWW-Authenticate", realm)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
				return
			}
			// Constant-time comparison to avoid leaking credential prefixes
			usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.Username)) == 1
			passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
			if !usernameMatch || !passwordMatch {
				c.Header("WWW-Authenticate", realm)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.Set("subject", user)
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
	}
}

// IssueToken signs an HS256 token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token issued by IssueToken.
func ParseToken(secret, raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateQueryParams validates common query parameters
func ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		if limitStr := c.Query("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 1 || limit > maxLimit {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("Invalid limit parameter. Must be a positive integer between 1 and %d", maxLimit),
				})
				return
			}
		}
		c.Next()
	}
}

// RequestLogger logs each request through logrus.
func RequestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Debug("HTTP request")
	}
}
