package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthContextKey = "admin_subject"
)

var jwtSecret string

// Claims represents JWT claims for the admin API
type Claims struct {
	Subject string `json:"sub_name"`
	jwt.RegisteredClaims
}

// SetJWTSecret sets the JWT secret for the middleware
func SetJWTSecret(secret string) {
	jwtSecret = secret
}

// JWTAuth middleware validates JWT tokens on admin endpoints
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		// Parse and validate token
		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			return []byte(jwtSecret), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			c.Abort()
			return
		}

		c.Set(AuthContextKey, claims.Subject)
		c.Next()
	}
}

// GenerateToken generates a JWT token for an admin subject
func GenerateToken(subject string, expiresIn time.Duration) (string, error) {
	claims := Claims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// GetSubject retrieves the authenticated admin subject from the context
func GetSubject(c *gin.Context) (string, bool) {
	subject, exists := c.Get(AuthContextKey)
	if !exists {
		return "", false
	}

	subjectStr, ok := subject.(string)
	return subjectStr, ok
}
