package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a bearer token fails verification.
var ErrInvalidToken = errors.New("server: invalid token")

type facultyClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// issueToken signs a faculty token valid for the configured TTL.
func (s *Server) issueToken(username string) (string, time.Time, error) {
	expires := time.Now().Add(s.cfg.Server.TokenTTL)
	claims := facultyClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Server.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (s *Server) verifyToken(tokenString string) (string, error) {
	claims := &facultyClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.Server.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}

// authRequired guards the faculty API. Tokens arrive as
// "Authorization: Bearer <token>".
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		username, err := s.verifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("username", username)
		c.Next()
	}
}

func (s *Server) checkCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Server.FacultyUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Server.FacultyPassword)) == 1
	return userOK && passOK
}
