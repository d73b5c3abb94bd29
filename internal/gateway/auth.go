package gateway

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authenticate validates the upgrade request. With neither a static
// token nor a JWT secret configured the gateway is open.
func (s *Server) authenticate(r *http.Request) error {
	if s.cfg.AuthToken == "" && s.cfg.JWTSecret == "" {
		return nil
	}

	token := bearerToken(r)
	if token == "" {
		return fmt.Errorf("missing bearer token")
	}

	if s.cfg.AuthToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1 {
		return nil
	}

	if s.cfg.JWTSecret != "" {
		if err := s.verifyJWT(token); err == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid token")
}

func (s *Server) verifyJWT(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// bearerToken extracts the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token
// query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
