package store

import (
	"errors"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/calebJoshwa/EduReuse/internal/util"
)

// JWTSessionStore issues and validates HS256 session tokens. It is the
// Redis-free session strategy for single-instance deployments; logout is
// handled by an in-process revocation list keyed on the token ID.
type JWTSessionStore struct {
	secret []byte
	ttl    time.Duration

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> token expiry
}

// NewJWTSessionStore builds a JWT-backed session store.
func NewJWTSessionStore(secret string, ttl time.Duration) *JWTSessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTSessionStore{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: make(map[string]time.Time),
	}
}

// NewSession signs a token carrying the user ID as subject.
func (s *JWTSessionStore) NewSession(userID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        util.NewID(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// GetUserIDByToken validates the token and returns its subject.
func (s *JWTSessionStore) GetUserIDByToken(token string) (string, bool, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", false, nil
	}
	if s.isRevoked(claims.ID) {
		return "", false, nil
	}
	if claims.Subject == "" {
		return "", false, nil
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until its natural expiry.
func (s *JWTSessionStore) DeleteSession(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		// Expired or malformed tokens are already unusable.
		return nil
	}
	expiry := time.Now().UTC().Add(s.ttl)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[claims.ID] = expiry
	s.purgeLocked()
	return nil
}

func (s *JWTSessionStore) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func (s *JWTSessionStore) isRevoked(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.revoked[jti]
	if !ok {
		return false
	}
	if time.Now().UTC().After(expiry) {
		delete(s.revoked, jti)
		return false
	}
	return true
}

func (s *JWTSessionStore) purgeLocked() {
	now := time.Now().UTC()
	for jti, expiry := range s.revoked {
		if now.After(expiry) {
			delete(s.revoked, jti)
		}
	}
}
