package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sidequest/server/cache"
	"github.com/sidequest/server/config"
)

const cacheTimeout = 2 * time.Second

var (
	ErrMissingToken   = errors.New("missing token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrSessionExpired = errors.New("session expired")
	ErrBanned         = errors.New("account banned")
)

// SessionKey is the cache key holding a live session for token.
func SessionKey(token string) string { return "session:" + token }

// BannedKey is the cache key marking a banned user.
func BannedKey(userID int64) string { return "banned:" + strconv.FormatInt(userID, 10) }

// Sessions ties signed tokens to cache entries. A token is accepted only
// while its session key exists and its user carries no ban marker, so
// logout and bans take effect before the token expires.
type Sessions struct {
	secret string
	ttl    time.Duration
	cache  cache.Cache
}

func NewSessions(sec config.SecurityConfig, c cache.Cache) *Sessions {
	return &Sessions{secret: sec.JWTSecret, ttl: sec.JWTTTLH, cache: c}
}

// Issue signs a token for the user and records its session.
func (s *Sessions) Issue(ctx context.Context, userID int64, username string) (string, error) {
	token, err := GenerateToken(userID, username, s.secret, s.ttl)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, SessionKey(token), strconv.FormatInt(userID, 10), s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Verify returns the claims of a live session or one of ErrMissingToken,
// ErrInvalidToken, ErrSessionExpired and ErrBanned.
func (s *Sessions) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseToken(token, s.secret)
	if err != nil {
		return nil, ErrInvalidToken
	}
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if ok, err := s.cache.Exists(ctx, SessionKey(token)); err != nil || !ok {
		return nil, ErrSessionExpired
	}
	if banned, _ := s.cache.Exists(ctx, BannedKey(claims.UserID)); banned {
		return nil, ErrBanned
	}
	return claims, nil
}

// Revoke ends the session behind token. Unknown tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	return s.cache.Del(ctx, SessionKey(token))
}

// SetBanned adds or clears the ban marker for userID.
func (s *Sessions) SetBanned(ctx context.Context, userID int64, banned bool) error {
	ctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if banned {
		return s.cache.Set(ctx, BannedKey(userID), "1", 0)
	}
	return s.cache.Del(ctx, BannedKey(userID))
}
