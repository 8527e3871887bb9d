package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"signoff/internal/domain"
	"signoff/internal/engine"
)

type principalKey struct{}

// principalFrom returns the authenticated user stored by the auth
// middleware.
func principalFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(principalKey{}).(domain.User)
	return u, ok
}

// MintToken issues a short-lived HS256 bearer token for a user uid.
func MintToken(secret, userUID string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userUID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return tok.SignedString([]byte(secret))
}

func (s *Server) authMiddleware(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		user, ok := s.authenticate(ctx)
		if !ok {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "authentication required")
			return
		}
		next(huma.WithValue(ctx, principalKey{}, user))
	}
}

func (s *Server) authenticate(ctx huma.Context) (domain.User, bool) {
	if authz := ctx.Header("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		raw := strings.TrimPrefix(authz, "Bearer ")
		tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.secret), nil
		})
		if err != nil || !tok.Valid {
			return domain.User{}, false
		}
		claims := tok.Claims.(*jwt.RegisteredClaims)
		user, err := s.eng.Repo.GetUser(ctx.Context(), claims.Subject)
		if err != nil {
			return domain.User{}, false
		}
		return user, true
	}
	if key := ctx.Header("X-Api-Key"); key != "" {
		user, err := s.eng.Repo.GetUserByAPIKeyHash(ctx.Context(), engine.HashAPIKey(key))
		if err != nil {
			return domain.User{}, false
		}
		return user, true
	}
	return domain.User{}, false
}
