package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/jwtauth/v5"

	"github.com/getzep/clipserve/config"
	"github.com/getzep/clipserve/pkg/models"
	"github.com/getzep/clipserve/pkg/server/handlertools"
)

const JwtAlg = "HS256"

var ErrNoSecret = errors.New("auth secret not set. ensure CLIP_AUTH_SECRET is set in your environment")

// GenerateJWT generates a JWT token signed with the configured auth secret.
func GenerateJWT(cfg *config.Config) (string, error) {
	tokenAuth, err := newJWTAuth(cfg)
	if err != nil {
		return "", err
	}

	_, tokenString, err := tokenAuth.Encode(nil)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// JWTVerifier returns middleware that extracts and verifies bearer tokens. It must be
// followed by Authenticator to reject requests without a valid token.
func JWTVerifier(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	tokenAuth, err := newJWTAuth(cfg)
	if err != nil {
		return nil, err
	}
	return jwtauth.Verifier(tokenAuth), nil
}

// Authenticator rejects requests whose token JWTVerifier could not verify. Rejections use
// the same JSON error body as every other API failure.
func Authenticator(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err == nil && token == nil {
			err = jwtauth.ErrNoTokenFound
		}
		if err != nil {
			handlertools.RenderJSON(w, http.StatusUnauthorized, models.ErrorResponse{
				Success: false,
				Detail:  fmt.Sprintf("unauthorized: %v", err),
			})
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}

func newJWTAuth(cfg *config.Config) (*jwtauth.JWTAuth, error) {
	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return jwtauth.New(JwtAlg, secret, nil), nil
}
