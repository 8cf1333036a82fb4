package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/dropline-backend/api/responses"
	pkgAuth "github.com/angelmondragon/dropline-backend/pkg/auth"
	"github.com/angelmondragon/dropline-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/dropline-backend/pkg/errors"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
)

// Auth requires a valid access token and stores the caller's Identity on the request.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			id := Identity{
				UserID: claims.UserID.String(),
				Role:   string(claims.Role),
				Tier:   string(claims.Tier),
			}
			ctx := WithIdentity(r.Context(), id)
			if logg != nil {
				ctx = logg.WithUserID(ctx, id.UserID)
				ctx = logg.WithField(ctx, "actor_role", id.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <token>" in any case, or a bare token.
func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, _ := strings.Cut(raw, " ")
	if strings.EqualFold(scheme, "bearer") {
		raw = strings.TrimSpace(rest)
	}
	return raw, raw != ""
}
