package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/kimken5/nursery-auth/internal/identity"
	"github.com/kimken5/nursery-auth/internal/token"
)

type contextKey struct{}

var principalKey contextKey

// Authorize validates a bearer token and puts the resolved Principal on the
// request context. It is a pure function of the token: lockout and rate
// limiting are login-time concerns and never run here.
func Authorize(issuer *token.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := resolvePrincipal(issuer, r)
		if !ok {
			writeError(w, http.StatusUnauthorized, CodeSessionExpired, "authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	})
}

// RequireFacility additionally restricts the route to staff/admin
// principals; guardian tokens are rejected.
func RequireFacility(issuer *token.Issuer, next http.Handler) http.Handler {
	return Authorize(issuer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if principal.Kind != identity.KindFacility {
			writeError(w, http.StatusForbidden, CodeInvalidCredential, "insufficient privileges")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// PrincipalFromContext returns the principal resolved by Authorize.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

func resolvePrincipal(issuer *token.Issuer, r *http.Request) (Principal, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Principal{}, false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, false
	}

	claims, err := issuer.VerifyAccessToken(strings.TrimSpace(parts[1]))
	if err != nil {
		return Principal{}, false
	}

	return Principal{
		IdentityID: claims.Subject,
		Kind:       claims.Kind,
		TenantID:   claims.TenantID,
	}, true
}
