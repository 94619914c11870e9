/**
 * @description
 * Authentication middleware for the HTTP router. Cleaner and company routes
 * carry an HS256 bearer token; internal routes carry a shared API key.
 *
 * @notes
 * - The token subject is the cleaner id for role "cleaner". Company tokens
 *   carry the company id in `company_id` and fall back to the subject.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles accepted in the `role` claim.
const (
	RoleCleaner = "cleaner"
	RoleCompany = "company"
)

// PrincipalContextKey is a custom type for the context key to avoid collisions.
type PrincipalContextKey string

const principalKey PrincipalContextKey = "principal"

// Principal is the authenticated caller.
type Principal struct {
	Role      string
	SubjectID uuid.UUID
	CompanyID uuid.UUID
}

// Claims is the token payload.
type Claims struct {
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and requires the given role.
func AuthMiddleware(secret []byte, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}
			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			principal, err := parseToken(secret, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			if principal.Role != role {
				writeError(w, http.StatusForbidden, "Insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseToken(secret []byte, tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("invalid subject: %w", err)
	}
	p := Principal{Role: claims.Role, SubjectID: subject, CompanyID: subject}
	if claims.CompanyID != "" {
		if p.CompanyID, err = uuid.Parse(claims.CompanyID); err != nil {
			return Principal{}, fmt.Errorf("invalid company_id: %w", err)
		}
	}
	return p, nil
}

// GetPrincipal retrieves the authenticated caller from the request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
// An empty key rejects every request.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided != requiredKey {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
