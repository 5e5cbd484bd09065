package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/models"
)

type contextKey string

const parentContextKey contextKey = "checkout_parent"

// Claims are the parent session claims issued by the platform. The subject is
// the parent id.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing bearer token")

// ParentAuth verifies the HS256 bearer token on every request and stores the
// authenticated parent in the request context. The raw token is kept so
// platform calls can be made on the parent's behalf.
func ParentAuth(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				unauthorized(w)
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Debug("rejected parent token", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w)
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				unauthorized(w)
				return
			}

			parent := models.Parent{ID: subject, Name: claims.Name, Email: claims.Email, Token: raw}
			next.ServeHTTP(w, r.WithContext(WithParent(r.Context(), parent)))
		})
	}
}

// WithParent returns a context carrying the authenticated parent.
func WithParent(ctx context.Context, parent models.Parent) context.Context {
	return context.WithValue(ctx, parentContextKey, parent)
}

// ParentFromContext returns the parent stored by ParentAuth.
func ParentFromContext(ctx context.Context) (models.Parent, bool) {
	parent, ok := ctx.Value(parentContextKey).(models.Parent)
	return parent, ok
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
