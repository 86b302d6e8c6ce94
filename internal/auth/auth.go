// Package auth resolves the caller of a request into a models.Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/supabase-community/supabase-go"

	"github.com/digkill/BananaStudio/internal/models"
)

// GuestHeader carries the browser-generated guest identifier.
const GuestHeader = "X-Guest-Id"

var ErrInvalidToken = errors.New("invalid session token")

type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// SupabaseVerifier validates access tokens against Supabase Auth.
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(url, anonKey string) (*SupabaseVerifier, error) {
	client, err := supabase.NewClient(url, anonKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseVerifier{client: client}, nil
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (models.Identity, error) {
	if err := ctx.Err(); err != nil {
		return models.Identity{}, err
	}
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if user == nil {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: user.ID.String(), Email: user.Email}, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware, or the zero Identity.
func FromContext(ctx context.Context) models.Identity {
	id, _ := ctx.Value(ctxKey{}).(models.Identity)
	return id
}

// Middleware attaches the caller's identity. A missing or rejected bearer token
// leaves the request anonymous; handlers decide whether that is acceptable.
func Middleware(verifier Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id models.Identity
			if token := bearerToken(r); token != "" && verifier != nil {
				verified, err := verifier.Verify(r.Context(), token)
				if err != nil {
					log.Debug("session rejected", "err", err)
				} else {
					id = verified
				}
			}
			id.GuestID = strings.TrimSpace(r.Header.Get(GuestHeader))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
