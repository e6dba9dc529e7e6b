// Package middleware provides HTTP middleware for the GovMatch API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/profile"
)

// Context keys for request-scoped identity values.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey contextKey = "tenant_id"
	// CompanyIDKey is the context key for the company ID.
	CompanyIDKey contextKey = "company_id"
)

// Claims is the JWT payload the API trusts. Tenant and company ride in
// custom claims issued by the identity provider.
type Claims struct {
	TenantID  string `json:"custom:tenant_id"`
	CompanyID string `json:"custom:company_id"`
	jwt.RegisteredClaims
}

// Auth returns middleware that resolves the caller's identity. With auth
// disabled it falls back to X-Tenant-ID / X-Company-ID / X-User-ID headers
// so local development works without an identity provider.
func Auth(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				tenantID := headerOrQuery(r, "X-Tenant-ID", "tenant_id")
				if tenantID == "" {
					tenantID = "dev"
				}
				companyID := r.Header.Get("X-Company-ID")
				if companyID == "" {
					companyID = tenantID
				}
				userID := r.Header.Get("X-User-ID")
				if userID == "" {
					userID = "dev"
				}
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID, tenantID, companyID)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			}, opts...)
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}
			if claims.Subject == "" || claims.TenantID == "" {
				unauthorized(w, "token missing identity claims")
				return
			}

			ctx := withIdentity(r.Context(), claims.Subject, claims.TenantID, claims.CompanyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withIdentity(ctx context.Context, userID, tenantID, companyID string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	return context.WithValue(ctx, CompanyIDKey, companyID)
}

func headerOrQuery(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"ACCESS_DENIED","message":"` + msg + `"}}`))
}

// IdentityFromContext returns the caller identity resolved by Auth.
func IdentityFromContext(ctx context.Context) profile.Identity {
	id := profile.Identity{}
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		id.UserID = v
	}
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		id.TenantID = v
	}
	if v, ok := ctx.Value(CompanyIDKey).(string); ok {
		id.CompanyID = v
	}
	return id
}

// TenantFromContext returns the tenant ID, or empty when unauthenticated.
func TenantFromContext(ctx context.Context) string {
	v, _ := ctx.Value(TenantIDKey).(string)
	return v
}
