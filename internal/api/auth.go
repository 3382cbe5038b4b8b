package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/promptgate/pkg/models"
)

// ContextKey represents keys for echo context values
type ContextKey string

const (
	ScopeContextKey ContextKey = "workspace_scope"
	UserContextKey  ContextKey = "user_id"
)

// ScopeClaims are the token claims that establish the workspace boundary.
// Every request is confined to this scope for its whole lifetime.
type ScopeClaims struct {
	TenantID    string `json:"tenant_id"`
	ProjectID   string `json:"project_id"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// RequireAuth validates the Bearer JWT and stores the resulting
// WorkspaceScope and user id on the request context. The workspace root is
// derived from the token, never from the request body.
func RequireAuth(keys *KeyCache, baseDir string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims := &ScopeClaims{}
			token, err := jwt.ParseWithClaims(tokenParts[1], claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				kid, _ := token.Header["kid"].(string)
				return keys.Lookup(kid)
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			if claims.TenantID == "" || claims.ProjectID == "" || claims.WorkspaceID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Token missing workspace scope")
			}

			scope := models.WorkspaceScope{
				TenantID:    claims.TenantID,
				ProjectID:   claims.ProjectID,
				WorkspaceID: claims.WorkspaceID,
				RootPath:    filepath.Join(baseDir, claims.WorkspaceID),
			}

			c.Set(string(ScopeContextKey), scope)
			c.Set(string(UserContextKey), claims.Subject)

			return next(c)
		}
	}
}

// GetScope extracts the workspace scope from echo context.
func GetScope(c echo.Context) (models.WorkspaceScope, bool) {
	scope, ok := c.Get(string(ScopeContextKey)).(models.WorkspaceScope)
	return scope, ok
}

// GetUserID extracts the authenticated user id from echo context.
func GetUserID(c echo.Context) string {
	userID, _ := c.Get(string(UserContextKey)).(string)
	return userID
}
