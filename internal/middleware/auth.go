package middleware

import (
	"net/http"
	"os"
	"strings"

	"requesthub/internal/model"
	"requesthub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ContextKeyRequestContext = "requestContext"

func GetJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		secret = "default_super_secret_key" // Development fallback only — DO NOT use in production
	}
	return []byte(secret)
}

// SetTokenCookies sets the access_token as an HttpOnly cookie
func SetTokenCookies(c *gin.Context, accessToken string) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, 3600*24, "/", "", secure, true)
}

// ClearTokenCookies removes the access_token cookie
func ClearTokenCookies(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
}

// RequireAuth validates the JWT and stores the resolved RequestContext in the
// gin context. Tokens issued to machine clients carry method "client" and no
// subject; they are accepted here and rejected by the per-operation checks
// that require an interactive user.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		rctx, ok := parseRequestContext(c)
		if !ok {
			return
		}
		c.Set(ContextKeyRequestContext, rctx)
		c.Next()
	}
}

// RequireRole validates the JWT and checks that the caller holds at least one
// of the allowed roles
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rctx, ok := parseRequestContext(c)
		if !ok {
			return
		}

		roleAllowed := false
		for _, role := range allowedRoles {
			if rctx.HasRole(role) {
				roleAllowed = true
				break
			}
		}
		if !roleAllowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}

		c.Set(ContextKeyRequestContext, rctx)
		c.Next()
	}
}

// GetRequestContext returns the RequestContext stored by RequireAuth/RequireRole
func GetRequestContext(c *gin.Context) (model.RequestContext, bool) {
	value, exists := c.Get(ContextKeyRequestContext)
	if !exists {
		return model.RequestContext{}, false
	}
	rctx, ok := value.(model.RequestContext)
	return rctx, ok
}

func parseRequestContext(c *gin.Context) (model.RequestContext, bool) {
	// Try cookie first, fallback to Authorization header
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr != nil || tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return model.RequestContext{}, false
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
			return model.RequestContext{}, false
		}
		tokenString = parts[1]
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return GetJWTSecret(), nil
	})
	if err != nil || !token.Valid {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
		return model.RequestContext{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
		return model.RequestContext{}, false
	}

	rctx := model.RequestContext{AuthMethod: model.AuthMethodJwt}
	if method, ok := claims["auth_method"].(string); ok && method == string(model.AuthMethodClient) {
		rctx.AuthMethod = model.AuthMethodClient
	}
	if sub, ok := claims["sub"].(string); ok {
		if userID, parseErr := uuid.Parse(sub); parseErr == nil {
			rctx.UserID = userID
		}
	}
	if roles, ok := claims["roles"].(string); ok && roles != "" {
		rctx.Roles = strings.Split(roles, ",")
	}

	return rctx, true
}
