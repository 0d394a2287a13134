package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/logging"
)

const (
	userKey  = "user"
	tokenKey = "token"
)

// JWTAuth requires a valid bearer token. The verified user is stored on the
// gin context and the token on the request context for identity.Provider.
func JWTAuth(tokens *identity.JWTProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := tokens.Verify(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, identity.ErrUnauthenticated) {
				logging.Error().Err(err).Msg("Token verification failed")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(userKey, claims.User())
		c.Set(tokenKey, token)
		ctx := identity.WithToken(c.Request.Context(), token)
		ctx = logging.WithUser(ctx, claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CurrentUser returns the user stored by JWTAuth.
func CurrentUser(c *gin.Context) (identity.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return identity.User{}, false
	}
	user, ok := v.(identity.User)
	return user, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
