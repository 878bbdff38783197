package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"crm_server/server/common/auth"
	"crm_server/server/common/transport/httpresp"
)

type tokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

func AuthRequired(verifier tokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		identity, err := verifier.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set("auth_user_id", identity.UserID)
		c.Set("auth_email", identity.Email)
		c.Set("auth_role", identity.Role)
		c.Next()
	}
}
