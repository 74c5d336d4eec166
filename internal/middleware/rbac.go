package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/agrocert/agrocert-api/internal/models"
	"github.com/agrocert/agrocert-api/internal/workflow"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
	"github.com/agrocert/agrocert-api/pkg/response"
)

// RBAC enforces role-based access control for routes. This is the coarse
// route-level gate; per-status transition permissions are decided by the
// workflow engine inside the service layer.
func RBAC(allowed ...workflow.Role) gin.HandlerFunc {
	allowedRoles := make(map[workflow.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedRoles[role] = struct{}{}
	}
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		if _, ok := allowedRoles[claims.Role]; ok {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// AnyAuthenticated only requires a valid token, regardless of role.
func AnyAuthenticated() gin.HandlerFunc {
	return RBAC(workflow.AllRoles()...)
}
