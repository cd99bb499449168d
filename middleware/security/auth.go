package security

import (
	"net/http"

	"PPChat/logger"
	"PPChat/service/auth"
	"PPChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CtxIdentityKey 认证通过后 *auth.Identity 存在 gin.Context 的这个 key 下
const CtxIdentityKey = "ppchat.identity"

// Middleware Authorization: Bearer <jwt>，失败 401
func Middleware(gate *auth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, err := gate.Resolve(c.Request.Context(), auth.TokenFromRequest(c.Request))
		if err != nil {
			if auth.IsUnauthenticated(err) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": errs.Message(err)})
				return
			}
			logger.Error("resolve identity", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": errs.ErrInternalServer.Msg})
			return
		}
		c.Set(CtxIdentityKey, ident)
		c.Next()
	}
}

// Identity 取当前请求的身份
func Identity(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(CtxIdentityKey)
	if !ok {
		return nil, false
	}
	ident, ok := v.(*auth.Identity)
	return ident, ok && ident != nil
}
