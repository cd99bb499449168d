package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

var (
	authMu      sync.RWMutex
	authHandler gin.HandlerFunc
)

// SetAuth 注册鉴权中间件；IsAuth 的路由都挂它
func SetAuth(h gin.HandlerFunc) {
	authMu.Lock()
	defer authMu.Unlock()
	authHandler = h
}

// requireAuth 未注册鉴权时一律拒绝，避免路由裸奔
func requireAuth() gin.HandlerFunc {
	authMu.RLock()
	h := authHandler
	authMu.RUnlock()
	if h != nil {
		return h
	}
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
	}
}

func handle(r gin.IRoutes, method, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.Handle(method, path, requireAuth(), handler)
		return
	}
	r.Handle(method, path, handler)
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodGet, path, handler, opt)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodPost, path, handler, opt)
}

func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodPut, path, handler, opt)
}

func DELETE(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	handle(r, http.MethodDelete, path, handler, opt)
}
