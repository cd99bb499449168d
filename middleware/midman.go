package middleware

import (
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var globalMgr = NewManager()

// MiddlewareManager 运行期可追加的全局中间件链，写时复制，请求路径不加锁
type MiddlewareManager struct {
	mu    sync.Mutex // 串行化写
	chain atomic.Pointer[[]gin.HandlerFunc]
}

func NewManager() *MiddlewareManager {
	m := &MiddlewareManager{}
	m.chain.Store(&[]gin.HandlerFunc{})
	return m
}

func Manager() *MiddlewareManager { return globalMgr }

func (m *MiddlewareManager) Add(hs ...gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.chain.Load()
	next := make([]gin.HandlerFunc, 0, len(old)+len(hs))
	next = append(append(next, old...), hs...)
	m.chain.Store(&next)
}

func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chain.Store(&[]gin.HandlerFunc{})
}

func (m *MiddlewareManager) Len() int { return len(*m.chain.Load()) }

// Use 挂到 Engine 上；任一环 Abort 即停。
// 链上的中间件不能调用 c.Next，需要包住后续处理的（如访问日志）直接 r.Use
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range *m.chain.Load() {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
