// Package api is the REST surface next to the websocket gateway: accounts,
// channel management, direct channels and message history.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"PPChat/logger"
	"PPChat/middleware"
	"PPChat/middleware/security"
	"PPChat/module/chat/store"
	"PPChat/service/auth"
	"PPChat/service/chat"
	"PPChat/service/storage"
	"PPChat/tools/decode"
	"PPChat/tools/errs"
	"PPChat/tools/keylock"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

// Response 统一返回体
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// PresenceLookup 跨节点的在线状态（redis 镜像）
type PresenceLookup interface {
	Lookup(ctx context.Context, user string) (*storage.PresenceInfo, bool, error)
}

type API struct {
	store  store.Store
	gate   *auth.Gate
	srv    *chat.Server
	mirror PresenceLookup
	locks  *keylock.KeyLock
	log    *zap.Logger
}

func New(st store.Store, gate *auth.Gate, srv *chat.Server) *API {
	return &API{
		store: st,
		gate:  gate,
		srv:   srv,
		locks: keylock.New(),
		log:   logger.Named("api"),
	}
}

func (a *API) SetPresenceLookup(m PresenceLookup) { a.mirror = m }

// Register 挂到 /api 分组下
func (a *API) Register(r gin.IRouter) {
	open := middleware.RouteOpt{}
	authed := middleware.RouteOpt{IsAuth: true}

	g := r.Group("/api")
	middleware.POST(g, "/auth/register", a.handle(a.register), open)
	middleware.POST(g, "/auth/login", a.handle(a.login), open)

	middleware.GET(g, "/users/me", a.handle(a.me), authed)
	middleware.GET(g, "/users/search", a.handle(a.searchUsers), authed)
	middleware.GET(g, "/users/:id/presence", a.handle(a.presence), authed)

	middleware.GET(g, "/channels", a.handle(a.listChannels), authed)
	middleware.POST(g, "/channels", a.handle(a.createChannel), authed)
	middleware.GET(g, "/channels/direct", a.handle(a.listDirect), authed)
	middleware.POST(g, "/channels/direct", a.handle(a.openDirect), authed)
	middleware.GET(g, "/channels/:id", a.handle(a.getChannel), authed)
	middleware.PUT(g, "/channels/:id", a.handle(a.updateChannel), authed)
	middleware.DELETE(g, "/channels/:id", a.handle(a.deleteChannel), authed)
	middleware.POST(g, "/channels/:id/join", a.handle(a.joinChannel), authed)
	middleware.POST(g, "/channels/:id/leave", a.handle(a.leaveChannel), authed)

	middleware.GET(g, "/messages", a.handle(a.listMessages), authed)
	middleware.POST(g, "/messages", a.handle(a.sendMessage), authed)
}

// handle 业务函数只返回 error，渲染统一在这里
func (a *API) handle(fn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(c); err != nil {
			a.fail(c, err)
		}
	}
}

func (a *API) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := errs.Message(err)
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", c.FullPath()), zap.Int("code", errs.Code(err)), zap.Error(err))
		if errs.Code(err) == errs.ServerInternalError {
			msg = errs.ErrInternalServer.Msg
		}
	}
	c.AbortWithStatusJSON(status, Response{Success: false, Error: msg})
}

func ok(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Message: message})
}

// StatusOf 错误码到 HTTP 状态
func StatusOf(err error) int {
	switch errs.Code(err) {
	case errs.UnauthenticatedError, errs.TokenInvalidError, errs.UserNotFoundError:
		return http.StatusUnauthorized
	case errs.NoPermissionError, errs.NotOwnerError:
		return http.StatusForbidden
	case errs.RecordNotFoundError:
		return http.StatusNotFound
	case errs.ArgsError, errs.DuplicateKeyError:
		return http.StatusBadRequest
	case errs.RateLimitError:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// bind 严格解码请求体
func bind[T any](c *gin.Context) (*T, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		return nil, errs.ErrArgs.WithMsg("Invalid request body").WrapMsg(err.Error())
	}
	v, err := decode.DecodeJSON[T](raw)
	if err != nil {
		return nil, errs.ErrArgs.WithMsg("Invalid request body").WrapMsg(err.Error())
	}
	return v, nil
}

// storeErr NotFound 换成业务文案，其余都是存储失败
func storeErr(err error, notFound *errs.CodeError, failMsg string) error {
	if errors.Is(err, errs.ErrRecordNotFound) && notFound != nil {
		return notFound.WrapMsg(err.Error())
	}
	if errs.Code(err) == errs.PersistenceError {
		return errs.ErrPersistence.WithMsg(failMsg).WrapMsg(err.Error())
	}
	return err
}

func identity(c *gin.Context) (*auth.Identity, error) {
	ident, ok := security.Identity(c)
	if !ok {
		return nil, errs.ErrUnauthenticated.Wrap()
	}
	return ident, nil
}

func actor(ident *auth.Identity) chat.Actor {
	return chat.Actor{UserID: ident.UserID, Username: ident.Username}
}
