// Package auth resolves a bearer credential to a chat identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"
	"PPChat/tools/security"
)

const (
	QueryToken   = "token"
	headerAuthz  = "Authorization"
	bearerPrefix = "bearer "
)

// Identity 握手成功后绑定到连接上的身份
type Identity struct {
	UserID   string
	Username string
}

type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
}

type Gate struct {
	opts  security.Options
	users UserFinder
}

func NewGate(opts security.Options, users UserFinder) *Gate {
	return &Gate{opts: opts, users: users}
}

// Issue 签发登录令牌
func (g *Gate) Issue(userID string) (string, time.Time, error) {
	token, exp, err := security.Generate(g.opts, userID)
	if err != nil {
		return "", time.Time{}, errs.WrapMsg(err, "issue token", "user", userID)
	}
	return token, exp, nil
}

// Resolve 无副作用，只做校验和一次用户查询
func (g *Gate) Resolve(ctx context.Context, token string) (*Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errs.ErrUnauthenticated.Wrap()
	}
	claims, err := security.Verify(g.opts, token)
	if err != nil {
		detail := "verify"
		if security.IsExpired(err) {
			detail = "expired"
		}
		return nil, errs.ErrTokenInvalid.WithDetail(err.Error()).WrapMsg(detail)
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	u, err := g.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound.WrapMsg("resolve identity", "user", userID)
		}
		return nil, err
	}
	return &Identity{UserID: u.ID, Username: u.Username}, nil
}

// TokenFromRequest query ?token= 优先，其次 Authorization: Bearer
func TokenFromRequest(r *http.Request) string {
	if t := strings.TrimSpace(r.URL.Query().Get(QueryToken)); t != "" {
		return t
	}
	authz := strings.TrimSpace(r.Header.Get(headerAuthz))
	if len(authz) > len(bearerPrefix) && strings.EqualFold(authz[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authz[len(bearerPrefix):])
	}
	return ""
}

// IsUnauthenticated 包括 TokenInvalid / UserNotFound
func IsUnauthenticated(err error) bool {
	return errors.Is(err, errs.ErrUnauthenticated)
}
