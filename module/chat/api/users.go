package api

import (
	"strings"
	"time"

	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errUserNotFound = errs.ErrRecordNotFound.WithMsg("User not found")

// PresenceView 实时在线状态；本节点没有连接时回落到 redis 镜像，再回落到库里的状态
type PresenceView struct {
	UserID      string    `json:"userId"`
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Node        string    `json:"node,omitempty"`
	LastSeen    time.Time `json:"lastSeen"`
}

func (a *API) me(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	u, err := a.store.FindUserByID(c.Request.Context(), ident.UserID)
	if err != nil {
		return storeErr(err, errUserNotFound, "Failed to get user")
	}
	ok(c, u, "")
	return nil
}

func (a *API) searchUsers(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		ok(c, []*model.UserSummary{}, "")
		return nil
	}
	users, err := a.store.SearchUsers(c.Request.Context(), q, ident.UserID, store.SearchLimit)
	if err != nil {
		return storeErr(err, nil, "Failed to search users")
	}
	out := make([]*model.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	ok(c, out, "")
	return nil
}

func (a *API) presence(c *gin.Context) error {
	id := c.Param("id")
	if !store.ValidID(id) {
		return errUserNotFound.WrapMsg("invalid id", "user", id)
	}
	ctx := c.Request.Context()
	u, err := a.store.FindUserByID(ctx, id)
	if err != nil {
		return storeErr(err, errUserNotFound, "Failed to get presence")
	}
	view := PresenceView{UserID: u.ID, Status: u.Status, LastSeen: u.LastSeen}

	reg := a.srv.Registry()
	if conns := reg.ConnectionsFor(id); len(conns) > 0 {
		view.Status = model.StatusOnline
		view.Connections = len(conns)
		ok(c, view, "")
		return nil
	}
	if a.mirror != nil {
		info, found, err := a.mirror.Lookup(ctx, id)
		if err != nil {
			a.log.Warn("presence lookup", zap.String("user", id), zap.Error(err))
		} else if found {
			view.Status = info.Status
			view.Connections = info.Conns
			view.Node = info.Node
			view.LastSeen = info.LastSeen
			ok(c, view, "")
			return nil
		}
	}
	if view.Status == model.StatusOnline {
		// 库里残留的 online，没有任何节点持有连接
		view.Status = model.StatusOffline
	}
	ok(c, view, "")
	return nil
}
