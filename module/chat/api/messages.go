package api

import (
	"context"
	"io"
	"strconv"
	"time"

	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/service/chat"
	"PPChat/tools/errs"

	"github.com/gin-gonic/gin"
)

var (
	errChannelIDRequired = errs.ErrArgs.WithMsg("Channel ID is required")
	errBadCursor         = errs.ErrArgs.WithMsg("Invalid before cursor")
	errBadLimit          = errs.ErrArgs.WithMsg("Invalid limit")
)

func (a *API) listMessages(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	channelID := c.Query("channelId")
	if channelID == "" {
		return errChannelIDRequired.Wrap()
	}
	limit := 0
	if s := c.Query("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return errBadLimit.WrapMsg(err.Error(), "limit", s)
		}
	}
	var before *time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return errBadCursor.WrapMsg(err.Error(), "before", s)
		}
		before = &t
	}

	ctx := c.Request.Context()
	ch, err := a.loadChannel(ctx, channelID, "Failed to get messages")
	if err != nil {
		return err
	}
	if !visible(ch, ident.UserID) {
		return errAccessDenied.WrapMsg("list messages", "channel", ch.ID, "user", ident.UserID)
	}
	msgs, err := a.store.ListMessages(ctx, ch.ID, before, store.ClampLimit(limit))
	if err != nil {
		return storeErr(err, nil, "Failed to get messages")
	}
	out, err := a.messageViews(ctx, msgs)
	if err != nil {
		return storeErr(err, nil, "Failed to get messages")
	}
	ok(c, out, "")
	return nil
}

// messageViews 批量解析作者；被回复消息只取仍有效的
func (a *API) messageViews(ctx context.Context, msgs []*model.Message) ([]*model.MessageView, error) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.UserID)
	}
	users, err := a.store.FindUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	authors := make(map[string]*model.UserSummary, len(users))
	for _, u := range users {
		authors[u.ID] = u.Summary()
	}
	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	out := make([]*model.MessageView, 0, len(msgs))
	for _, m := range msgs {
		v := &model.MessageView{Message: *m, Author: authors[m.UserID]}
		if m.ReplyTo != "" {
			if r, ok := byID[m.ReplyTo]; ok {
				v.ReplyToMessage = r
			} else if r, err := a.store.FindMessageByID(ctx, m.ReplyTo); err == nil && !r.IsDeleted() {
				v.ReplyToMessage = r
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// sendMessage 与 websocket 的 message:send 走同一个事务
func (a *API) sendMessage(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		return errs.ErrArgs.WithMsg("Invalid request body").WrapMsg(err.Error())
	}
	p, err := chat.DecodePayload[chat.SendPayload](raw)
	if err != nil {
		return err
	}
	view, err := a.srv.Engine().SendMessage(c.Request.Context(), actor(ident), p)
	if err != nil {
		return err
	}
	ok(c, view, "Message sent successfully")
	return nil
}
