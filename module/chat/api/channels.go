package api

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/errs"

	"github.com/gin-gonic/gin"
)

var (
	errChannelNotFound  = errs.ErrRecordNotFound.WithMsg("Channel not found")
	errAccessDenied     = errs.ErrNoPermission.WithMsg("Access denied")
	errNameRequired     = errs.ErrArgs.WithMsg("Channel name is required")
	errNameTooLong      = errs.ErrArgs.WithMsg("Channel name must be at most 50 characters")
	errDescTooLong      = errs.ErrArgs.WithMsg("Description must be at most 200 characters")
	errBadChannelType   = errs.ErrArgs.WithMsg("Channel type must be public or private")
	errNameTaken        = errs.ErrDuplicateKey.WithMsg("Channel name already exists")
	errNotAdmin         = errs.ErrNoPermission.WithMsg("Only admins can update channel")
	errNotChannelOwner  = errs.ErrNotOwner.WithMsg("Only channel owner can delete the channel")
	errOwnerCannotLeave = errs.ErrArgs.WithMsg("Channel owner cannot leave the channel")
	errNotChannelMember = errs.ErrArgs.WithMsg("You are not a member of this channel")
	errTargetRequired   = errs.ErrArgs.WithMsg("Target user ID is required")
	errDirectSelf       = errs.ErrArgs.WithMsg("Cannot create DM with yourself")
)

// ChannelView 频道 + 成员资料
type ChannelView struct {
	*model.Channel
	MemberProfiles []*model.UserSummary `json:"memberProfiles"`
}

type createChannelReq struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Members     []string `json:"members"`
}

type updateChannelReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Avatar      *string `json:"avatar"`
}

type directReq struct {
	TargetUserID string `json:"targetUserId"`
}

func (a *API) loadChannel(ctx context.Context, id, failMsg string) (*model.Channel, error) {
	if !store.ValidID(id) {
		return nil, errChannelNotFound.WrapMsg("invalid id", "channel", id)
	}
	ch, err := a.store.FindChannelByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, errChannelNotFound, failMsg)
	}
	return ch, nil
}

// visible 非公开频道只对成员可见
func visible(ch *model.Channel, userID string) bool {
	return ch.Type == model.ChannelPublic || ch.IsMember(userID)
}

// views 一次批量查出所有成员资料
func (a *API) views(ctx context.Context, chs []*model.Channel) ([]*ChannelView, error) {
	var ids []string
	for _, ch := range chs {
		ids = append(ids, ch.Members...)
	}
	users, err := a.store.FindUsersByIDs(ctx, model.Dedup(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.UserSummary, len(users))
	for _, u := range users {
		byID[u.ID] = u.Summary()
	}
	out := make([]*ChannelView, 0, len(chs))
	for _, ch := range chs {
		ch.Normalize()
		v := &ChannelView{Channel: ch, MemberProfiles: make([]*model.UserSummary, 0, len(ch.Members))}
		for _, id := range ch.Members {
			if s, ok := byID[id]; ok {
				v.MemberProfiles = append(v.MemberProfiles, s)
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (a *API) view(ctx context.Context, ch *model.Channel, failMsg string) (*ChannelView, error) {
	vs, err := a.views(ctx, []*model.Channel{ch})
	if err != nil {
		return nil, storeErr(err, nil, failMsg)
	}
	return vs[0], nil
}

func (a *API) listChannels(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	chs, err := a.store.FindVisibleChannels(ctx, ident.UserID)
	if err != nil {
		return storeErr(err, nil, "Failed to get channels")
	}
	out, err := a.views(ctx, chs)
	if err != nil {
		return storeErr(err, nil, "Failed to get channels")
	}
	ok(c, out, "")
	return nil
}

func (a *API) createChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	req, err := bind[createChannelReq](c)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	switch {
	case name == "":
		return errNameRequired.Wrap()
	case utf8.RuneCountInString(name) > model.MaxChannelNameLen:
		return errNameTooLong.Wrap()
	case utf8.RuneCountInString(req.Description) > model.MaxChannelDescLen:
		return errDescTooLong.Wrap()
	}
	typ := req.Type
	if typ == "" {
		typ = model.ChannelPublic
	}
	if typ != model.ChannelPublic && typ != model.ChannelPrivate {
		return errBadChannelType.WrapMsg("create", "type", typ)
	}

	ctx := c.Request.Context()
	if _, err := a.store.FindChannelByName(ctx, typ, name); err == nil {
		return errNameTaken.WrapMsg("create", "type", typ, "name", name)
	} else if !errors.Is(err, errs.ErrRecordNotFound) {
		return storeErr(err, nil, "Failed to create channel")
	}
	members, err := a.existingUsers(ctx, append([]string{ident.UserID}, req.Members...))
	if err != nil {
		return storeErr(err, nil, "Failed to create channel")
	}

	now := time.Now()
	ch := &model.Channel{
		ID:           store.NewID(),
		Name:         name,
		Description:  req.Description,
		Type:         typ,
		Owner:        ident.UserID,
		Admins:       []string{ident.UserID},
		Members:      members,
		Avatar:       model.DefaultAvatar(name),
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateChannel(ctx, ch); err != nil {
		if errs.Code(err) == errs.DuplicateKeyError {
			return errNameTaken.WrapMsg(err.Error())
		}
		return storeErr(err, nil, "Failed to create channel")
	}
	a.joinOnline(ch)

	v, err := a.view(ctx, ch, "Failed to create channel")
	if err != nil {
		return err
	}
	ok(c, v, "Channel created successfully")
	return nil
}

// existingUsers 保序去重，过滤掉不存在的用户；第一个是调用者本人
func (a *API) existingUsers(ctx context.Context, ids []string) ([]string, error) {
	ids = model.Dedup(ids)
	valid := ids[:0:0]
	for _, id := range ids {
		if store.ValidID(id) {
			valid = append(valid, id)
		}
	}
	users, err := a.store.FindUsersByIDs(ctx, valid)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	out := []string{ids[0]}
	for _, id := range valid {
		if _, ok := found[id]; ok && id != ids[0] {
			out = append(out, id)
		}
	}
	return out, nil
}

// joinOnline 在线成员的连接直接进房间
func (a *API) joinOnline(ch *model.Channel) {
	reg := a.srv.Registry()
	for _, id := range ch.Members {
		reg.JoinUser(id, ch.ID)
	}
}

func (a *API) getChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	ch, err := a.loadChannel(ctx, c.Param("id"), "Failed to get channel")
	if err != nil {
		return err
	}
	if !visible(ch, ident.UserID) {
		return errAccessDenied.WrapMsg("get channel", "channel", ch.ID, "user", ident.UserID)
	}
	v, err := a.view(ctx, ch, "Failed to get channel")
	if err != nil {
		return err
	}
	ok(c, v, "")
	return nil
}

func (a *API) updateChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	req, err := bind[updateChannelReq](c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	unlock := a.srv.Engine().LockChannel(c.Param("id"))
	defer unlock()

	ch, err := a.loadChannel(ctx, c.Param("id"), "Failed to update channel")
	if err != nil {
		return err
	}
	if !ch.CanManage(ident.UserID) {
		return errNotAdmin.WrapMsg("update", "channel", ch.ID, "user", ident.UserID)
	}
	info := store.ChannelInfo{Name: ch.Name, Description: ch.Description, Avatar: ch.Avatar}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != "" {
			if utf8.RuneCountInString(name) > model.MaxChannelNameLen {
				return errNameTooLong.Wrap()
			}
			info.Name = name
		}
	}
	if req.Description != nil {
		if utf8.RuneCountInString(*req.Description) > model.MaxChannelDescLen {
			return errDescTooLong.Wrap()
		}
		info.Description = *req.Description
	}
	if req.Avatar != nil {
		info.Avatar = *req.Avatar
	}
	info.UpdatedAt = time.Now()
	if err := a.store.UpdateChannelInfo(ctx, ch.ID, info); err != nil {
		if errs.Code(err) == errs.DuplicateKeyError {
			return errNameTaken.WrapMsg(err.Error())
		}
		return storeErr(err, errChannelNotFound, "Failed to update channel")
	}
	// 回读：成员、lastMessage 以库里为准
	ch, err = a.store.FindChannelByID(ctx, ch.ID)
	if err != nil {
		return storeErr(err, errChannelNotFound, "Failed to update channel")
	}
	v, err := a.view(ctx, ch, "Failed to update channel")
	if err != nil {
		return err
	}
	ok(c, v, "Channel updated successfully")
	return nil
}

func (a *API) deleteChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	ch, err := a.loadChannel(ctx, c.Param("id"), "Failed to delete channel")
	if err != nil {
		return err
	}
	if ch.Owner != ident.UserID {
		return errNotChannelOwner.WrapMsg("delete", "channel", ch.ID, "user", ident.UserID)
	}
	if err := a.store.DeleteChannel(ctx, ch.ID); err != nil {
		return storeErr(err, errChannelNotFound, "Failed to delete channel")
	}
	a.srv.Registry().CloseRoom(ch.ID)
	ok(c, nil, "Channel deleted successfully")
	return nil
}

func (a *API) joinChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	unlock := a.srv.Engine().LockChannel(c.Param("id"))
	defer unlock()

	ch, err := a.loadChannel(ctx, c.Param("id"), "Failed to join channel")
	if err != nil {
		return err
	}
	if ch.Type != model.ChannelPublic {
		return errAccessDenied.WrapMsg("join", "channel", ch.ID, "user", ident.UserID)
	}
	if err := a.store.AddChannelMember(ctx, ch.ID, ident.UserID); err != nil {
		return storeErr(err, errChannelNotFound, "Failed to join channel")
	}
	a.srv.Registry().JoinUser(ident.UserID, ch.ID)
	ch.AddMember(ident.UserID)
	v, err := a.view(ctx, ch, "Failed to join channel")
	if err != nil {
		return err
	}
	ok(c, v, "Joined channel")
	return nil
}

func (a *API) leaveChannel(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	unlock := a.srv.Engine().LockChannel(c.Param("id"))
	defer unlock()

	ch, err := a.loadChannel(ctx, c.Param("id"), "Failed to leave channel")
	if err != nil {
		return err
	}
	if ch.Owner == ident.UserID {
		return errOwnerCannotLeave.WrapMsg("leave", "channel", ch.ID)
	}
	if !ch.IsMember(ident.UserID) {
		return errNotChannelMember.WrapMsg("leave", "channel", ch.ID, "user", ident.UserID)
	}
	if err := a.store.RemoveChannelMember(ctx, ch.ID, ident.UserID); err != nil {
		return storeErr(err, errChannelNotFound, "Failed to leave channel")
	}
	a.srv.Registry().LeaveUser(ident.UserID, ch.ID)
	ok(c, nil, "Left channel")
	return nil
}

func (a *API) listDirect(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	ctx := c.Request.Context()
	chs, err := a.store.FindDirectChannelsFor(ctx, ident.UserID)
	if err != nil {
		return storeErr(err, nil, "Failed to get DMs")
	}
	out, err := a.views(ctx, chs)
	if err != nil {
		return storeErr(err, nil, "Failed to get DMs")
	}
	ok(c, out, "")
	return nil
}

// openDirect 找到或创建两人私聊；同一对用户的并发请求串行
func (a *API) openDirect(c *gin.Context) error {
	ident, err := identity(c)
	if err != nil {
		return err
	}
	req, err := bind[directReq](c)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(req.TargetUserID)
	if target == "" {
		return errTargetRequired.Wrap()
	}
	if target == ident.UserID {
		return errDirectSelf.Wrap()
	}
	ctx := c.Request.Context()
	if !store.ValidID(target) {
		return errUserNotFound.WrapMsg("invalid id", "user", target)
	}
	if _, err := a.store.FindUserByID(ctx, target); err != nil {
		return storeErr(err, errUserNotFound, "Failed to create DM")
	}

	pair := model.SortedPair(ident.UserID, target)
	unlock := a.locks.Lock("direct:" + pair[0] + "-" + pair[1])
	defer unlock()

	ch, err := a.findOrCreateDirect(ctx, ident.UserID, target)
	if err != nil {
		return err
	}
	a.joinOnline(ch)
	v, err := a.view(ctx, ch, "Failed to create DM")
	if err != nil {
		return err
	}
	ok(c, v, "DM channel ready")
	return nil
}

func (a *API) findOrCreateDirect(ctx context.Context, self, target string) (*model.Channel, error) {
	ch, err := a.store.FindDirectChannel(ctx, self, target)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, errs.ErrRecordNotFound) {
		return nil, storeErr(err, nil, "Failed to create DM")
	}
	now := time.Now()
	ch = &model.Channel{
		ID:           store.NewID(),
		Name:         model.DirectChannelName(self, target),
		Type:         model.ChannelDirect,
		Owner:        self,
		Members:      []string{self, target},
		Admins:       []string{},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateChannel(ctx, ch); err != nil {
		if errs.Code(err) != errs.DuplicateKeyError {
			return nil, storeErr(err, nil, "Failed to create DM")
		}
		// 其它节点抢先建好了，同名即同一对用户
		existing, ferr := a.store.FindDirectChannel(ctx, self, target)
		if ferr != nil {
			return nil, storeErr(ferr, nil, "Failed to create DM")
		}
		return existing, nil
	}
	return ch, nil
}
