package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"PPChat/logger"
	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/errs"
	"PPChat/tools/keylock"

	"go.uber.org/zap"
)

// Exporter 成功事务之后的事件外发；实现必须非阻塞
type Exporter interface {
	Export(event, key string, data any)
}

// Actor 发起事务的连接身份；REST 调用时 ConnID 为空
type Actor struct {
	ConnID   string
	UserID   string
	Username string
}

func (s *Session) Actor() Actor {
	return Actor{ConnID: s.ConnID, UserID: s.UserID, Username: s.Username}
}

// Engine 每个事务都是 authorize -> mutate -> persist -> broadcast；
// 失败的事务不广播任何东西
type Engine struct {
	store  store.Store
	reg    *Registry
	bc     *Broadcaster
	locks  *keylock.KeyLock
	export Exporter
	now    func() time.Time
	log    *zap.Logger
}

func NewEngine(st store.Store, reg *Registry, bc *Broadcaster) *Engine {
	return &Engine{
		store: st,
		reg:   reg,
		bc:    bc,
		locks: keylock.New(),
		now:   time.Now,
		log:   logger.Named("engine"),
	}
}

func (e *Engine) SetExporter(x Exporter) { e.export = x }

func (e *Engine) exportEvent(event, key string, data any) {
	if e.export != nil {
		e.export.Export(event, key, data)
	}
}

func channelLockKey(id string) string { return "channel:" + id }
func messageLockKey(id string) string { return "message:" + id }

// LockChannel REST 侧改频道时与发消息共用同一把锁
func (e *Engine) LockChannel(id string) (unlock func()) {
	return e.locks.Lock(channelLockKey(id))
}

var (
	errChannelNotFound = errs.ErrRecordNotFound.WithMsg("Channel not found")
	errMessageNotFound = errs.ErrRecordNotFound.WithMsg("Message not found")
	errAccessDenied    = errs.ErrNoPermission.WithMsg("Access denied")
	errNotMember       = errs.ErrNoPermission.WithMsg("You must be a member of the channel")
	errContentRequired = errs.ErrArgs.WithMsg("Message content is required")
	errContentTooLong  = errs.ErrArgs.WithMsg("Message content is too long")
	errReplyNotFound   = errs.ErrArgs.WithMsg("Reply target not found")
)

// storeErr NotFound 换成业务文案，其余都是存储失败
func storeErr(err error, notFound *errs.CodeError, failMsg string) error {
	if errors.Is(err, errs.ErrRecordNotFound) && notFound != nil {
		return notFound.WrapMsg(err.Error())
	}
	return errs.ErrPersistence.WithMsg(failMsg).WrapMsg(err.Error())
}

func (e *Engine) loadChannel(ctx context.Context, id, failMsg string) (*model.Channel, error) {
	if !store.ValidID(id) {
		return nil, errChannelNotFound.WrapMsg("invalid id", "channel", id)
	}
	ch, err := e.store.FindChannelByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, errChannelNotFound, failMsg)
	}
	return ch, nil
}

// loadLiveMessage 软删除的消息按不存在处理
func (e *Engine) loadLiveMessage(ctx context.Context, id, failMsg string) (*model.Message, error) {
	if !store.ValidID(id) {
		return nil, errMessageNotFound.WrapMsg("invalid id", "message", id)
	}
	m, err := e.store.FindMessageByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, errMessageNotFound, failMsg)
	}
	if m.IsDeleted() {
		return nil, errMessageNotFound.WrapMsg("deleted", "message", id)
	}
	return m, nil
}

func checkContent(content string, required bool) error {
	if required && strings.TrimSpace(content) == "" {
		return errContentRequired.Wrap()
	}
	if utf8.RuneCountInString(content) > model.MaxContentLen {
		return errContentTooLong.Wrap()
	}
	return nil
}

// JoinChannel 只做房间登记；私有/私聊频道要求已是成员
func (e *Engine) JoinChannel(ctx context.Context, a Actor, channelID string) error {
	ch, err := e.loadChannel(ctx, channelID, "Failed to join channel")
	if err != nil {
		return err
	}
	if ch.Type != model.ChannelPublic && !ch.IsMember(a.UserID) {
		return errAccessDenied.WrapMsg("join", "channel", ch.ID, "user", a.UserID)
	}
	e.reg.JoinRoom(a.ConnID, ch.ID)
	e.bc.Publish(ch.ID, EventUserJoin, UserRoomData{UserID: a.UserID, Username: a.Username, ChannelID: ch.ID}, a.ConnID)
	return nil
}

// LeaveChannel 无条件
func (e *Engine) LeaveChannel(ctx context.Context, a Actor, channelID string) error {
	e.reg.LeaveRoom(a.ConnID, channelID)
	e.bc.Publish(channelID, EventUserLeave, UserRoomData{UserID: a.UserID, Username: a.Username, ChannelID: channelID}, a.ConnID)
	return nil
}

// Typing 不落库、不鉴权
func (e *Engine) Typing(ctx context.Context, a Actor, channelID string, isTyping bool) error {
	e.bc.Publish(channelID, EventUserTyping, TypingData{
		UserID:    a.UserID,
		Username:  a.Username,
		ChannelID: channelID,
		IsTyping:  isTyping,
	}, a.ConnID)
	return nil
}

// SendMessage 广播给整个房间（包括发送者自己）
func (e *Engine) SendMessage(ctx context.Context, a Actor, p *SendPayload) (*model.MessageView, error) {
	if err := checkContent(p.Content, len(p.Attachments) == 0); err != nil {
		return nil, err
	}
	ch, err := e.loadChannel(ctx, p.ChannelID, "Failed to send message")
	if err != nil {
		return nil, err
	}
	if !ch.IsMember(a.UserID) {
		return nil, errNotMember.WrapMsg("send", "channel", ch.ID, "user", a.UserID)
	}

	var reply *model.Message
	if p.ReplyTo != "" {
		reply, err = e.loadLiveMessage(ctx, p.ReplyTo, "Failed to send message")
		if err != nil {
			if errs.Code(err) == errs.RecordNotFoundError {
				return nil, errReplyNotFound.WrapMsg("reply", "message", p.ReplyTo)
			}
			return nil, err
		}
		if reply.ChannelID != ch.ID {
			return nil, errReplyNotFound.WrapMsg("reply in other channel", "message", p.ReplyTo)
		}
	}

	// 同一频道的写入与广播串行，落库顺序即房间内的投递顺序
	unlock := e.locks.Lock(channelLockKey(ch.ID))
	defer unlock()

	now := e.now()
	m := &model.Message{
		ID:          store.NewID(),
		ChannelID:   ch.ID,
		UserID:      a.UserID,
		Content:     p.Content,
		Type:        model.TypeFor(p.Attachments),
		Attachments: p.Attachments,
		ReplyTo:     p.ReplyTo,
		Mentions:    model.Dedup(p.Mentions),
		ReadBy:      []string{a.UserID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.Normalize()
	if err := e.store.CreateMessage(ctx, m); err != nil {
		return nil, storeErr(err, nil, "Failed to send message")
	}
	if err := e.store.TouchChannel(ctx, ch.ID, m.ID, now); err != nil {
		// 频道没记上就撤掉这条，不留孤儿消息
		if derr := e.store.DeleteMessage(ctx, m.ID); derr != nil {
			e.log.Error("drop unsent message", zap.String("message", m.ID), zap.String("channel", ch.ID), zap.Error(derr))
		}
		return nil, storeErr(err, errChannelNotFound, "Failed to send message")
	}

	view := &model.MessageView{Message: *m, Author: e.author(ctx, a), ReplyToMessage: reply}
	e.bc.Publish(ch.ID, EventMessageReceive, view, "")
	e.exportEvent(EventMessageReceive, ch.ID, view)
	return view, nil
}

// author 作者信息；查不到时用连接上的身份兜底
func (e *Engine) author(ctx context.Context, a Actor) *model.UserSummary {
	u, err := e.store.FindUserByID(ctx, a.UserID)
	if err != nil {
		e.log.Warn("resolve author", zap.String("user", a.UserID), zap.Error(err))
		return &model.UserSummary{ID: a.UserID, Username: a.Username, Status: model.StatusOnline}
	}
	return u.Summary()
}

func (e *Engine) EditMessage(ctx context.Context, a Actor, messageID, content string) error {
	if err := checkContent(content, true); err != nil {
		return err
	}
	if !store.ValidID(messageID) {
		return errMessageNotFound.WrapMsg("invalid id", "message", messageID)
	}
	unlock := e.locks.Lock(messageLockKey(messageID))
	defer unlock()

	m, err := e.loadLiveMessage(ctx, messageID, "Failed to edit message")
	if err != nil {
		return err
	}
	if m.UserID != a.UserID {
		return errs.ErrNotOwner.WithMsg("You can only edit your own messages").WrapMsg("edit", "message", m.ID, "user", a.UserID)
	}
	now := e.now()
	m.Content = content
	m.Edited = true
	m.EditedAt = &now
	m.UpdatedAt = now
	if err := e.store.SaveMessage(ctx, m); err != nil {
		return storeErr(err, errMessageNotFound, "Failed to edit message")
	}
	data := EditData{MessageID: m.ID, ChannelID: m.ChannelID, Content: m.Content, EditedAt: now}
	e.bc.Publish(m.ChannelID, EventMessageEdit, data, "")
	e.exportEvent(EventMessageEdit, m.ChannelID, data)
	return nil
}

// DeleteMessage 软删除，内容保留
func (e *Engine) DeleteMessage(ctx context.Context, a Actor, messageID string) error {
	if !store.ValidID(messageID) {
		return errMessageNotFound.WrapMsg("invalid id", "message", messageID)
	}
	unlock := e.locks.Lock(messageLockKey(messageID))
	defer unlock()

	m, err := e.loadLiveMessage(ctx, messageID, "Failed to delete message")
	if err != nil {
		return err
	}
	if m.UserID != a.UserID {
		return errs.ErrNotOwner.WithMsg("You can only delete your own messages").WrapMsg("delete", "message", m.ID, "user", a.UserID)
	}
	now := e.now()
	m.DeletedAt = &now
	m.UpdatedAt = now
	if err := e.store.SaveMessage(ctx, m); err != nil {
		return storeErr(err, errMessageNotFound, "Failed to delete message")
	}
	data := DeleteData{MessageID: m.ID, ChannelID: m.ChannelID}
	e.bc.Publish(m.ChannelID, EventMessageDelete, data, "")
	e.exportEvent(EventMessageDelete, m.ChannelID, data)
	return nil
}

// ReactToMessage 同一 (消息, emoji, 用户) 再点一次即取消；广播完整的 reactions
func (e *Engine) ReactToMessage(ctx context.Context, a Actor, messageID, emoji string) error {
	if !store.ValidID(messageID) {
		return errMessageNotFound.WrapMsg("invalid id", "message", messageID)
	}
	unlock := e.locks.Lock(messageLockKey(messageID))
	defer unlock()

	m, err := e.loadLiveMessage(ctx, messageID, "Failed to react to message")
	if err != nil {
		return err
	}
	m.ToggleReaction(emoji, a.UserID)
	m.UpdatedAt = e.now()
	if err := e.store.SaveMessage(ctx, m); err != nil {
		return storeErr(err, errMessageNotFound, "Failed to react to message")
	}
	data := ReactData{MessageID: m.ID, ChannelID: m.ChannelID, Reactions: m.Reactions}
	e.bc.Publish(m.ChannelID, EventMessageReact, data, "")
	e.exportEvent(EventMessageReact, m.ChannelID, data)
	return nil
}

// MarkRead 集合并，幂等，不广播
func (e *Engine) MarkRead(ctx context.Context, a Actor, messageID string) error {
	if !store.ValidID(messageID) {
		return errMessageNotFound.WrapMsg("invalid id", "message", messageID)
	}
	// 与编辑等整条覆盖写互斥，避免 readBy 被覆盖丢失
	unlock := e.locks.Lock(messageLockKey(messageID))
	defer unlock()
	if err := e.store.MarkRead(ctx, messageID, a.UserID); err != nil {
		return storeErr(err, errMessageNotFound, "Failed to mark message as read")
	}
	return nil
}
