package chat

import (
	"context"
	"encoding/json"
	"sort"

	"PPChat/tools/errs"
)

// HandlerFunc 处理一条上行事件；返回的错误以 error 帧单播给发送者
type HandlerFunc func(ctx context.Context, s *Session, data json.RawMessage) error

type Dispatcher struct {
	handlers map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(event string, h HandlerFunc) { d.handlers[event] = h }

func (d *Dispatcher) Has(event string) bool {
	_, ok := d.handlers[event]
	return ok
}

// Events 已注册事件，排序后返回
func (d *Dispatcher) Events() []string {
	out := make([]string, 0, len(d.handlers))
	for ev := range d.handlers {
		out = append(out, ev)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.ErrArgs.WithMsg("Unknown event").WrapMsg("dispatch", "event", f.Event)
	}
	return h(ctx, s, f.Data)
}

// bind 解码 + 校验之后再进入事务
func bind[T any](fn func(ctx context.Context, a Actor, p *T) error) HandlerFunc {
	return func(ctx context.Context, s *Session, data json.RawMessage) error {
		p, err := DecodePayload[T](data)
		if err != nil {
			return err
		}
		return fn(ctx, s.Actor(), p)
	}
}

// Routes 上行事件到事务的绑定
func (e *Engine) Routes(d *Dispatcher) {
	d.Register(EventUserJoin, bind(func(ctx context.Context, a Actor, p *ChannelPayload) error {
		return e.JoinChannel(ctx, a, p.ChannelID)
	}))
	d.Register(EventUserLeave, bind(func(ctx context.Context, a Actor, p *ChannelPayload) error {
		return e.LeaveChannel(ctx, a, p.ChannelID)
	}))
	d.Register(EventUserTyping, bind(func(ctx context.Context, a Actor, p *TypingPayload) error {
		return e.Typing(ctx, a, p.ChannelID, p.IsTyping)
	}))
	d.Register(EventMessageSend, bind(func(ctx context.Context, a Actor, p *SendPayload) error {
		_, err := e.SendMessage(ctx, a, p)
		return err
	}))
	d.Register(EventMessageEdit, bind(func(ctx context.Context, a Actor, p *EditPayload) error {
		return e.EditMessage(ctx, a, p.MessageID, p.Content)
	}))
	d.Register(EventMessageDelete, bind(func(ctx context.Context, a Actor, p *MessagePayload) error {
		return e.DeleteMessage(ctx, a, p.MessageID)
	}))
	d.Register(EventMessageReact, bind(func(ctx context.Context, a Actor, p *ReactPayload) error {
		return e.ReactToMessage(ctx, a, p.MessageID, p.Emoji)
	}))
	d.Register(EventMessageRead, bind(func(ctx context.Context, a Actor, p *MessagePayload) error {
		return e.MarkRead(ctx, a, p.MessageID)
	}))
}
