package chat

import (
	"bytes"
	"encoding/json"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/decode"
	"PPChat/tools/errs"
	"PPChat/tools/validate"
)

// 事件名
const (
	EventUserJoin       = "user:join"
	EventUserLeave      = "user:leave"
	EventUserTyping     = "user:typing"
	EventUserStatus     = "user:status"
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	EventMessageEdit    = "message:edit"
	EventMessageDelete  = "message:delete"
	EventMessageReact   = "message:react"
	EventMessageRead    = "message:read"
	EventError          = "error"
)

// Frame 上下行统一格式 {"event": "...", "data": {...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ParseFrame 外层也不允许多余字段
func ParseFrame(raw []byte) (*Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	f := &Frame{}
	if err := dec.Decode(f); err != nil {
		return nil, errs.ErrArgs.WithMsg("Invalid frame").WrapMsg(err.Error())
	}
	if dec.More() {
		return nil, errs.ErrArgs.WithMsg("Invalid frame").WrapMsg("trailing data")
	}
	if f.Event == "" {
		return nil, errs.ErrArgs.WithMsg("Event is required").Wrap()
	}
	return f, nil
}

func EncodeFrame(event string, data any) ([]byte, error) {
	b, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame", "event", event)
	}
	return b, nil
}

// DecodePayload 严格解码 + 校验，失败统一为 ValidationError
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	p, err := decode.DecodeJSON[T](raw)
	if err != nil {
		return nil, errs.ErrArgs.WithMsg("Invalid payload").WrapMsg(err.Error())
	}
	if err := validate.Struct(p); err != nil {
		return nil, errs.ErrArgs.WithMsg(err.Error()).Wrap()
	}
	return p, nil
}

// ---- 上行负载 ----

type ChannelPayload struct {
	ChannelID string `json:"channelId" validate:"required"`
}

type TypingPayload struct {
	ChannelID string `json:"channelId" validate:"required"`
	IsTyping  bool   `json:"isTyping"`
}

type SendPayload struct {
	ChannelID   string             `json:"channelId" validate:"required"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments" validate:"omitempty,dive"`
	ReplyTo     string             `json:"replyTo"`
	Mentions    []string           `json:"mentions"`
}

type EditPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content"`
}

type MessagePayload struct {
	MessageID string `json:"messageId" validate:"required"`
}

type ReactPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,maxrunes=32"`
}

// ---- 下行负载 ----

type ErrorData struct {
	Message string `json:"message"`
}

type UserRoomData struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channelId"`
}

type TypingData struct {
	UserID    string `json:"userId"`
	Username  string `json:"username,omitempty"`
	ChannelID string `json:"channelId"`
	IsTyping  bool   `json:"isTyping"`
}

type StatusData struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type EditData struct {
	MessageID string    `json:"messageId"`
	ChannelID string    `json:"channelId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type DeleteData struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

type ReactData struct {
	MessageID string           `json:"messageId"`
	ChannelID string           `json:"channelId"`
	Reactions []model.Reaction `json:"reactions"`
}
