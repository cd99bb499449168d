package model

import "time"

// Message Type
const (
	MessageText   = "text"
	MessageImage  = "image"
	MessageFile   = "file"
	MessageSystem = "system"
)

const MaxContentLen = 5000

// Attachment 附件内嵌在消息里，没有独立 id
type Attachment struct {
	Type     string `bson:"type" json:"type" validate:"required,oneof=image file video audio"`
	URL      string `bson:"url" json:"url" validate:"required"`
	Name     string `bson:"name" json:"name" validate:"required"`
	Size     int64  `bson:"size" json:"size" validate:"gte=0"`
	MimeType string `bson:"mimeType" json:"mimeType"`
}

// Reaction 每个 emoji 一条，用户集合空了整条删除
type Reaction struct {
	Emoji string   `bson:"emoji" json:"emoji"`
	Users []string `bson:"users" json:"users"`
}

type Message struct {
	ID          string       `bson:"_id" json:"_id"`
	ChannelID   string       `bson:"channelId" json:"channelId"`
	UserID      string       `bson:"userId" json:"userId"` // 作者，不可变
	Content     string       `bson:"content" json:"content"`
	Type        string       `bson:"type" json:"type"`
	Attachments []Attachment `bson:"attachments" json:"attachments"`
	Reactions   []Reaction   `bson:"reactions" json:"reactions"`
	ReplyTo     string       `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	Edited      bool         `bson:"edited" json:"edited"`
	EditedAt    *time.Time   `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	DeletedAt   *time.Time   `bson:"deletedAt" json:"deletedAt,omitempty"` // 软删除，nil 为有效
	Mentions    []string     `bson:"mentions" json:"mentions"`
	ReadBy      []string     `bson:"readBy" json:"readBy"`
	CreatedAt   time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// MessageView 广播用的完整消息：作者与被回复消息都已解析
type MessageView struct {
	Message        `bson:",inline"`
	Author         *UserSummary `bson:"author,omitempty" json:"author,omitempty"`
	ReplyToMessage *Message     `bson:"replyToMessage,omitempty" json:"replyToMessage,omitempty"`
}

func (m *Message) TableName() string {
	return "messages"
}

func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// ToggleReaction 同一 (消息, emoji, 用户) 再点一次即取消；返回 true 表示本次是添加
func (m *Message) ToggleReaction(emoji, userID string) bool {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		if users, removed := without(r.Users, userID); removed {
			if len(users) == 0 {
				m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
			} else {
				r.Users = users
			}
			m.normalizeReactions()
			return false
		}
		r.Users = append(r.Users, userID)
		return true
	}
	m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, Users: []string{userID}})
	return true
}

// MarkReadBy 集合并，已读过返回 false
func (m *Message) MarkReadBy(userID string) bool {
	if contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Attachments = append([]Attachment{}, m.Attachments...)
	cp.Reactions = make([]Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		cp.Reactions[i] = Reaction{Emoji: r.Emoji, Users: append([]string{}, r.Users...)}
	}
	cp.Mentions = append([]string{}, m.Mentions...)
	cp.ReadBy = append([]string{}, m.ReadBy...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// Normalize nil 切片置空
func (m *Message) Normalize() {
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	m.normalizeReactions()
	if m.Mentions == nil {
		m.Mentions = []string{}
	}
	if m.ReadBy == nil {
		m.ReadBy = []string{}
	}
}

func (m *Message) normalizeReactions() {
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
}

// TypeFor 有附件即 file，否则 text
func TypeFor(attachments []Attachment) string {
	if len(attachments) > 0 {
		return MessageFile
	}
	return MessageText
}
