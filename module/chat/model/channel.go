package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Channel Type
const (
	ChannelPublic  = "public"
	ChannelPrivate = "private"
	ChannelDirect  = "direct"
)

const (
	MaxChannelNameLen   = 50
	MaxChannelDescLen   = 200
	GeneralChannelName  = "general"
	directChannelPrefix = "dm_"
)

// Channel 频道；成员/管理员只存用户 id 引用
type Channel struct {
	ID           string    `bson:"_id" json:"_id"`
	Name         string    `bson:"name" json:"name"`
	Description  string    `bson:"description,omitempty" json:"description,omitempty"`
	Type         string    `bson:"type" json:"type"`
	Owner        string    `bson:"owner,omitempty" json:"owner,omitempty"`
	Members      []string  `bson:"members" json:"members"`
	Admins       []string  `bson:"admins" json:"admins"`
	Avatar       string    `bson:"avatar,omitempty" json:"avatar,omitempty"`
	LastMessage  string    `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastActivity time.Time `bson:"lastActivity" json:"lastActivity"`
	IsArchived   bool      `bson:"isArchived" json:"isArchived"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (c *Channel) TableName() string {
	return "channels"
}

func (c *Channel) IsMember(userID string) bool {
	return contains(c.Members, userID)
}

// CanManage 管理员或 owner
func (c *Channel) CanManage(userID string) bool {
	return c.Owner == userID || contains(c.Admins, userID)
}

// AddMember 已在成员里返回 false
func (c *Channel) AddMember(userID string) bool {
	if c.IsMember(userID) {
		return false
	}
	c.Members = append(c.Members, userID)
	return true
}

func (c *Channel) RemoveMember(userID string) bool {
	var removed bool
	c.Members, removed = without(c.Members, userID)
	c.Admins, _ = without(c.Admins, userID)
	return removed
}

func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Members = append([]string{}, c.Members...)
	cp.Admins = append([]string{}, c.Admins...)
	return &cp
}

// Normalize nil 切片置空，JSON 输出 [] 而不是 null
func (c *Channel) Normalize() {
	if c.Members == nil {
		c.Members = []string{}
	}
	if c.Admins == nil {
		c.Admins = []string{}
	}
}

// SortedPair 私聊频道以无序二元组为键
func SortedPair(a, b string) [2]string {
	p := []string{a, b}
	sort.Strings(p)
	return [2]string{p[0], p[1]}
}

// DirectChannelName dm_ + sha256("<a>-<b>") 前 20 位
func DirectChannelName(a, b string) string {
	p := SortedPair(a, b)
	sum := sha256.Sum256([]byte(p[0] + "-" + p[1]))
	return directChannelPrefix + hex.EncodeToString(sum[:])[:20]
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) ([]string, bool) {
	out := list[:0:0]
	removed := false
	for _, x := range list {
		if x == v {
			removed = true
			continue
		}
		out = append(out, x)
	}
	return out, removed
}

// Dedup 保序去重
func Dedup(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, x := range list {
		if x == "" {
			continue
		}
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
