package model

import (
	"net/url"
	"strings"
	"time"
)

// User Status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusBusy    = "busy"
)

// User 用户主档；Password 只存 bcrypt 哈希，永不序列化给客户端
type User struct {
	ID        string    `bson:"_id" json:"_id"`
	Username  string    `bson:"username" json:"username"`                 // 小写存储，唯一
	Email     string    `bson:"email,omitempty" json:"email,omitempty"`   // 可选，出现时唯一
	Password  string    `bson:"password" json:"-"`                        // bcrypt
	Avatar    string    `bson:"avatar,omitempty" json:"avatar,omitempty"` // 头像URL
	Status    string    `bson:"status" json:"status"`                     // online/offline/away/busy
	Bio       string    `bson:"bio,omitempty" json:"bio,omitempty"`
	LastSeen  time.Time `bson:"lastSeen" json:"lastSeen"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// UserSummary 广播/列表里内联的作者信息
type UserSummary struct {
	ID       string `bson:"_id" json:"_id"`
	Username string `bson:"username" json:"username"`
	Avatar   string `bson:"avatar,omitempty" json:"avatar,omitempty"`
	Status   string `bson:"status" json:"status"`
}

func (u *User) TableName() string {
	return "users"
}

func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Status: u.Status}
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// NormalizeUsername 用户名大小写不敏感
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DefaultAvatar ui-avatars 占位头像
func DefaultAvatar(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
