// Package store is the persistence gateway for users, channels and messages.
// Two implementations share one contract: MongoStore for the running service
// and MemStore for tests and local runs without a database.
package store

import (
	"context"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 100
	SearchLimit         = 10
)

type Users interface {
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error)
	// CreateUser 用户名、邮箱唯一；冲突返回 DuplicateKey
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUserStatus(ctx context.Context, id, status string, lastSeen time.Time) error
	// SearchUsers 用户名或邮箱子串匹配（不区分大小写），排除 excludeID
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error)
}

type Channels interface {
	FindChannelByID(ctx context.Context, id string) (*model.Channel, error)
	// FindChannelByName 频道名在同一类型内唯一
	FindChannelByName(ctx context.Context, typ, name string) (*model.Channel, error)
	FindChannelsByMember(ctx context.Context, userID string) ([]*model.Channel, error)
	// FindVisibleChannels 公开频道 + 自己所在的频道，lastActivity 倒序
	FindVisibleChannels(ctx context.Context, userID string) ([]*model.Channel, error)
	FindDirectChannel(ctx context.Context, a, b string) (*model.Channel, error)
	FindDirectChannelsFor(ctx context.Context, userID string) ([]*model.Channel, error)
	CreateChannel(ctx context.Context, c *model.Channel) error
	// UpdateChannelInfo 只改可编辑字段，成员和 lastMessage 不受影响
	UpdateChannelInfo(ctx context.Context, id string, info ChannelInfo) error
	DeleteChannel(ctx context.Context, id string) error
	AddChannelMember(ctx context.Context, channelID, userID string) error
	RemoveChannelMember(ctx context.Context, channelID, userID string) error
	// TouchChannel 记录最后一条消息；lastActivity 只前进不后退
	TouchChannel(ctx context.Context, channelID, messageID string, at time.Time) error
}

// ChannelInfo 频道资料里允许管理员修改的部分
type ChannelInfo struct {
	Name        string
	Description string
	Avatar      string
	UpdatedAt   time.Time
}

type Messages interface {
	FindMessageByID(ctx context.Context, id string) (*model.Message, error)
	CreateMessage(ctx context.Context, m *model.Message) error
	SaveMessage(ctx context.Context, m *model.Message) error
	DeleteMessage(ctx context.Context, id string) error
	// ListMessages 未删除的消息，before 之前最新的 limit 条，按时间正序返回
	ListMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]*model.Message, error)
	// MarkRead readBy 集合并
	MarkRead(ctx context.Context, messageID, userID string) error
}

type Store interface {
	Users
	Channels
	Messages
}

// NewID 24 位 hex ObjectID
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID 非 ObjectID 的 id 直接按不存在处理
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

// ClampLimit 历史消息分页大小
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}

func notFound(what string, kv ...any) error {
	return errs.ErrRecordNotFound.WrapMsg(what+" not found", kv...)
}

func duplicate(what string, kv ...any) error {
	return errs.ErrDuplicateKey.WrapMsg(what+" already exists", kv...)
}

func persistence(err error, op string, kv ...any) error {
	return errs.ErrPersistence.WithDetail(err.Error()).WrapMsg(op, kv...)
}
