package store

import (
	"context"
	"errors"
	"time"

	"PPChat/module/chat/model"
	"PPChat/tools/errs"
)

// EnsureGeneral 幂等：公开的 general 频道不存在就建一个，无 owner、无成员。
// 多个节点同时启动时靠 (type, name) 唯一索引兜底，撞上就回读
func EnsureGeneral(ctx context.Context, s Channels) (*model.Channel, error) {
	ch, err := s.FindChannelByName(ctx, model.ChannelPublic, model.GeneralChannelName)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, errs.ErrRecordNotFound) {
		return nil, err
	}
	now := time.Now()
	ch = &model.Channel{
		ID:           NewID(),
		Name:         model.GeneralChannelName,
		Description:  "General discussion channel",
		Type:         model.ChannelPublic,
		Avatar:       model.DefaultAvatar(model.GeneralChannelName),
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateChannel(ctx, ch); err != nil {
		if errs.Code(err) != errs.DuplicateKeyError {
			return nil, err
		}
		return s.FindChannelByName(ctx, model.ChannelPublic, model.GeneralChannelName)
	}
	return ch, nil
}
