package storage

import (
	"context"
	"strconv"
	"time"

	"PPChat/tools/errs"

	"github.com/redis/go-redis/v9"
)

const defaultPresenceTTL = 2 * time.Minute

// presence key: im:presence:<user>
// hash: status / conns / node / lastSeen；在线时靠 TTL 续期，进程挂掉后自然过期
func presenceKey(user string) string { return "im:presence:" + user }

type PresenceInfo struct {
	Status   string
	Conns    int
	Node     string
	LastSeen time.Time
}

// PresenceMirror 把进程内的在线状态镜像到 redis，供外部查询
type PresenceMirror struct {
	rdb    *redis.Client
	nodeID string
	ttl    time.Duration
}

func NewPresenceMirror(rdb *redis.Client, nodeID string, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &PresenceMirror{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func (p *PresenceMirror) TTL() time.Duration { return p.ttl }

// Set 写入状态并续期
func (p *PresenceMirror) Set(ctx context.Context, user, status string, conns int, at time.Time) error {
	key := presenceKey(user)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"status", status,
			"conns", conns,
			"node", p.nodeID,
			"lastSeen", at.UnixMilli(),
		)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "presence set", "user", user)
	}
	return nil
}

// Touch 只续期，key 不存在时无操作
func (p *PresenceMirror) Touch(ctx context.Context, users ...string) error {
	if len(users) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range users {
			pipe.Expire(ctx, presenceKey(u), p.ttl)
		}
		return nil
	})
	if err != nil {
		return errs.WrapMsg(err, "presence touch", "users", len(users))
	}
	return nil
}

// Lookup found=false 表示没有记录（从未上线或已过期）
func (p *PresenceMirror) Lookup(ctx context.Context, user string) (*PresenceInfo, bool, error) {
	vals, err := p.rdb.HGetAll(ctx, presenceKey(user)).Result()
	if err != nil {
		return nil, false, errs.WrapMsg(err, "presence lookup", "user", user)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}
	info := &PresenceInfo{Status: vals["status"], Node: vals["node"]}
	info.Conns, _ = strconv.Atoi(vals["conns"])
	if ms, err := strconv.ParseInt(vals["lastSeen"], 10, 64); err == nil {
		info.LastSeen = time.UnixMilli(ms)
	}
	return info, true, nil
}

func (p *PresenceMirror) Delete(ctx context.Context, user string) error {
	return errs.Wrap(p.rdb.Del(ctx, presenceKey(user)).Err())
}
