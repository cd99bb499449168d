package chat

import (
	"context"
	"sync"
	"time"

	"PPChat/logger"
	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/keylock"

	"go.uber.org/zap"
)

// PresenceMirror 在线状态的外部镜像（redis）
type PresenceMirror interface {
	Set(ctx context.Context, user, status string, conns int, at time.Time) error
	Touch(ctx context.Context, users ...string) error
}

// Presence 由 Registry 的连接数推导 online/offline。
// 同一用户的转换串行执行，只有状态真正变化时才落库并广播
type Presence struct {
	store  store.Store
	reg    *Registry
	bc     *Broadcaster
	locks  *keylock.KeyLock
	mirror PresenceMirror
	export Exporter
	now    func() time.Time
	log    *zap.Logger

	mu   sync.Mutex
	last map[string]string // user -> 最近一次发出的状态；缺省视为 offline
}

func NewPresence(st store.Store, reg *Registry, bc *Broadcaster) *Presence {
	return &Presence{
		store: st,
		reg:   reg,
		bc:    bc,
		locks: keylock.New(),
		now:   time.Now,
		log:   logger.Named("presence"),
		last:  make(map[string]string),
	}
}

func (p *Presence) SetMirror(m PresenceMirror) { p.mirror = m }
func (p *Presence) SetExporter(x Exporter)     { p.export = x }

// Sync 连接注册/注销之后调用；exclude 为触发本次转换的连接（上线时不回显给自己）
// 返回本次是否发生了状态转换
func (p *Presence) Sync(ctx context.Context, userID, exclude string) bool {
	unlock := p.locks.Lock(userID)
	defer unlock()

	status := model.StatusOffline
	if p.reg.IsOnline(userID) {
		status = model.StatusOnline
	}

	p.mu.Lock()
	prev, ok := p.last[userID]
	if !ok {
		prev = model.StatusOffline
	}
	if prev == status {
		p.mu.Unlock()
		return false
	}
	if status == model.StatusOffline {
		delete(p.last, userID)
	} else {
		p.last[userID] = status
	}
	p.mu.Unlock()

	now := p.now()
	if err := p.store.UpdateUserStatus(ctx, userID, status, now); err != nil {
		// 广播以内存中的连接状态为准，落库失败只记日志
		p.log.Error("persist presence", zap.String("user", userID), zap.String("status", status), zap.Error(err))
	}
	if p.mirror != nil {
		if err := p.mirror.Set(ctx, userID, status, len(p.reg.ConnectionsFor(userID)), now); err != nil {
			p.log.Warn("mirror presence", zap.String("user", userID), zap.Error(err))
		}
	}

	// 按频道成员关系广播，而不是按当前已加入的房间
	channels, err := p.store.FindChannelsByMember(ctx, userID)
	if err != nil {
		p.log.Error("load channels for presence", zap.String("user", userID), zap.Error(err))
		return true
	}
	data := StatusData{UserID: userID, Status: status}
	for _, ch := range channels {
		p.bc.Publish(ch.ID, EventUserStatus, data, exclude)
	}
	if p.export != nil {
		p.export.Export(EventUserStatus, userID, data)
	}
	p.log.Debug("presence changed", zap.String("user", userID), zap.String("status", status), zap.Int("channels", len(channels)))
	return true
}

// Status 进程内的实时状态
func (p *Presence) Status(userID string) string {
	if p.reg.IsOnline(userID) {
		return model.StatusOnline
	}
	return model.StatusOffline
}

// KeepAlive 定期给在线用户的镜像续期，直到 ctx 结束
func (p *Presence) KeepAlive(ctx context.Context, every time.Duration) {
	if p.mirror == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users := p.onlineUsers()
			if err := p.mirror.Touch(ctx, users...); err != nil {
				p.log.Warn("refresh presence mirror", zap.Int("users", len(users)), zap.Error(err))
			}
		}
	}
}

func (p *Presence) onlineUsers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.last))
	for u := range p.last {
		out = append(out, u)
	}
	return out
}
