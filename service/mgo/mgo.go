package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mgo "PPChat/data/database/mgo/mongoutil"
	"PPChat/logger"
	"PPChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// MongoManager 后台连接并保活；断线后自动重连，期间 TryGetDB 返回 false
type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once
	onConnect func(ctx context.Context, db *mongo.Database)

	lastErr atomic.Value // error
}

var globalMgr = NewManager()

func NewManager() *MongoManager {
	return &MongoManager{readyCh: make(chan struct{})}
}

// OnConnect 每次(重)连成功后回调，用于建索引
func (m *MongoManager) OnConnect(fn func(ctx context.Context, db *mongo.Database)) {
	m.onConnect = fn
}

// StartAsync 一直运行到 ctx.Done()
func (m *MongoManager) StartAsync(ctx context.Context, cfg *mgo.Config) {
	go func() {
		for {
			if !m.connect(ctx, cfg) {
				return
			}
			m.keepAlive(ctx)
			if ctx.Err() != nil {
				return
			}
			logger.Warn("mongo connection lost, reconnecting")
		}
	}()
}

// connect 退避重试直到连上；ctx 结束返回 false
func (m *MongoManager) connect(ctx context.Context, cfg *mgo.Config) bool {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return false
		}
		cli, err := mgo.NewMongoDB(ctx, cfg)
		if err == nil {
			m.mu.Lock()
			m.client = cli
			m.mu.Unlock()
			logger.Info("mongo connected", zap.String("database", cfg.Database))
			if m.onConnect != nil {
				m.onConnect(ctx, cli.GetDB())
			}
			m.readyOnce.Do(func() { close(m.readyCh) })
			return true
		}
		m.lastErr.Store(err)
		logger.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

func (m *MongoManager) keepAlive(ctx context.Context) {
	fail := 0
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return
		case <-ticker.C:
			db, ok := m.TryGetDB()
			if !ok {
				return
			}
			if err := db.Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= failThresh {
					m.drop()
					return
				}
				continue
			}
			fail = 0
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// backoff 指数退避 + 0~20% 抖动
func backoff(attempt int) time.Duration {
	b := baseBackoff << attempt
	if b > maxBackoff {
		b = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(b / 5)))
	return b - jitter/2
}

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	if _, ok := m.TryGetDB(); ok {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready")
	}
}

func (m *MongoManager) Close() {
	m.drop()
}

func Manager() *MongoManager {
	return globalMgr
}

func StartAsync(ctx context.Context, cfg *mgo.Config) {
	globalMgr.StartAsync(ctx, cfg)
}

func TryGetDB() (*mongo.Database, bool) {
	return globalMgr.TryGetDB()
}

func WaitReady(ctx context.Context) error {
	return globalMgr.WaitReady(ctx)
}
