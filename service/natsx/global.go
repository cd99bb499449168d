package natsx

import (
	"sync"

	"PPChat/logger"

	"go.uber.org/zap"
)

var (
	mu        sync.Mutex
	globalMgr *NatsManager
)

// StartNats 启动全局 NATS，重复调用返回已有实例
func StartNats(cfg NatsxConfig, routes ...NatsxRoute) (*NatsManager, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalMgr != nil {
		return globalMgr, nil
	}
	if cfg.Name == "" {
		cfg.Name = "ppchat"
	}
	mgr, err := NewNatsManager(cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range routes {
		if err := mgr.RegisterRoute(r); err != nil {
			_ = mgr.Close()
			return nil, err
		}
	}
	globalMgr = mgr
	logger.Info("[NATS] started", zap.Strings("servers", cfg.Servers), zap.Int("routes", len(routes)))
	return mgr, nil
}

// StopNats 优雅关闭
func StopNats() error {
	mu.Lock()
	defer mu.Unlock()
	if globalMgr == nil {
		return nil
	}
	err := globalMgr.Close()
	globalMgr = nil
	return err
}

