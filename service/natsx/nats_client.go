package natsx

import (
	"strings"
	"sync"
	"time"

	"PPChat/logger"
	"PPChat/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NatsxMode 发布方式
type NatsxMode int

const (
	Core      NatsxMode = iota // fire and forget
	JetStream                  // 等 ack，按 Nats-Msg-Id 去重
)

// NatsxRoute biz -> subject
type NatsxRoute struct {
	Biz     string
	Subject string
	Mode    NatsxMode
}

type NatsxConfig struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

func (c NatsxConfig) withDefaults() NatsxConfig {
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax <= 0 {
		c.PublishAsyncMax = 4096
	}
	return c
}

func (c NatsxConfig) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[NATS] disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[NATS] reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("[NATS] connection closed")
		}),
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	return opts
}

// NatsxClient 连接 + 路由表；路由在启动时注册，之后只读
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn

	mu     sync.RWMutex
	js     nats.JetStreamContext
	routes map[string]NatsxRoute
}

// NewNatsxClient 断线无限重连
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.New("nats servers missing").Wrap()
	}
	cfg = cfg.withDefaults()
	servers := strings.Join(cfg.Servers, ",")
	nc, err := nats.Connect(servers, cfg.options()...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", servers)
	}
	return &NatsxClient{cfg: cfg, nc: nc, routes: make(map[string]NatsxRoute)}, nil
}

// Close drain 后断开，未发完的消息会先刷出去
func (c *NatsxClient) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func (c *NatsxClient) Conn() *nats.Conn { return c.nc }

// RegisterRoute JetStream 路由第一次注册时建上下文
func (c *NatsxClient) RegisterRoute(r NatsxRoute) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.New("invalid route", "biz", r.Biz, "subject", r.Subject).Wrap()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Mode == JetStream && c.js == nil {
		js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
		if err != nil {
			return errs.WrapMsg(err, "init jetstream")
		}
		c.js = js
	}
	c.routes[r.Biz] = r
	return nil
}

func (c *NatsxClient) route(biz string) (NatsxRoute, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}
