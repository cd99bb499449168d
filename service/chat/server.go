package chat

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"PPChat/module/chat/store"
	"PPChat/service/auth"

	"github.com/gorilla/websocket"
)

// Conf websocket 侧的运行参数
type Conf struct {
	SendQueueSize  int
	ReadLimit      int64
	PingInterval   time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	TxTimeout      time.Duration // 单条事件的事务超时
	RateRPS        float64
	RateBurst      int
	AllowedOrigins []string // 空或包含 "*" 时不校验 Origin
}

func DefaultConf() Conf {
	return Conf{
		SendQueueSize: 256,
		ReadLimit:     64 << 10,
		PingInterval:  25 * time.Second,
		WriteWait:     10 * time.Second,
		PongWait:      60 * time.Second,
		TxTimeout:     5 * time.Second,
		RateRPS:       20,
		RateBurst:     40,
	}
}

func (c Conf) withDefaults() Conf {
	d := DefaultConf()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	// ping 必须早于读超时
	if c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.TxTimeout <= 0 {
		c.TxTimeout = d.TxTimeout
	}
	if c.RateRPS <= 0 {
		c.RateRPS = d.RateRPS
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	return c
}

// Server 把各组件拼在一起；HTTP 入口见 HandleWS
type Server struct {
	conf     Conf
	store    store.Store
	gate     *auth.Gate
	reg      *Registry
	bc       *Broadcaster
	engine   *Engine
	presence *Presence
	disp     *Dispatcher
	upgrader websocket.Upgrader
}

func NewServer(conf Conf, st store.Store, gate *auth.Gate) *Server {
	conf = conf.withDefaults()
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	s := &Server{
		conf:     conf,
		store:    st,
		gate:     gate,
		reg:      reg,
		bc:       bc,
		engine:   NewEngine(st, reg, bc),
		presence: NewPresence(st, reg, bc),
		disp:     NewDispatcher(),
	}
	s.engine.Routes(s.disp)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(conf.AllowedOrigins),
	}
	return s
}

func (s *Server) Registry() *Registry       { return s.reg }
func (s *Server) Broadcaster() *Broadcaster { return s.bc }
func (s *Server) Engine() *Engine           { return s.engine }
func (s *Server) Presence() *Presence       { return s.presence }
func (s *Server) Disp() *Dispatcher         { return s.disp }

// SetExporter 引擎和在线状态共用一个外发队列
func (s *Server) SetExporter(x Exporter) {
	s.engine.SetExporter(x)
	s.presence.SetExporter(x)
}

func (s *Server) SetPresenceMirror(m PresenceMirror) { s.presence.SetMirror(m) }

// Shutdown 关闭所有连接；各自的读循环随后完成注销
func (s *Server) Shutdown() {
	for _, c := range s.reg.allClients() {
		c.Close()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 非浏览器客户端
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
