package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"PPChat/tools/errs"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix     = "CHAT_"
	EnvConfigPath = "CHAT_CONFIG"
	DefaultPath   = "config.yaml"
)

type AppConfig struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Mongo  MongoConfig  `yaml:"mongo"`
	Redis  RedisConfig  `yaml:"redis"`
	Nats   NatsConfig   `yaml:"nats"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Chat   ChatConfig   `yaml:"chat"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`      // http + websocket
	GrpcAddr       string        `yaml:"grpc_addr"` // 健康检查，空则不启动
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateRPS        float64       `yaml:"rate_rps"` // REST 每 IP 限流
	RateBurst      int           `yaml:"rate_burst"`
	ShutdownWait   time.Duration `yaml:"shutdown_wait"`
}

type AuthConfig struct {
	JwtSecret string        `yaml:"jwt_secret"`
	Alg       string        `yaml:"alg"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type MongoConfig struct {
	Uri         string        `yaml:"uri"`
	Address     []string      `yaml:"address"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	AuthSource  string        `yaml:"auth_source"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	MaxRetry    int           `yaml:"max_retry"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type NatsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Servers       []string `yaml:"servers"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	JetStream     bool     `yaml:"jetstream"`
}

type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	Topic           string   `yaml:"topic"`
	Compression     string   `yaml:"compression"`
	Version         string   `yaml:"version"`
	AutoCreateTopic bool     `yaml:"auto_create_topic"`
	Partitions      int32    `yaml:"partitions"`
}

type ChatConfig struct {
	NodeID        string        `yaml:"node_id"`
	SendQueueSize int           `yaml:"send_queue_size"`
	ReadLimit     int64         `yaml:"read_limit"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	WriteWait     time.Duration `yaml:"write_wait"`
	PongWait      time.Duration `yaml:"pong_wait"`
	TxTimeout     time.Duration `yaml:"tx_timeout"`
	RateRPS       float64       `yaml:"rate_rps"` // 每连接
	RateBurst     int           `yaml:"rate_burst"`
	ExportQueue   int           `yaml:"export_queue"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var (
	mu     sync.RWMutex
	Global = Default()
)

// Default 只配 mongo 就能启动
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:         ":8080",
			GrpcAddr:     ":50051",
			RateRPS:      20,
			RateBurst:    40,
			ShutdownWait: 10 * time.Second,
		},
		Auth: AuthConfig{
			Alg:      "HS256",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Mongo: MongoConfig{
			Uri:         "mongodb://localhost:27017",
			Database:    "ppchat",
			MaxPoolSize: 20,
			MaxRetry:    3,
			Timeout:     10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			PoolSize:    20,
			PresenceTTL: 2 * time.Minute,
		},
		Nats: NatsConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			SubjectPrefix: "ppchat.events",
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"127.0.0.1:9092"},
			Topic:       "ppchat.events",
			Compression: "snappy",
			Version:     "2.1.0",
			Partitions:  8,
		},
		Chat: ChatConfig{
			NodeID:        hostname(),
			SendQueueSize: 256,
			ReadLimit:     64 << 10,
			PingInterval:  25 * time.Second,
			WriteWait:     10 * time.Second,
			PongWait:      60 * time.Second,
			TxTimeout:     5 * time.Second,
			RateRPS:       20,
			RateBurst:     40,
			ExportQueue:   1024,
		},
		Log: LogConfig{Level: "info"},
	}
}

func hostname() string {
	if h, _ := os.Hostname(); h != "" {
		return h
	}
	return "chat-node"
}

// ResolvePath -config 优先，其次 CHAT_CONFIG，最后 ./config.yaml
func ResolvePath(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultPath
}

// ParseFlags 解析 -config
func ParseFlags(fs *flag.FlagSet, args []string) (string, error) {
	path := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return "", errs.WrapMsg(err, "parse flags")
	}
	return ResolvePath(*path), nil
}

// Load 默认值 <- yaml 文件 <- .env <- CHAT_* 环境变量
// 默认路径的文件不存在时只用默认值；显式指定的文件必须存在
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errs.WrapMsg(err, "parse config", "path", path)
		}
	case os.IsNotExist(err) && path == DefaultPath:
	default:
		return nil, errs.WrapMsg(err, "read config", "path", path)
	}

	// .env 不覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errs.WrapMsg(err, "load .env")
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Chat.NodeID == "" {
		cfg.Chat.NodeID = hostname()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Set 替换全局配置
func Set(cfg *AppConfig) {
	mu.Lock()
	defer mu.Unlock()
	Global = cfg
}

func Get() *AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return Global
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Auth.JwtSecret) == "" {
		return errs.ErrArgs.WithMsg("auth.jwt_secret is required").Wrap()
	}
	if c.Mongo.Uri == "" && len(c.Mongo.Address) == 0 {
		return errs.ErrArgs.WithMsg("mongo.uri or mongo.address is required").Wrap()
	}
	if c.Mongo.Database == "" {
		return errs.ErrArgs.WithMsg("mongo.database is required").Wrap()
	}
	if c.Nats.Enabled && len(c.Nats.Servers) == 0 {
		return errs.ErrArgs.WithMsg("nats.servers is required when nats is enabled").Wrap()
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errs.ErrArgs.WithMsg("kafka.brokers and kafka.topic are required when kafka is enabled").Wrap()
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// ApplyEnv CHAT_<SECTION>_<FIELD>，例如 CHAT_MONGO_URI、CHAT_REDIS_ENABLED
func ApplyEnv(c *AppConfig, lookup func(key string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("SERVER_ADDR", &c.Server.Addr)
	e.str("SERVER_GRPC_ADDR", &c.Server.GrpcAddr)
	e.list("SERVER_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	e.float("SERVER_RATE_RPS", &c.Server.RateRPS)
	e.integer("SERVER_RATE_BURST", &c.Server.RateBurst)
	e.duration("SERVER_SHUTDOWN_WAIT", &c.Server.ShutdownWait)

	e.str("AUTH_JWT_SECRET", &c.Auth.JwtSecret)
	e.str("AUTH_ALG", &c.Auth.Alg)
	e.duration("AUTH_TOKEN_TTL", &c.Auth.TokenTTL)

	e.str("MONGO_URI", &c.Mongo.Uri)
	e.list("MONGO_ADDRESS", &c.Mongo.Address)
	e.str("MONGO_DATABASE", &c.Mongo.Database)
	e.str("MONGO_USERNAME", &c.Mongo.Username)
	e.str("MONGO_PASSWORD", &c.Mongo.Password)
	e.str("MONGO_AUTH_SOURCE", &c.Mongo.AuthSource)
	e.integer("MONGO_MAX_POOL_SIZE", &c.Mongo.MaxPoolSize)

	e.boolean("REDIS_ENABLED", &c.Redis.Enabled)
	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.integer("REDIS_DB", &c.Redis.DB)
	e.duration("REDIS_PRESENCE_TTL", &c.Redis.PresenceTTL)

	e.boolean("NATS_ENABLED", &c.Nats.Enabled)
	e.list("NATS_SERVERS", &c.Nats.Servers)
	e.str("NATS_USER", &c.Nats.User)
	e.str("NATS_PASSWORD", &c.Nats.Password)
	e.str("NATS_SUBJECT_PREFIX", &c.Nats.SubjectPrefix)
	e.boolean("NATS_JETSTREAM", &c.Nats.JetStream)

	e.boolean("KAFKA_ENABLED", &c.Kafka.Enabled)
	e.list("KAFKA_BROKERS", &c.Kafka.Brokers)
	e.str("KAFKA_TOPIC", &c.Kafka.Topic)
	e.str("KAFKA_COMPRESSION", &c.Kafka.Compression)
	e.str("KAFKA_VERSION", &c.Kafka.Version)

	e.str("CHAT_NODE_ID", &c.Chat.NodeID)
	e.integer("CHAT_SEND_QUEUE_SIZE", &c.Chat.SendQueueSize)
	e.duration("CHAT_PING_INTERVAL", &c.Chat.PingInterval)
	e.duration("CHAT_PONG_WAIT", &c.Chat.PongWait)
	e.duration("CHAT_TX_TIMEOUT", &c.Chat.TxTimeout)
	e.float("CHAT_RATE_RPS", &c.Chat.RateRPS)
	e.integer("CHAT_RATE_BURST", &c.Chat.RateBurst)

	e.str("LOG_LEVEL", &c.Log.Level)
	return e.err
}

// envReader 记录第一个解析错误，后面的字段照常读
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = errs.ErrArgs.WithMsg("invalid env " + EnvPrefix + key).WrapMsg(err.Error(), "value", v)
	}
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
