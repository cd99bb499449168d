package config

import (
	mgo "PPChat/data/database/mgo/mongoutil"
	"PPChat/service/chat"
	"PPChat/service/kafka"
	"PPChat/service/natsx"
	redis "PPChat/service/storage/redis"
	"PPChat/tools/errs"
	"PPChat/tools/security"

	"github.com/Shopify/sarama"
)

// 各组件的配置从 AppConfig 派生

func (c *AppConfig) SecurityOptions() security.Options {
	opts := security.DefaultOptions([]byte(c.Auth.JwtSecret))
	if c.Auth.Alg != "" {
		opts.Alg = c.Auth.Alg
	}
	if c.Auth.TokenTTL > 0 {
		opts.TTL = c.Auth.TokenTTL
	}
	return opts
}

func (c *AppConfig) MongoOptions() *mgo.Config {
	m := c.Mongo
	return &mgo.Config{
		Uri:         m.Uri,
		Address:     m.Address,
		Database:    m.Database,
		Username:    m.Username,
		Password:    m.Password,
		AuthSource:  m.AuthSource,
		MaxPoolSize: m.MaxPoolSize,
		MaxRetry:    m.MaxRetry,
		Timeout:     m.Timeout,
	}
}

func (c *AppConfig) RedisOptions() redis.Config {
	return redis.Config{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	}
}

func (c *AppConfig) NatsOptions() natsx.NatsxConfig {
	return natsx.NatsxConfig{
		Servers:  c.Nats.Servers,
		Name:     "ppchat-" + c.Chat.NodeID,
		User:     c.Nats.User,
		Password: c.Nats.Password,
	}
}

// KafkaOptions version 解析失败直接报错，不静默回落
func (c *AppConfig) KafkaOptions() (kafka.Config, error) {
	k := kafka.DefaultConfig()
	k.Brokers = c.Kafka.Brokers
	k.Topic = c.Kafka.Topic
	k.AutoCreateTopic = c.Kafka.AutoCreateTopic
	if c.Kafka.Compression != "" {
		k.Compression = c.Kafka.Compression
	}
	if c.Kafka.Partitions > 0 {
		k.Partitions = c.Kafka.Partitions
	}
	if c.Kafka.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Kafka.Version)
		if err != nil {
			return k, errs.ErrArgs.WithMsg("invalid kafka.version").WrapMsg(err.Error(), "version", c.Kafka.Version)
		}
		k.Version = v
	}
	return k, nil
}

func (c *AppConfig) ChatConf() chat.Conf {
	conf := chat.DefaultConf()
	ch := c.Chat
	if ch.SendQueueSize > 0 {
		conf.SendQueueSize = ch.SendQueueSize
	}
	if ch.ReadLimit > 0 {
		conf.ReadLimit = ch.ReadLimit
	}
	if ch.PingInterval > 0 {
		conf.PingInterval = ch.PingInterval
	}
	if ch.WriteWait > 0 {
		conf.WriteWait = ch.WriteWait
	}
	if ch.PongWait > 0 {
		conf.PongWait = ch.PongWait
	}
	if ch.TxTimeout > 0 {
		conf.TxTimeout = ch.TxTimeout
	}
	if ch.RateRPS > 0 {
		conf.RateRPS = ch.RateRPS
	}
	if ch.RateBurst > 0 {
		conf.RateBurst = ch.RateBurst
	}
	conf.AllowedOrigins = c.Server.AllowedOrigins
	return conf
}
