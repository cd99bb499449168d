package kafka

import "github.com/Shopify/sarama"

// Config 事件导出用的生产者配置
type Config struct {
	Brokers           []string
	Topic             string
	Compression       string // none/snappy/lz4/zstd
	Retries           int
	Version           sarama.KafkaVersion
	AutoCreateTopic   bool
	Partitions        int32
	ReplicationFactor int16
}

func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		Topic:             "ppchat.events",
		Compression:       "snappy",
		Retries:           5,
		Version:           sarama.V2_1_0_0,
		Partitions:        8,
		ReplicationFactor: 1,
	}
}
