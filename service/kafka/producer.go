package kafka

import (
	"strings"
	"time"

	"PPChat/tools/errs"

	"github.com/Shopify/sarama"
)

// BuildConfig 同步生产者配置；分区由 key 决定，同一频道的事件落在同一分区
func BuildConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	if c.Version == (sarama.KafkaVersion{}) {
		cfg.Version = sarama.V2_1_0_0
	} else {
		cfg.Version = c.Version
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.Retries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Compression = compression(c.Compression)

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func compression(s string) sarama.CompressionCodec {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	case "gzip":
		return sarama.CompressionGZIP
	default:
		return sarama.CompressionNone
	}
}

// NewSyncProducer 建连并返回同步生产者；AutoCreateTopic 时先确保 topic 存在
func NewSyncProducer(c Config) (sarama.SyncProducer, error) {
	if len(c.Brokers) == 0 {
		return nil, errs.New("kafka brokers missing").Wrap()
	}
	if c.Topic == "" {
		return nil, errs.New("kafka topic missing").Wrap()
	}
	cfg := BuildConfig(c)
	if err := cfg.Validate(); err != nil {
		return nil, errs.WrapMsg(err, "sarama config validate")
	}
	if c.AutoCreateTopic {
		admin, err := sarama.NewClusterAdmin(c.Brokers, cfg)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka cluster admin", "brokers", strings.Join(c.Brokers, ","))
		}
		err = EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor)
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka sync producer", "brokers", strings.Join(c.Brokers, ","))
	}
	return p, nil
}

// SendMessage key 决定分区
func SendMessage(p sarama.SyncProducer, topic, key string, value []byte) (int32, int64, error) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	partition, offset, err := p.SendMessage(msg)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "kafka send", "topic", topic, "key", key)
	}
	return partition, offset, nil
}
