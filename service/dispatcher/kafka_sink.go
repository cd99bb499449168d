package dispatcher

import (
	"context"
	"encoding/json"

	"PPChat/service/kafka"

	"github.com/Shopify/sarama"
)

// KafkaSink key 为频道 id（在线状态为用户 id），hash 分区保证同 key 有序
type KafkaSink struct {
	p     sarama.SyncProducer
	topic string
}

func NewKafkaSink(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{p: p, topic: topic}
}

func (s *KafkaSink) Send(_ context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = kafka.SendMessage(s.p, s.topic, ev.Key, body)
	return err
}

func (s *KafkaSink) Close() error { return s.p.Close() }
