package natsx

import (
	"context"
	"time"
)

// Publisher 单条发布；NatsManager 和 NatsxClient 都满足
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 失败重试 Retries 次，间隔从 Backoff 起翻倍。
// 每次都带同一个 msgID，JetStream 侧不会重复落盘
type NatsxSyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Publish(ctx context.Context, biz string, payload []byte, hdr map[string]string, msgID string) error {
	wait := sp.Backoff
	err := sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
	for i := 0; err != nil && i < sp.Retries; i++ {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait *= 2
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
	}
	return err
}
