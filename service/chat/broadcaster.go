package chat

import (
	"PPChat/logger"
	"PPChat/service/metrics"

	"go.uber.org/zap"
)

// Broadcaster 按房间扇出。帧只编码一次；每个接收者非阻塞入队，
// 队列满的接收者直接断开，不拖慢其他人。同一发布者对同一房间的帧按发布顺序入队
type Broadcaster struct {
	reg *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg}
}

// Publish 返回成功入队的连接数；exclude 为空时包括发送者
func (b *Broadcaster) Publish(roomID, event string, data any, exclude string) int {
	payload, err := EncodeFrame(event, data)
	if err != nil {
		logger.Error("encode broadcast frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	return b.deliver(b.reg.roomClients(roomID, exclude), payload)
}

// PublishToConnection 单播（错误回执等）
func (b *Broadcaster) PublishToConnection(connID, event string, data any) bool {
	c := b.reg.client(connID)
	if c == nil {
		return false
	}
	payload, err := EncodeFrame(event, data)
	if err != nil {
		logger.Error("encode unicast frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return b.deliver([]*Client{c}, payload) == 1
}

func (b *Broadcaster) deliver(clients []*Client, payload []byte) int {
	n := 0
	for _, c := range clients {
		if c.Enqueue(payload) {
			n++
			continue
		}
		if c.Closed() {
			continue
		}
		metrics.BroadcastDrops.Inc()
		logger.Warn("send queue full, disconnecting", zap.String("conn", c.ConnID), zap.String("user", c.UserID))
		c.Close()
	}
	if n > 0 {
		metrics.BroadcastDeliveries.Add(float64(n))
	}
	return n
}
