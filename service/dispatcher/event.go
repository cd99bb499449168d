// Package dispatcher 把成功的聊天事件异步导出到 NATS 或 Kafka。
// 导出失败只计数和记日志，不影响事务结果。
package dispatcher

import (
	"context"
	"encoding/json"
	"time"
)

// 导出的事件名
var Exported = []string{
	"message:receive",
	"message:edit",
	"message:delete",
	"message:react",
	"user:status",
}

// Event 导出信封；ID 同时作为去重键
type Event struct {
	ID   string          `json:"id"`
	Name string          `json:"event"`
	Key  string          `json:"key"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Sink 导出目标
type Sink interface {
	Send(ctx context.Context, ev *Event) error
	Close() error
}
