package dispatcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PPChat/logger"
	"PPChat/service/metrics"
	"PPChat/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultQueueSize = 1024

// Queue 有界、非阻塞的导出队列，单协程按入队顺序投递
type Queue struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan *Event
	done   chan struct{}
}

func NewQueue(sink Sink, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Queue{
		sink:    sink,
		timeout: timeout,
		now:     time.Now,
		log:     logger.Named("export"),
		ch:      make(chan *Event, size),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Start() {
	safe.Go("export-queue", func() {
		defer close(q.done)
		for ev := range q.ch {
			q.send(ev)
		}
	})
}

func (q *Queue) send(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.sink.Send(ctx, ev); err != nil {
		metrics.ExportDropped.Inc()
		q.log.Warn("export failed", zap.String("event", ev.Name), zap.String("key", ev.Key), zap.Error(err))
	}
}

// Export 队列满或已关闭直接丢弃
func (q *Queue) Export(event, key string, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		metrics.ExportDropped.Inc()
		q.log.Error("encode export event", zap.String("event", event), zap.Error(err))
		return
	}
	ev := &Event{ID: uuid.NewString(), Name: event, Key: key, At: q.now(), Data: body}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.ExportDropped.Inc()
		return
	}
	select {
	case q.ch <- ev:
	default:
		metrics.ExportDropped.Inc()
		q.log.Warn("export queue full, drop", zap.String("event", event), zap.String("key", key))
	}
}

// Close 停止接收，等队列排空后关闭 sink
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	select {
	case <-q.done:
	case <-ctx.Done():
		q.log.Warn("export queue not drained", zap.Int("pending", len(q.ch)))
	}
	return q.sink.Close()
}
