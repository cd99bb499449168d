package natsx

import (
	"context"

	"PPChat/logger"
	"PPChat/tools/errs"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// HeaderMsgID JetStream 按它去重
const HeaderMsgID = nats.MsgIdHdr

// Publish 按 biz 找路由再发送
func (c *NatsxClient) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := c.route(biz)
	if !ok {
		return errs.New("route not found", "biz", biz).Wrap()
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}

	switch r.Mode {
	case Core:
		if err := c.nc.PublishMsg(msg); err != nil {
			return errs.WrapMsg(err, "nats publish", "subject", r.Subject)
		}
		return nil
	case JetStream:
		return c.publishJS(ctx, msg)
	default:
		return errs.New("unsupported mode", "biz", biz, "mode", int(r.Mode)).Wrap()
	}
}

// PublishOnce 带 Nats-Msg-Id 发布；msgID 为空时生成一个
func (c *NatsxClient) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	h := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		h[k] = v
	}
	h[HeaderMsgID] = msgID
	return c.Publish(ctx, biz, data, h)
}

// publishJS 调用方没给 deadline 时用连接超时等 ack
func (c *NatsxClient) publishJS(ctx context.Context, msg *nats.Msg) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return errs.New("jetstream not initialized", "subject", msg.Subject).Wrap()
	}
	ack, err := js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", msg.Subject)
	}
	if ack.Duplicate {
		logger.Debug("[NATS] duplicate dropped", zap.String("stream", ack.Stream), zap.String("msgId", msg.Header.Get(HeaderMsgID)))
	}
	return nil
}
