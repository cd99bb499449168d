package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"PPChat/service/natsx"
)

// NatsRoutes 每个导出事件一条路由：<prefix>.<event>
func NatsRoutes(prefix string, jetstream bool) []natsx.NatsxRoute {
	mode := natsx.Core
	if jetstream {
		mode = natsx.JetStream
	}
	prefix = strings.TrimSuffix(prefix, ".")
	out := make([]natsx.NatsxRoute, 0, len(Exported))
	for _, ev := range Exported {
		out = append(out, natsx.NatsxRoute{Biz: ev, Subject: prefix + "." + ev, Mode: mode})
	}
	return out
}

type NatsSink struct {
	pub   *natsx.NatsxSyncPublisher
	close func() error
}

// NewNatsSink closer 为空时 Close 不做任何事
func NewNatsSink(p natsx.Publisher, closer func() error) *NatsSink {
	return &NatsSink{
		pub:   &natsx.NatsxSyncPublisher{P: p, Retries: 2, Backoff: 200 * time.Millisecond},
		close: closer,
	}
}

func (s *NatsSink) Send(ctx context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	hdr := map[string]string{"X-Event": ev.Name, "X-Key": ev.Key}
	return s.pub.Publish(ctx, ev.Name, body, hdr, ev.ID)
}

func (s *NatsSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
