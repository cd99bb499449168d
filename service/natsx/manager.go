package natsx

import (
	"context"

	"PPChat/tools/errs"
)

var errNotInitialized = errs.New("nats manager not initialized")

// NatsManager 对外的门面，nil 安全
type NatsManager struct {
	client *NatsxClient
}

func NewNatsManager(cfg NatsxConfig) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{client: c}, nil
}

func (m *NatsManager) ready() bool { return m != nil && m.client != nil }

func (m *NatsManager) Close() error {
	if !m.ready() {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) Client() *NatsxClient { return m.client }

func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if !m.ready() {
		return errNotInitialized.Wrap()
	}
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if !m.ready() {
		return errNotInitialized.Wrap()
	}
	return m.client.Publish(ctx, biz, data, hdr)
}

func (m *NatsManager) PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error {
	if !m.ready() {
		return errNotInitialized.Wrap()
	}
	return m.client.PublishOnce(ctx, biz, data, hdr, msgID)
}
