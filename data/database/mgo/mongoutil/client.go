package mongoutil

import (
	"context"
	"errors"
	"time"

	"PPChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 认证类错误重试没有意义
const (
	codeUnauthorized   = 13
	codeAuthFailed     = 18
	firstRetryInterval = 500 * time.Millisecond
)

type Client struct {
	db *mongo.Database
}

func (c *Client) GetDB() *mongo.Database { return c.db }

func (c *Client) Disconnect(ctx context.Context) error {
	return c.db.Client().Disconnect(ctx)
}

// NewMongoDB 连接并 ping，失败按 MaxRetry 退避重试
func NewMongoDB(ctx context.Context, cfg *Config) (*Client, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	opts := clientOptions(cfg)

	var (
		cli  *mongo.Client
		err  error
		wait = firstRetryInterval
	)
	for attempt := 1; attempt <= cfg.MaxRetry; attempt++ {
		cli, err = connect(ctx, opts, cfg.Timeout)
		if err == nil || !retryable(ctx, err) || attempt == cfg.MaxRetry {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errs.WrapMsg(ctx.Err(), "mongo connect canceled", "database", cfg.Database)
		case <-time.After(wait):
		}
		wait *= 2
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "failed to connect to MongoDB", "database", cfg.Database, "retry", cfg.MaxRetry)
	}
	return &Client{db: cli.Database(cfg.Database)}, nil
}

func clientOptions(cfg *Config) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.Uri).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetAppName("PPChat").
		SetServerSelectionTimeout(cfg.Timeout).
		SetConnectTimeout(cfg.Timeout)

	// 单独给了用户名以它为准，覆盖 URI 里的认证
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts
}

func connect(ctx context.Context, opts *options.ClientOptions, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return cli, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthFailed
	}
	return true
}
