package mongoutil

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"PPChat/tools/errs"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
	defaultTimeout     = 10 * time.Second
)

// Config 连接参数；Uri 优先，否则由 Address 拼出
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
	MaxRetry    int
	Timeout     time.Duration // 单次连接 + ping
}

// ValidateAndSetDefaults 校验并补齐默认值，Uri 为空时按 Address 生成
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrArgs.WithMsg("mongo uri or address is required").Wrap()
	}
	if c.Database == "" {
		return errs.ErrArgs.WithMsg("mongo database is required").Wrap()
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Uri == "" {
		c.Uri = c.buildURI()
	}
	return nil
}

// buildURI authSource 未配置时用库名
func (c *Config) buildURI() string {
	src := c.AuthSource
	if src == "" {
		src = c.Database
	}
	q := url.Values{}
	q.Set("authSource", src)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))

	u := url.URL{
		Scheme:   "mongodb",
		Host:     strings.Join(c.Address, ","),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}
