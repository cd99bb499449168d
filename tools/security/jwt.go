package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ClaimUserID 令牌里携带用户主键的 claim 名
const ClaimUserID = "userId"

const defaultTTL = 30 * 24 * time.Hour

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 30d）
}

type JWTClaims struct {
	jwtlib.MapClaims
}

var (
	ErrNoToken      = errors.New("token is empty")
	ErrNoUserClaim  = errors.New("token has no userId claim")
	ErrSecretNotSet = errors.New("jwt secret is empty")
)

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: defaultTTL}
}

// Generate 签发携带 userId 的令牌
func Generate(opts Options, userID string) (token string, expireAt time.Time, err error) {
	if len(opts.Secret) == 0 {
		return "", time.Time{}, ErrSecretNotSet
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		ClaimUserID: userID,
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify 校验签名与有效期，只接受 HMAC 家族
func Verify(opts Options, token string) (*JWTClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoToken
	}
	if len(opts.Secret) == 0 {
		return nil, ErrSecretNotSet
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return opts.Secret, nil
	}, jwtlib.WithValidMethods([]string{method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

// UserID 读取 userId claim
func (c *JWTClaims) UserID() (string, error) {
	v, ok := c.MapClaims[ClaimUserID]
	if !ok {
		return "", ErrNoUserClaim
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", ErrNoUserClaim
	}
	return s, nil
}

// IsExpired 区分过期与其它校验失败（日志用）
func IsExpired(err error) bool {
	return errors.Is(err, jwtlib.ErrTokenExpired)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
