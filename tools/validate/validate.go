package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate

	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
)

// Validator 单例，字段名取 json tag
func Validator() *validator.Validate {
	once.Do(func() {
		v = validator.New()
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernameRe.MatchString(fl.Field().String())
		})
		// 按字符数（不是字节数）限制长度
		_ = v.RegisterValidation("maxrunes", func(fl validator.FieldLevel) bool {
			var n int
			if _, err := fmt.Sscan(fl.Param(), &n); err != nil {
				return false
			}
			return utf8.RuneCountInString(fl.Field().String()) <= n
		})
	})
	return v
}

// Struct 校验并把第一条失败转成可读文案
func Struct(s any) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		return errors.New(describe(ves[0]))
	}
	return err
}

// Username 注册时的用户名规则
func Username(s string) bool { return usernameRe.MatchString(s) }

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max", "maxrunes":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "username":
		return "Username must be 3-30 characters and contain only letters, numbers, and underscores"
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
