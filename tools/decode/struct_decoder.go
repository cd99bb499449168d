package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 宽松解码："123" -> int 等；事件负载默认关闭，类型不对直接报错
	WeaklyTypedInput bool
	// 出现结构体未声明的字段时报错
	ErrorUnused bool
}

// DefaultOptions 严格模式：未知字段、错误类型都拒绝。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: false,
		ErrorUnused:      true,
	}
}

// Lenient 兼容旧客户端的宽松模式。
func Lenient() Options {
	return Options{WeaklyTypedInput: true}
}

// DecodeMap 将 map[string]any 解码到任意结构体 T，字段读取使用 `json` tag。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("payload is empty")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		ErrorUnused:      cfg.ErrorUnused,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			wholeFloatToIntHook(),
			sliceAnyToSliceStringHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// DecodeJSON 先解成 map 再走 DecodeMap，保证未知字段能被发现。
func DecodeJSON[T any](raw []byte, opts ...Options) (*T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("payload is empty")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return DecodeMap[T](m, opts...)
}

// -----------------------------
// Decode Hooks
// -----------------------------

// wholeFloatToIntHook：JSON 数字是 float64，整数字段只接受无小数部分的值。
func wholeFloatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to {
		case reflect.Int, reflect.Int32, reflect.Int64:
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("expected integer, got %v", f)
			}
			switch to {
			case reflect.Int:
				return int(f), nil
			case reflect.Int32:
				return int32(f), nil
			default:
				return int64(f), nil
			}
		}
		return data, nil
	}
}

// sliceAnyToSliceStringHook：[]any -> []string，只在目标确实是 []string 时生效，
// 元素必须全是字符串。
func sliceAnyToSliceStringHook() mapstructure.DecodeHookFuncType {
	strSlice := reflect.TypeOf([]string(nil))
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Slice || to != strSlice {
			return data, nil
		}
		src, ok := data.([]any)
		if !ok {
			return data, nil
		}
		out := make([]string, 0, len(src))
		for i, it := range src {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %T", i, it)
			}
			out = append(out, s)
		}
		return out, nil
	}
}
