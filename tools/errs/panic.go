package errs

import "fmt"

// ErrPanic recover 出来的值转成内部错误，r 为 nil 返回 nil
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternalServer.WrapMsg("panic", "value", fmt.Sprint(r))
}
