package safe

import (
	"PPChat/logger"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// Go starts f in a goroutine that recovers from panic and logs it,
// so a broken handler never takes the whole gateway down.
func Go(name string, f func()) {
	go func() {
		defer Recover(name)
		f()
	}()
}

// Recover is meant to be deferred directly.
func Recover(name string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered", zap.String("where", name), zap.Error(errs.ErrPanic(r)))
	}
}

// Run calls f and turns a panic into an error.
func Run(f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return f()
}
