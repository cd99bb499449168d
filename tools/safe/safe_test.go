package safe

import (
	"errors"
	"testing"
	"time"

	"PPChat/tools/errs"
)

func TestRunConvertsPanic(t *testing.T) {
	err := Run(func() error { panic("kaboom") })
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	if errs.Code(err) != errs.ServerInternalError {
		t.Fatalf("code = %d", errs.Code(err))
	}

	want := errors.New("plain")
	if got := Run(func() error { return want }); got != want {
		t.Fatalf("Run should pass errors through, got %v", got)
	}
}

func TestGoRecovers(t *testing.T) {
	done := make(chan struct{})
	Go("test", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("goroutine did not run")
	}
}
