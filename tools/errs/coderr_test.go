package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeAndMessageThroughWrap(t *testing.T) {
	err := ErrRecordNotFound.WithMsg("Channel not found").WrapMsg("find channel", "id", "abc")
	wrapped := fmt.Errorf("engine: %w", err)

	if got := Code(wrapped); got != RecordNotFoundError {
		t.Fatalf("Code = %d, want %d", got, RecordNotFoundError)
	}
	if got := Message(wrapped); got != "Channel not found" {
		t.Fatalf("Message = %q", got)
	}
	if !errors.Is(wrapped, ErrRecordNotFound) {
		t.Fatalf("errors.Is should match by code")
	}
	if errors.Is(wrapped, ErrNoPermission) {
		t.Fatalf("errors.Is must not match a different code")
	}
}

func TestCodeRelation(t *testing.T) {
	err := ErrUserNotFound.Wrap()
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("UserNotFound should be an Unauthenticated error")
	}
	if errors.Is(ErrUnauthenticated.Wrap(), ErrUserNotFound) {
		t.Fatalf("relation is one-way")
	}
	if !errors.Is(ErrDuplicateKey.Wrap(), ErrArgs) {
		t.Fatalf("DuplicateKey should be an Args error")
	}
}

func TestPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	if Code(plain) != ServerInternalError {
		t.Fatalf("plain error should map to internal")
	}
	if Message(plain) != "Internal server error" {
		t.Fatalf("plain error message leaked: %q", Message(plain))
	}
	if Code(nil) != 0 || Message(nil) != "" {
		t.Fatalf("nil error should have zero code")
	}

	w := WrapMsg(plain, "save message", "id", 7)
	if !errors.Is(w, plain) {
		t.Fatalf("wrapper must unwrap to cause")
	}
	if w.Error() != "save message, id=7: boom" {
		t.Fatalf("unexpected text %q", w.Error())
	}
}

func TestDetailDoesNotChangeMessage(t *testing.T) {
	e := ErrPersistence.WithMsg("Failed to send message").WithDetail("connection reset")
	if e.Msg != "Failed to send message" || e.Detail != "connection reset" {
		t.Fatalf("unexpected %+v", e)
	}
	if ErrPersistence.Detail != "" {
		t.Fatalf("WithDetail must not mutate the shared error")
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanic(nil) != nil {
		t.Fatalf("nil recover should be nil")
	}
	err := ErrPanic("index out of range")
	if Code(err) != ServerInternalError || Message(err) != "Internal server error" {
		t.Fatalf("panic err = %v", err)
	}
}

func TestRelationIsLocal(t *testing.T) {
	r := NewCodeRelation()
	r.Add(1, 2, 3)
	if !r.Is(1, 3) || !r.Is(2, 2) || r.Is(3, 1) || r.Is(2, 3) {
		t.Fatalf("unexpected relation")
	}
}
