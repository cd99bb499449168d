package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/tools/errs"
	"PPChat/tools/security"
)

func newGate(t *testing.T) (*Gate, *model.User) {
	t.Helper()
	st := store.NewMemStore()
	u := &model.User{Username: "alice"}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return NewGate(security.DefaultOptions([]byte("test-secret")), st), u
}

func TestResolve(t *testing.T) {
	g, u := newGate(t)
	token, exp, err := g.Issue(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) < 29*24*time.Hour {
		t.Fatalf("ttl too short: %v", exp)
	}
	id, err := g.Resolve(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != u.ID || id.Username != "alice" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveFailures(t *testing.T) {
	g, _ := newGate(t)
	ghost, _, _ := g.Issue(store.NewID())
	other, _, _ := security.Generate(security.DefaultOptions([]byte("other")), "x")

	cases := []struct {
		name  string
		token string
		code  int
		msg   string
	}{
		{"absent", "", errs.UnauthenticatedError, "Authentication required"},
		{"garbage", "not-a-jwt", errs.TokenInvalidError, "Invalid token"},
		{"wrong key", other, errs.TokenInvalidError, "Invalid token"},
		{"unknown user", ghost, errs.UserNotFoundError, "User not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Resolve(context.Background(), tc.token)
			if errs.Code(err) != tc.code || errs.Message(err) != tc.msg {
				t.Fatalf("err = %v", err)
			}
			if !IsUnauthenticated(err) {
				t.Fatalf("%v should count as unauthenticated", err)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q1", nil)
	r.Header.Set("Authorization", "Bearer h1")
	if got := TokenFromRequest(r); got != "q1" {
		t.Fatalf("query should win, got %q", got)
	}
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "bearer h1")
	if got := TokenFromRequest(r); got != "h1" {
		t.Fatalf("got %q", got)
	}
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("got %q", got)
	}
}
