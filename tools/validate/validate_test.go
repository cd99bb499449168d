package validate

import (
	"strings"
	"testing"
)

type sample struct {
	Name    string `json:"name" validate:"required,maxrunes=5"`
	Kind    string `json:"kind" validate:"omitempty,oneof=public private"`
	Handle  string `json:"handle" validate:"omitempty,username"`
	Size    int64  `json:"size" validate:"gte=0"`
	Ignored string `json:"-"`
}

func TestStructMessages(t *testing.T) {
	cases := []struct {
		in   sample
		want string
	}{
		{sample{}, "name is required"},
		{sample{Name: "ééééééé"}, "name must be at most 5 characters"},
		{sample{Name: "a", Kind: "secret"}, "kind must be one of: public private"},
		{sample{Name: "a", Handle: "no spaces"}, "Username must be"},
		{sample{Name: "a", Size: -1}, "size must be >= 0"},
	}
	for _, c := range cases {
		err := Struct(c.in)
		if err == nil || !strings.HasPrefix(err.Error(), c.want) {
			t.Errorf("Struct(%+v) = %v, want prefix %q", c.in, err, c.want)
		}
	}
	if err := Struct(sample{Name: "ééééé", Kind: "public", Handle: "bob_1"}); err != nil {
		t.Fatalf("valid sample rejected: %v", err)
	}
}

func TestUsername(t *testing.T) {
	for _, ok := range []string{"abc", "Alice_99", strings.Repeat("a", 30)} {
		if !Username(ok) {
			t.Errorf("%q should be valid", ok)
		}
	}
	for _, bad := range []string{"ab", strings.Repeat("a", 31), "bad-name", ""} {
		if Username(bad) {
			t.Errorf("%q should be invalid", bad)
		}
	}
}
