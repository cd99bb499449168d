package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
)

type fixture struct {
	t        *testing.T
	ctx      context.Context
	st       *store.MemStore
	reg      *Registry
	bc       *Broadcaster
	engine   *Engine
	presence *Presence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	return &fixture{
		t:        t,
		ctx:      context.Background(),
		st:       st,
		reg:      reg,
		bc:       bc,
		engine:   NewEngine(st, reg, bc),
		presence: NewPresence(st, reg, bc),
	}
}

func (f *fixture) user(name string) *model.User {
	f.t.Helper()
	u := &model.User{Username: name, Status: model.StatusOffline, CreatedAt: time.Now()}
	if err := f.st.CreateUser(f.ctx, u); err != nil {
		f.t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func (f *fixture) channel(name, typ, owner string, members ...string) *model.Channel {
	f.t.Helper()
	now := time.Now()
	ch := &model.Channel{
		Name:         name,
		Type:         typ,
		Owner:        owner,
		Members:      append([]string{owner}, members...),
		Admins:       []string{owner},
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.st.CreateChannel(f.ctx, ch); err != nil {
		f.t.Fatalf("create channel %s: %v", name, err)
	}
	return ch
}

// connect 注册一条没有底层 ws 的连接，帧留在队列里用 Pending 取
func (f *fixture) connect(connID string, u *model.User, rooms ...string) *Session {
	f.t.Helper()
	s := NewSession(connID, u.ID, u.Username, NewClient(connID, u.ID, nil, 16))
	f.reg.Register(s)
	for _, r := range rooms {
		f.reg.JoinRoom(connID, r)
	}
	return s
}

type gotFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func frames(t *testing.T, s *Session) []gotFrame {
	t.Helper()
	var out []gotFrame
	for _, raw := range s.Client().Pending() {
		var g gotFrame
		if err := json.Unmarshal(raw, &g); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		out = append(out, g)
	}
	return out
}

func events(t *testing.T, s *Session) []string {
	t.Helper()
	var out []string
	for _, g := range frames(t, s) {
		out = append(out, g.Event)
	}
	return out
}

func expectEvents(t *testing.T, s *Session, want ...string) []gotFrame {
	t.Helper()
	got := frames(t, s)
	if len(got) != len(want) {
		t.Fatalf("conn %s: got %d frames %v, want %v", s.ConnID, len(got), got, want)
	}
	for i := range want {
		if got[i].Event != want[i] {
			t.Fatalf("conn %s frame %d: got %s, want %s", s.ConnID, i, got[i].Event, want[i])
		}
	}
	return got
}

type recordExporter struct {
	events []string
	keys   []string
}

func (r *recordExporter) Export(event, key string, data any) {
	r.events = append(r.events, event)
	r.keys = append(r.keys, key)
}
