package chat

import (
	"encoding/json"
	"testing"
)

func TestBroadcasterPublish(t *testing.T) {
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	a := newTestSession("a", "u1")
	b := newTestSession("b", "u2")
	c := newTestSession("c", "u3")
	for _, s := range []*Session{a, b, c} {
		reg.Register(s)
	}
	reg.JoinRoom("a", "room")
	reg.JoinRoom("b", "room")

	if n := bc.Publish("room", EventUserTyping, TypingData{UserID: "u1", ChannelID: "room", IsTyping: true}, "a"); n != 1 {
		t.Fatalf("delivered to %d", n)
	}
	if got := a.Client().Pending(); len(got) != 0 {
		t.Fatalf("excluded sender got %d frames", len(got))
	}
	if got := c.Client().Pending(); len(got) != 0 {
		t.Fatalf("non-member got %d frames", len(got))
	}
	got := b.Client().Pending()
	if len(got) != 1 {
		t.Fatalf("member got %d frames", len(got))
	}
	var f struct {
		Event string     `json:"event"`
		Data  TypingData `json:"data"`
	}
	if err := json.Unmarshal(got[0], &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Event != EventUserTyping || !f.Data.IsTyping || f.Data.UserID != "u1" {
		t.Fatalf("frame = %+v", f)
	}

	if n := bc.Publish("room", EventMessageDelete, DeleteData{MessageID: "m", ChannelID: "room"}, ""); n != 2 {
		t.Fatalf("include-sender publish delivered to %d", n)
	}
	if n := bc.Publish("empty", EventMessageDelete, DeleteData{}, ""); n != 0 {
		t.Fatalf("empty room delivered to %d", n)
	}
}

func TestBroadcasterOrder(t *testing.T) {
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	s := NewSession("a", "u1", "u1", NewClient("a", "u1", nil, 64))
	reg.Register(s)
	reg.JoinRoom("a", "room")
	for i := 0; i < 10; i++ {
		bc.Publish("room", EventMessageEdit, EditData{MessageID: string(rune('a' + i))}, "")
	}
	for i, raw := range s.Client().Pending() {
		var f struct {
			Data EditData `json:"data"`
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if f.Data.MessageID != string(rune('a'+i)) {
			t.Fatalf("frame %d out of order: %s", i, f.Data.MessageID)
		}
	}
}

func TestBroadcasterSlowConsumerKicked(t *testing.T) {
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	slow := NewSession("slow", "u1", "u1", NewClient("slow", "u1", nil, 2))
	fast := NewSession("fast", "u2", "u2", NewClient("fast", "u2", nil, 16))
	reg.Register(slow)
	reg.Register(fast)
	reg.JoinRoom("slow", "room")
	reg.JoinRoom("fast", "room")

	for i := 0; i < 3; i++ {
		bc.Publish("room", EventUserTyping, TypingData{ChannelID: "room"}, "")
	}
	if !slow.Client().Closed() {
		t.Fatalf("slow consumer should be disconnected")
	}
	if fast.Client().Closed() {
		t.Fatalf("fast consumer should stay connected")
	}
	if got := len(fast.Client().Pending()); got != 3 {
		t.Fatalf("fast consumer got %d frames", got)
	}
	// 已断开的连接不再入队
	if n := bc.Publish("room", EventUserTyping, TypingData{ChannelID: "room"}, ""); n != 1 {
		t.Fatalf("delivered to %d after kick", n)
	}
}

func TestBroadcasterUnicast(t *testing.T) {
	reg := NewRegistry()
	bc := NewBroadcaster(reg)
	s := newTestSession("a", "u1")
	reg.Register(s)
	if !bc.PublishToConnection("a", EventError, ErrorData{Message: "boom"}) {
		t.Fatalf("unicast failed")
	}
	if bc.PublishToConnection("missing", EventError, ErrorData{Message: "boom"}) {
		t.Fatalf("unicast to unknown conn should fail")
	}
	got := s.Client().Pending()
	if len(got) != 1 || string(got[0]) != `{"event":"error","data":{"message":"boom"}}` {
		t.Fatalf("unicast frame = %q", got)
	}
}
