package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"PPChat/data/database/mgo/mongoutil"
	"PPChat/module/chat/model"
	"PPChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

func TestMemStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemStore() })
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("CHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHAT_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runStoreSuite(t, func(t *testing.T) Store {
		cfg := &mongoutil.Config{Uri: uri, Database: "ppchat_test_" + NewID()[:8]}
		cli, err := mongoutil.NewMongoDB(ctx, cfg)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() {
			_ = cli.GetDB().Drop(context.Background())
			_ = cli.Disconnect(context.Background())
		})
		if err := EnsureIndexes(ctx, cli.GetDB()); err != nil {
			t.Fatalf("indexes: %v", err)
		}
		return NewMongoStore(FixedDB(cli.GetDB()))
	})
}

func TestMongoStoreNotReady(t *testing.T) {
	s := NewMongoStore(func() (*mongo.Database, bool) { return nil, false })
	_, err := s.FindUserByID(context.Background(), NewID())
	if errs.Code(err) != errs.PersistenceError || errs.Message(err) != "database not ready" {
		t.Fatalf("err = %v", err)
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("channels", func(t *testing.T) { testChannels(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("general", func(t *testing.T) { testEnsureGeneral(t, newStore(t)) })
}

func testEnsureGeneral(t *testing.T, s Store) {
	ctx := context.Background()
	first, err := EnsureGeneral(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if first.Type != model.ChannelPublic || first.Owner != "" || len(first.Members) != 0 {
		t.Fatalf("seeded = %+v", first)
	}
	for i := 0; i < 2; i++ {
		again, err := EnsureGeneral(ctx, s)
		if err != nil || again.ID != first.ID {
			t.Fatalf("second seed = %v %+v, want id %s", err, again, first.ID)
		}
	}
	visible, _ := s.FindVisibleChannels(ctx, NewID())
	if len(visible) != 1 || visible[0].ID != first.ID {
		t.Fatalf("visible = %+v", visible)
	}
}

func TestEnsureGeneralConcurrent(t *testing.T) {
	s := NewMemStore()
	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := EnsureGeneral(context.Background(), s)
			if err != nil {
				t.Errorf("seed: %v", err)
				return
			}
			ids <- ch.ID
		}()
	}
	wg.Wait()
	close(ids)
	var want string
	for id := range ids {
		if want == "" {
			want = id
		}
		if id != want {
			t.Fatalf("seeded twice: %s and %s", want, id)
		}
	}
	all, _ := s.FindVisibleChannels(context.Background(), "")
	if len(all) != 1 {
		t.Fatalf("channels = %+v", all)
	}
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	u := &model.User{Username: "Alice", Email: "alice@example.com", Status: model.StatusOffline}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if u.ID == "" || u.Username != "alice" {
		t.Fatalf("user not normalized: %+v", u)
	}
	if err := s.CreateUser(ctx, &model.User{Username: "ALICE"}); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Fatalf("duplicate username: %v", err)
	}
	if err := s.CreateUser(ctx, &model.User{Username: "bob"}); err != nil {
		t.Fatal(err)
	}
	// 无邮箱的用户可以有多个
	if err := s.CreateUser(ctx, &model.User{Username: "carol"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindUserByUsername(ctx, "alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find by username: %v %+v", err, got)
	}
	if _, err := s.FindUserByEmail(ctx, "alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindUserByID(ctx, NewID()); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing user: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.UpdateUserStatus(ctx, u.ID, model.StatusOnline, at); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindUserByID(ctx, u.ID)
	if got.Status != model.StatusOnline || !got.LastSeen.Equal(at) {
		t.Fatalf("status not updated: %+v", got)
	}

	found, err := s.SearchUsers(ctx, "O", u.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].Username != "bob" || found[1].Username != "carol" {
		t.Fatalf("search = %+v", found)
	}
	// 正则元字符按字面处理
	if found, _ := s.SearchUsers(ctx, ".*", "", 0); len(found) != 0 {
		t.Fatalf("regex not escaped: %+v", found)
	}

	list, err := s.FindUsersByIDs(ctx, []string{u.ID, u.ID, NewID()})
	if err != nil || len(list) != 1 {
		t.Fatalf("by ids: %v %+v", err, list)
	}
}

func testChannels(t *testing.T, s Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	general := &model.Channel{Name: "general", Type: model.ChannelPublic, Members: []string{"a"}, LastActivity: now}
	secret := &model.Channel{Name: "secret", Type: model.ChannelPrivate, Owner: "b", Members: []string{"b"}, LastActivity: now.Add(time.Second)}
	for _, c := range []*model.Channel{general, secret} {
		if err := s.CreateChannel(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateChannel(ctx, &model.Channel{Name: "general", Type: model.ChannelPublic}); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Fatalf("duplicate name: %v", err)
	}
	// 名字只在同类型内唯一
	privGeneral := &model.Channel{Name: "general", Type: model.ChannelPrivate, Owner: "c", Members: []string{"c"}}
	if err := s.CreateChannel(ctx, privGeneral); err != nil {
		t.Fatalf("same name other type: %v", err)
	}
	if byName, err := s.FindChannelByName(ctx, model.ChannelPublic, "general"); err != nil || byName.ID != general.ID {
		t.Fatalf("public general = %v %+v", err, byName)
	}
	if byName, err := s.FindChannelByName(ctx, model.ChannelPrivate, "general"); err != nil || byName.ID != privGeneral.ID {
		t.Fatalf("private general = %v %+v", err, byName)
	}
	if err := s.DeleteChannel(ctx, privGeneral.ID); err != nil {
		t.Fatal(err)
	}

	visible, _ := s.FindVisibleChannels(ctx, "a")
	if len(visible) != 1 || visible[0].ID != general.ID {
		t.Fatalf("visible for a = %+v", visible)
	}
	visible, _ = s.FindVisibleChannels(ctx, "b")
	if len(visible) != 2 || visible[0].ID != secret.ID {
		t.Fatalf("visible for b should be activity ordered: %+v", visible)
	}

	if err := s.AddChannelMember(ctx, general.ID, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddChannelMember(ctx, general.ID, "b"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FindChannelByID(ctx, general.ID)
	if len(got.Members) != 2 {
		t.Fatalf("members = %v", got.Members)
	}
	mine, _ := s.FindChannelsByMember(ctx, "b")
	if len(mine) != 2 {
		t.Fatalf("member of = %+v", mine)
	}
	if err := s.RemoveChannelMember(ctx, general.ID, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.AddChannelMember(ctx, NewID(), "b"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing channel: %v", err)
	}

	// lastActivity 只前进
	later := now.Add(time.Minute)
	if err := s.TouchChannel(ctx, general.ID, "m2", later); err != nil {
		t.Fatal(err)
	}
	if err := s.TouchChannel(ctx, general.ID, "m1", now); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindChannelByID(ctx, general.ID)
	if !got.LastActivity.Equal(later) || got.LastMessage != "m1" {
		t.Fatalf("touch = %v %s", got.LastActivity, got.LastMessage)
	}

	dm := &model.Channel{Name: model.DirectChannelName("a", "b"), Type: model.ChannelDirect, Members: []string{"a", "b"}}
	if err := s.CreateChannel(ctx, dm); err != nil {
		t.Fatal(err)
	}
	found, err := s.FindDirectChannel(ctx, "b", "a")
	if err != nil || found.ID != dm.ID {
		t.Fatalf("find dm: %v %+v", err, found)
	}
	if _, err := s.FindDirectChannel(ctx, "a", "c"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing dm: %v", err)
	}
	dms, _ := s.FindDirectChannelsFor(ctx, "a")
	if len(dms) != 1 {
		t.Fatalf("dms = %+v", dms)
	}

	// 资料更新不碰成员和 lastMessage
	if err := s.AddChannelMember(ctx, general.ID, "c"); err != nil {
		t.Fatal(err)
	}
	info := ChannelInfo{Name: "lobby", Description: "hello", Avatar: "x.png", UpdatedAt: later}
	if err := s.UpdateChannelInfo(ctx, general.ID, info); err != nil {
		t.Fatal(err)
	}
	got, _ = s.FindChannelByID(ctx, general.ID)
	if got.Name != "lobby" || got.Description != "hello" || got.Avatar != "x.png" {
		t.Fatalf("info = %+v", got)
	}
	if !got.IsMember("c") || got.LastMessage != "m1" {
		t.Fatalf("info update clobbered members/lastMessage: %+v", got)
	}
	if _, err := s.FindChannelByName(ctx, model.ChannelPublic, "lobby"); err != nil {
		t.Fatalf("renamed channel: %v", err)
	}
	if _, err := s.FindChannelByName(ctx, model.ChannelPublic, "general"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("old name still found: %v", err)
	}
	info.Name = "lobby2"
	if err := s.UpdateChannelInfo(ctx, NewID(), info); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing channel: %v", err)
	}
	if err := s.CreateChannel(ctx, &model.Channel{Name: "taken", Type: model.ChannelPublic}); err != nil {
		t.Fatal(err)
	}
	info.Name = "taken"
	if err := s.UpdateChannelInfo(ctx, general.ID, info); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Fatalf("rename onto taken name: %v", err)
	}

	if err := s.DeleteChannel(ctx, secret.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindChannelByName(ctx, model.ChannelPrivate, "secret"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("deleted channel still found: %v", err)
	}
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 5; i++ {
		m := &model.Message{ChannelID: "c1", UserID: "a", Content: "x", Type: model.MessageText, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
	}
	other := &model.Message{ChannelID: "c2", UserID: "a", Content: "y", CreatedAt: base}
	_ = s.CreateMessage(ctx, other)

	// 软删除的不出现在历史里
	m, _ := s.FindMessageByID(ctx, ids[4])
	del := base.Add(time.Hour)
	m.DeletedAt = &del
	if err := s.SaveMessage(ctx, m); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListMessages(ctx, "c1", nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != ids[1] || list[2].ID != ids[3] {
		t.Fatalf("latest page wrong: %v", msgIDs(list))
	}
	before := base.Add(2 * time.Second)
	list, _ = s.ListMessages(ctx, "c1", &before, 10)
	if len(list) != 2 || list[0].ID != ids[0] || list[1].ID != ids[1] {
		t.Fatalf("before page wrong: %v", msgIDs(list))
	}

	if err := s.MarkRead(ctx, ids[0], "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkRead(ctx, ids[0], "b"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.FindMessageByID(ctx, ids[0])
	if len(got.ReadBy) != 1 {
		t.Fatalf("readBy = %v", got.ReadBy)
	}
	if err := s.MarkRead(ctx, NewID(), "b"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing message: %v", err)
	}

	if err := s.DeleteMessage(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindMessageByID(ctx, ids[0]); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("hard deleted message found: %v", err)
	}
}

func msgIDs(list []*model.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: DefaultMessageLimit, -3: DefaultMessageLimit, 7: 7, 500: MaxMessageLimit}
	for in, want := range cases {
		if got := ClampLimit(in); got != want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
