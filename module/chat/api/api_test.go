package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"PPChat/middleware"
	"PPChat/middleware/security"
	"PPChat/module/chat/model"
	"PPChat/module/chat/store"
	"PPChat/service/auth"
	"PPChat/service/chat"
	"PPChat/service/storage"
	"PPChat/tools/errs"
	sec "PPChat/tools/security"

	"github.com/gin-gonic/gin"
)

type env struct {
	t    *testing.T
	st   *store.MemStore
	gate *auth.Gate
	srv  *chat.Server
	api  *API
	r    *gin.Engine
}

type resp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, func(m *store.MemStore) store.Store { return m })
}

// newEnvWith 服务端看到的是 wrap 后的存储，测试直接操作底层 MemStore
func newEnvWith(t *testing.T, wrap func(*store.MemStore) store.Store) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mem := store.NewMemStore()
	st := wrap(mem)
	gate := auth.NewGate(sec.DefaultOptions([]byte("api-test-secret")), st)
	srv := chat.NewServer(chat.DefaultConf(), st, gate)
	middleware.SetAuth(security.Middleware(gate))
	a := New(st, gate, srv)
	r := gin.New()
	a.Register(r)
	t.Cleanup(srv.Shutdown)
	return &env{t: t, st: mem, gate: gate, srv: srv, api: a, r: r}
}

func (e *env) user(name string) (*model.User, string) {
	e.t.Helper()
	u := &model.User{Username: name, Status: model.StatusOffline, CreatedAt: time.Now()}
	if err := e.st.CreateUser(context.Background(), u); err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	token, _, err := e.gate.Issue(u.ID)
	if err != nil {
		e.t.Fatalf("issue: %v", err)
	}
	return u, token
}

func (e *env) do(method, path, token string, body any) (int, resp) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out resp
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		e.t.Fatalf("%s %s: body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, out
}

func (e *env) expect(method, path, token string, body any, status int, errMsg string) resp {
	e.t.Helper()
	code, out := e.do(method, path, token, body)
	if code != status {
		e.t.Fatalf("%s %s = %d %+v, want %d", method, path, code, out, status)
	}
	if errMsg != "" && out.Error != errMsg {
		e.t.Fatalf("%s %s error = %q, want %q", method, path, out.Error, errMsg)
	}
	if status == http.StatusOK && !out.Success {
		e.t.Fatalf("%s %s not successful: %+v", method, path, out)
	}
	return out
}

// connect 给用户挂一条没有底层 socket 的连接
func (e *env) connect(connID string, u *model.User) *chat.Session {
	s := chat.NewSession(connID, u.ID, u.Username, chat.NewClient(connID, u.ID, nil, 16))
	e.srv.Registry().Register(s)
	return s
}

func decodeData[T any](t *testing.T, r resp) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(r.Data, &v); err != nil {
		t.Fatalf("data %s: %v", r.Data, err)
	}
	return v
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{errs.ErrUnauthenticated.Wrap(), http.StatusUnauthorized},
		{errs.ErrTokenInvalid.Wrap(), http.StatusUnauthorized},
		{errs.ErrNoPermission.Wrap(), http.StatusForbidden},
		{errs.ErrNotOwner.Wrap(), http.StatusForbidden},
		{errs.ErrRecordNotFound.Wrap(), http.StatusNotFound},
		{errs.ErrArgs.Wrap(), http.StatusBadRequest},
		{errs.ErrDuplicateKey.Wrap(), http.StatusBadRequest},
		{errs.ErrRateLimit.Wrap(), http.StatusTooManyRequests},
		{errs.ErrPersistence.Wrap(), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := StatusOf(c.err); got != c.status {
			t.Fatalf("StatusOf(%v) = %d, want %d", c.err, got, c.status)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	e := newEnv(t)
	// 启动时 OnConnect 钩子做的事
	general, err := store.EnsureGeneral(context.Background(), e.st)
	if err != nil {
		t.Fatalf("seed general: %v", err)
	}

	bad := []struct {
		body map[string]string
		msg  string
	}{
		{map[string]string{"username": "alice"}, "All fields are required"},
		{map[string]string{"username": "alice", "password": "secret1", "confirmPassword": "secret2"}, "Passwords do not match"},
		{map[string]string{"username": "alice", "password": "abc", "confirmPassword": "abc"}, "Password must be at least 6 characters"},
		{map[string]string{"username": "a!", "password": "secret1", "confirmPassword": "secret1"}, "Username must be 3-30 characters and contain only letters, numbers, and underscores"},
	}
	for _, c := range bad {
		e.expect(http.MethodPost, "/api/auth/register", "", c.body, http.StatusBadRequest, c.msg)
	}
	e.expect(http.MethodPost, "/api/auth/register", "", `{"username":"alice","nope":1}`, http.StatusBadRequest, "Invalid request body")

	body := map[string]string{"username": "Alice", "password": "secret1", "confirmPassword": "secret1", "email": "Alice@Example.com"}
	out := e.expect(http.MethodPost, "/api/auth/register", "", body, http.StatusOK, "")
	if out.Message != "Registration successful" {
		t.Fatalf("message = %q", out.Message)
	}
	reg := decodeData[authResp](t, out)
	if reg.User.Username != "alice" || reg.User.Email != "alice@example.com" || reg.Token == "" {
		t.Fatalf("register = %+v", reg)
	}
	if reg.User.Avatar != model.DefaultAvatar("Alice") {
		t.Fatalf("avatar = %q", reg.User.Avatar)
	}
	if bytes.Contains(out.Data, []byte("password")) {
		t.Fatalf("password leaked: %s", out.Data)
	}
	ch, _ := e.st.FindChannelByID(context.Background(), general.ID)
	if !ch.IsMember(reg.User.ID) {
		t.Fatalf("new user not joined to general")
	}

	e.expect(http.MethodPost, "/api/auth/register", "", body, http.StatusBadRequest, "Username already exists")
	dupEmail := map[string]string{"username": "alice2", "password": "secret1", "confirmPassword": "secret1", "email": "alice@example.com"}
	e.expect(http.MethodPost, "/api/auth/register", "", dupEmail, http.StatusBadRequest, "Email already exists")

	e.expect(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong!"}, http.StatusUnauthorized, "Invalid username or password")
	e.expect(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "secret1"}, http.StatusUnauthorized, "Invalid username or password")
	out = e.expect(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ALICE", "password": "secret1"}, http.StatusOK, "")
	login := decodeData[authResp](t, out)

	out = e.expect(http.MethodGet, "/api/users/me", login.Token, nil, http.StatusOK, "")
	if me := decodeData[model.User](t, out); me.ID != reg.User.ID {
		t.Fatalf("me = %+v", me)
	}
}

func TestRequiresAuth(t *testing.T) {
	e := newEnv(t)
	e.expect(http.MethodGet, "/api/users/me", "", nil, http.StatusUnauthorized, "Authentication required")
	e.expect(http.MethodGet, "/api/channels", "garbage", nil, http.StatusUnauthorized, "Invalid token")
}

func TestSearchUsers(t *testing.T) {
	e := newEnv(t)
	_, token := e.user("alice")
	e.user("alina")
	e.user("bob")

	out := e.expect(http.MethodGet, "/api/users/search?q=ALI", token, nil, http.StatusOK, "")
	got := decodeData[[]model.UserSummary](t, out)
	if len(got) != 1 || got[0].Username != "alina" {
		t.Fatalf("search = %+v", got)
	}
	out = e.expect(http.MethodGet, "/api/users/search?q=", token, nil, http.StatusOK, "")
	if got := decodeData[[]model.UserSummary](t, out); len(got) != 0 {
		t.Fatalf("empty query = %+v", got)
	}
}

type fakeLookup struct {
	info *storage.PresenceInfo
}

func (f fakeLookup) Lookup(ctx context.Context, user string) (*storage.PresenceInfo, bool, error) {
	return f.info, f.info != nil, nil
}

func TestPresence(t *testing.T) {
	e := newEnv(t)
	alice, token := e.user("alice")
	bob, _ := e.user("bob")

	out := e.expect(http.MethodGet, "/api/users/"+bob.ID+"/presence", token, nil, http.StatusOK, "")
	if p := decodeData[PresenceView](t, out); p.Status != model.StatusOffline || p.Connections != 0 {
		t.Fatalf("offline presence = %+v", p)
	}

	e.connect("b1", bob)
	e.connect("b2", bob)
	out = e.expect(http.MethodGet, "/api/users/"+bob.ID+"/presence", token, nil, http.StatusOK, "")
	if p := decodeData[PresenceView](t, out); p.Status != model.StatusOnline || p.Connections != 2 {
		t.Fatalf("online presence = %+v", p)
	}

	// 本节点没有连接时读 redis 镜像
	e.api.SetPresenceLookup(fakeLookup{info: &storage.PresenceInfo{Status: model.StatusOnline, Conns: 1, Node: "node-2"}})
	out = e.expect(http.MethodGet, "/api/users/"+alice.ID+"/presence", token, nil, http.StatusOK, "")
	if p := decodeData[PresenceView](t, out); p.Status != model.StatusOnline || p.Node != "node-2" {
		t.Fatalf("mirrored presence = %+v", p)
	}

	e.expect(http.MethodGet, "/api/users/not-an-id/presence", token, nil, http.StatusNotFound, "User not found")
}

func TestChannelLifecycle(t *testing.T) {
	e := newEnv(t)
	alice, at := e.user("alice")
	bob, bt := e.user("bob")
	carol, ct := e.user("carol")
	e.connect("b", bob)

	e.expect(http.MethodPost, "/api/channels", at, map[string]any{"name": "  "}, http.StatusBadRequest, "Channel name is required")
	e.expect(http.MethodPost, "/api/channels", at, map[string]any{"name": "x", "type": "direct"}, http.StatusBadRequest, "Channel type must be public or private")

	out := e.expect(http.MethodPost, "/api/channels", at, map[string]any{
		"name": " secret ", "type": "private", "members": []string{bob.ID, "bogus", bob.ID},
	}, http.StatusOK, "")
	priv := decodeData[ChannelView](t, out)
	if priv.Name != "secret" || priv.Owner != alice.ID || len(priv.Members) != 2 || priv.Members[0] != alice.ID {
		t.Fatalf("created = %+v", priv.Channel)
	}
	if len(priv.Admins) != 1 || priv.Admins[0] != alice.ID || len(priv.MemberProfiles) != 2 {
		t.Fatalf("admins/profiles = %+v %+v", priv.Admins, priv.MemberProfiles)
	}
	// 已在线的成员连接直接进房间
	if !e.srv.Registry().InRoom("b", priv.ID) {
		t.Fatalf("online member not joined to room")
	}
	e.expect(http.MethodPost, "/api/channels", bt, map[string]any{"name": "secret", "type": "private"}, http.StatusBadRequest, "Channel name already exists")

	out = e.expect(http.MethodPost, "/api/channels", bt, map[string]any{"name": "lobby"}, http.StatusOK, "")
	pub := decodeData[ChannelView](t, out)
	if pub.Type != model.ChannelPublic {
		t.Fatalf("default type = %s", pub.Type)
	}

	out = e.expect(http.MethodGet, "/api/channels", ct, nil, http.StatusOK, "")
	if list := decodeData[[]ChannelView](t, out); len(list) != 1 || list[0].ID != pub.ID {
		t.Fatalf("carol sees %+v", list)
	}
	e.expect(http.MethodGet, "/api/channels/"+priv.ID, ct, nil, http.StatusForbidden, "Access denied")
	e.expect(http.MethodGet, "/api/channels/"+priv.ID, bt, nil, http.StatusOK, "")
	e.expect(http.MethodGet, "/api/channels/nope", bt, nil, http.StatusNotFound, "Channel not found")

	e.expect(http.MethodPut, "/api/channels/"+priv.ID, bt, map[string]any{"name": "x"}, http.StatusForbidden, "Only admins can update channel")
	out = e.expect(http.MethodPut, "/api/channels/"+priv.ID, at, map[string]any{"description": "hush"}, http.StatusOK, "")
	if up := decodeData[ChannelView](t, out); up.Description != "hush" || up.Name != "secret" {
		t.Fatalf("updated = %+v", up.Channel)
	}
	// 名字按类型唯一：公开的 lobby 不挡私有频道改名
	e.expect(http.MethodPost, "/api/channels", at, map[string]any{"name": "vault", "type": "private"}, http.StatusOK, "")
	e.expect(http.MethodPut, "/api/channels/"+priv.ID, at, map[string]any{"name": "vault"}, http.StatusBadRequest, "Channel name already exists")
	out = e.expect(http.MethodPut, "/api/channels/"+priv.ID, at, map[string]any{"name": "lobby"}, http.StatusOK, "")
	if up := decodeData[ChannelView](t, out); up.Name != "lobby" || up.Type != model.ChannelPrivate {
		t.Fatalf("renamed = %+v", up.Channel)
	}

	e.expect(http.MethodPost, "/api/channels/"+priv.ID+"/join", ct, nil, http.StatusForbidden, "Access denied")
	e.expect(http.MethodPost, "/api/channels/"+pub.ID+"/join", ct, nil, http.StatusOK, "")
	ch, _ := e.st.FindChannelByID(context.Background(), pub.ID)
	if !ch.IsMember(carol.ID) {
		t.Fatalf("join not persisted")
	}
	e.expect(http.MethodPost, "/api/channels/"+pub.ID+"/leave", bt, nil, http.StatusBadRequest, "Channel owner cannot leave the channel")
	e.expect(http.MethodPost, "/api/channels/"+pub.ID+"/leave", ct, nil, http.StatusOK, "")
	e.expect(http.MethodPost, "/api/channels/"+pub.ID+"/leave", ct, nil, http.StatusBadRequest, "You are not a member of this channel")

	e.expect(http.MethodDelete, "/api/channels/"+priv.ID, bt, nil, http.StatusForbidden, "Only channel owner can delete the channel")
	e.expect(http.MethodDelete, "/api/channels/"+priv.ID, at, nil, http.StatusOK, "")
	if e.srv.Registry().InRoom("b", priv.ID) {
		t.Fatalf("room not closed after delete")
	}
	e.expect(http.MethodGet, "/api/channels/"+priv.ID, at, nil, http.StatusNotFound, "Channel not found")
}

// racingStore 在 FindChannelByID 返回之后、调用方写回之前插入一次别的写入
type racingStore struct {
	*store.MemStore
	mu     sync.Mutex
	before func()
}

func (s *racingStore) FindChannelByID(ctx context.Context, id string) (*model.Channel, error) {
	ch, err := s.MemStore.FindChannelByID(ctx, id)
	s.mu.Lock()
	fn := s.before
	s.before = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return ch, err
}

func (s *racingStore) interleave(fn func()) {
	s.mu.Lock()
	s.before = fn
	s.mu.Unlock()
}

// 改资料与并发的入群、新消息落在同一频道上，后者不能被覆盖
func TestUpdateChannelKeepsConcurrentWrites(t *testing.T) {
	var rs *racingStore
	e := newEnvWith(t, func(m *store.MemStore) store.Store {
		rs = &racingStore{MemStore: m}
		return rs
	})
	alice, at := e.user("alice")
	bob, _ := e.user("bob")
	out := e.expect(http.MethodPost, "/api/channels", at, map[string]any{"name": "lobby"}, http.StatusOK, "")
	ch := decodeData[ChannelView](t, out)

	msgID := store.NewID()
	rs.interleave(func() {
		ctx := context.Background()
		if err := e.st.AddChannelMember(ctx, ch.ID, bob.ID); err != nil {
			t.Errorf("add member: %v", err)
		}
		if err := e.st.TouchChannel(ctx, ch.ID, msgID, time.Now()); err != nil {
			t.Errorf("touch: %v", err)
		}
	})
	out = e.expect(http.MethodPut, "/api/channels/"+ch.ID, at, map[string]any{"description": "welcome"}, http.StatusOK, "")
	up := decodeData[ChannelView](t, out)
	if !up.IsMember(bob.ID) || up.LastMessage != msgID {
		t.Fatalf("response lost concurrent writes: members=%v lastMessage=%q", up.Members, up.LastMessage)
	}

	got, _ := e.st.FindChannelByID(context.Background(), ch.ID)
	if got.Description != "welcome" {
		t.Fatalf("description = %q", got.Description)
	}
	if !got.IsMember(alice.ID) || !got.IsMember(bob.ID) {
		t.Fatalf("members = %v", got.Members)
	}
	if got.LastMessage != msgID {
		t.Fatalf("lastMessage = %q, want %q", got.LastMessage, msgID)
	}
}

func TestDirectChannels(t *testing.T) {
	e := newEnv(t)
	alice, at := e.user("alice")
	bob, bt := e.user("bob")

	e.expect(http.MethodPost, "/api/channels/direct", at, map[string]any{}, http.StatusBadRequest, "Target user ID is required")
	e.expect(http.MethodPost, "/api/channels/direct", at, map[string]any{"targetUserId": alice.ID}, http.StatusBadRequest, "Cannot create DM with yourself")
	e.expect(http.MethodPost, "/api/channels/direct", at, map[string]any{"targetUserId": store.NewID()}, http.StatusNotFound, "User not found")

	// 两边同时发起只会建出一个频道
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, target := at, bob.ID
			if i%2 == 1 {
				token, target = bt, alice.ID
			}
			code, out := e.do(http.MethodPost, "/api/channels/direct", token, map[string]any{"targetUserId": target})
			if code != http.StatusOK {
				return
			}
			var v ChannelView
			_ = json.Unmarshal(out.Data, &v)
			ids[i] = v.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("direct ids = %v", ids)
		}
	}

	out := e.expect(http.MethodGet, "/api/channels/direct", bt, nil, http.StatusOK, "")
	list := decodeData[[]ChannelView](t, out)
	if len(list) != 1 || list[0].Type != model.ChannelDirect || list[0].Name != model.DirectChannelName(alice.ID, bob.ID) {
		t.Fatalf("direct list = %+v", list)
	}
	// 私聊对外不可见
	_, ct := e.user("carol")
	e.expect(http.MethodGet, "/api/channels/"+list[0].ID, ct, nil, http.StatusForbidden, "Access denied")
}

func TestMessages(t *testing.T) {
	e := newEnv(t)
	alice, at := e.user("alice")
	bob, _ := e.user("bob")
	_, ct := e.user("carol")
	ch := &model.Channel{Name: "team", Type: model.ChannelPrivate, Owner: alice.ID, Members: []string{alice.ID, bob.ID}, LastActivity: time.Now()}
	if err := e.st.CreateChannel(context.Background(), ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	sb := e.connect("b", bob)
	e.srv.Registry().JoinRoom("b", ch.ID)

	e.expect(http.MethodPost, "/api/messages", at, map[string]any{"channelId": ch.ID}, http.StatusBadRequest, "Message content is required")
	e.expect(http.MethodPost, "/api/messages", ct, map[string]any{"channelId": ch.ID, "content": "hi"}, http.StatusForbidden, "You must be a member of the channel")
	e.expect(http.MethodPost, "/api/messages", at, map[string]any{"content": "hi"}, http.StatusBadRequest, "channelId is required")

	var sent []string
	for _, text := range []string{"one", "two", "three"} {
		out := e.expect(http.MethodPost, "/api/messages", at, map[string]any{"channelId": ch.ID, "content": text}, http.StatusOK, "")
		v := decodeData[model.MessageView](t, out)
		if v.Author == nil || v.Author.Username != "alice" {
			t.Fatalf("view = %+v", v)
		}
		sent = append(sent, v.ID)
		time.Sleep(2 * time.Millisecond)
	}
	// REST 发送同样广播给在线成员
	if got := sb.Client().Pending(); len(got) != 3 {
		t.Fatalf("bob got %d frames", len(got))
	}

	out := e.expect(http.MethodGet, "/api/messages?channelId="+ch.ID+"&limit=2", at, nil, http.StatusOK, "")
	page := decodeData[[]model.MessageView](t, out)
	if len(page) != 2 || page[0].Content != "two" || page[1].Content != "three" {
		t.Fatalf("page = %+v", page)
	}
	before := url.QueryEscape(page[0].CreatedAt.Format(time.RFC3339Nano))
	out = e.expect(http.MethodGet, "/api/messages?channelId="+ch.ID+"&before="+before, at, nil, http.StatusOK, "")
	if older := decodeData[[]model.MessageView](t, out); len(older) != 1 || older[0].ID != sent[0] {
		t.Fatalf("older = %+v", older)
	}

	e.expect(http.MethodGet, "/api/messages", at, nil, http.StatusBadRequest, "Channel ID is required")
	e.expect(http.MethodGet, "/api/messages?channelId="+ch.ID+"&before=yesterday", at, nil, http.StatusBadRequest, "Invalid before cursor")
	e.expect(http.MethodGet, "/api/messages?channelId="+ch.ID, ct, nil, http.StatusForbidden, "Access denied")
}
