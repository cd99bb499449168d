package chat

import (
	"sort"
	"sync"
)

// Session 一条 websocket 连接的身份与已加入房间
type Session struct {
	ConnID   string
	UserID   string
	Username string

	client *Client
	rooms  map[string]struct{} // 受 Registry.mu 保护
}

func NewSession(connID, userID, username string, client *Client) *Session {
	return &Session{
		ConnID:   connID,
		UserID:   userID,
		Username: username,
		client:   client,
		rooms:    make(map[string]struct{}),
	}
}

func (s *Session) Client() *Client { return s.client }

// Registry 连接、用户、房间三向索引；所有方法并发安全，锁内不做 IO
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]*Session            // conn_id -> session
	byUser map[string]map[string]*Session // user -> conn_id -> session
	byRoom map[string]map[string]*Session // room -> conn_id -> session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		byRoom: make(map[string]map[string]*Session),
	}
}

// Register 同一连接重复注册无效；first 表示这是该用户的第一条连接
func (r *Registry) Register(s *Session) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[s.ConnID]; ok {
		return false
	}
	if s.rooms == nil {
		s.rooms = make(map[string]struct{})
	}
	r.byConn[s.ConnID] = s
	m := r.byUser[s.UserID]
	if m == nil {
		m = make(map[string]*Session)
		r.byUser[s.UserID] = m
	}
	m[s.ConnID] = s
	return len(m) == 1
}

// Deregister 移除连接及其房间；last 表示该用户已没有连接
func (r *Registry) Deregister(connID string) (s *Session, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	for room := range s.rooms {
		r.leaveLocked(s, room)
	}
	if m := r.byUser[s.UserID]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.byUser, s.UserID)
			last = true
		}
	}
	return s, last
}

func (r *Registry) JoinRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return false
	}
	return r.joinLocked(s, roomID)
}

func (r *Registry) LeaveRoom(connID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	if !ok {
		return false
	}
	return r.leaveLocked(s, roomID)
}

// JoinUser 该用户所有连接加入房间（REST 建频道/私聊后让在线端立刻收到）
func (r *Registry) JoinUser(userID, roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byUser[userID] {
		if r.joinLocked(s, roomID) {
			n++
		}
	}
	return n
}

func (r *Registry) LeaveUser(userID, roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.byUser[userID] {
		if r.leaveLocked(s, roomID) {
			n++
		}
	}
	return n
}

// CloseRoom 频道删除时清空房间
func (r *Registry) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byRoom[roomID] {
		delete(s.rooms, roomID)
	}
	delete(r.byRoom, roomID)
}

func (r *Registry) joinLocked(s *Session, roomID string) bool {
	if _, ok := s.rooms[roomID]; ok {
		return false
	}
	s.rooms[roomID] = struct{}{}
	m := r.byRoom[roomID]
	if m == nil {
		m = make(map[string]*Session)
		r.byRoom[roomID] = m
	}
	m[s.ConnID] = s
	return true
}

func (r *Registry) leaveLocked(s *Session, roomID string) bool {
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	if m := r.byRoom[roomID]; m != nil {
		delete(m, s.ConnID)
		if len(m) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	return true
}

func (r *Registry) Session(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// RoomsFor 已排序
func (r *Registry) RoomsFor(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// ConnectionsFor 已排序
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byUser[userID]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[roomID][connID]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// roomClients 当前房间成员快照；exclude 为发送者连接
func (r *Registry) roomClients(roomID, exclude string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byRoom[roomID]
	out := make([]*Client, 0, len(m))
	for id, s := range m {
		if id == exclude || s.client == nil {
			continue
		}
		out = append(out, s.client)
	}
	return out
}

func (r *Registry) allClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, s := range r.byConn {
		if s.client != nil {
			out = append(out, s.client)
		}
	}
	return out
}

func (r *Registry) client(connID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byConn[connID]; ok {
		return s.client
	}
	return nil
}
