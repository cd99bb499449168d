package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"PPChat/module/chat/model"
)

// MemStore 内存实现；所有读写都复制，调用方拿到的对象可随意修改
type MemStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	byName   map[string]string // username -> id
	byEmail  map[string]string // email -> id
	channels map[string]*model.Channel
	chByName map[string]string // type/name -> id
	messages map[string]*model.Message
}

var _ Store = (*MemStore)(nil)

func nameKey(typ, name string) string { return typ + "/" + name }

func NewMemStore() *MemStore {
	return &MemStore{
		users:    make(map[string]*model.User),
		byName:   make(map[string]string),
		byEmail:  make(map[string]string),
		channels: make(map[string]*model.Channel),
		chByName: make(map[string]string),
		messages: make(map[string]*model.Message),
	}
}

// ---- users ----

func (s *MemStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, notFound("user", "id", id)
}

func (s *MemStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byName[model.NormalizeUsername(username)]; ok {
		return s.users[id].Clone(), nil
	}
	return nil, notFound("user", "username", username)
}

func (s *MemStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byEmail[strings.ToLower(email)]; ok {
		return s.users[id].Clone(), nil
	}
	return nil, notFound("user", "email", email)
}

func (s *MemStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.User, 0, len(ids))
	for _, id := range model.Dedup(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

func (s *MemStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = NewID()
	}
	name := model.NormalizeUsername(u.Username)
	email := strings.ToLower(u.Email)
	if _, ok := s.users[u.ID]; ok {
		return duplicate("user", "id", u.ID)
	}
	if _, ok := s.byName[name]; ok {
		return duplicate("user", "username", name)
	}
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return duplicate("user", "email", email)
		}
		s.byEmail[email] = u.ID
	}
	u.Username = name
	u.Email = email
	s.byName[name] = u.ID
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *MemStore) UpdateUserStatus(ctx context.Context, id, status string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return notFound("user", "id", id)
	}
	u.Status = status
	u.LastSeen = lastSeen
	u.UpdatedAt = lastSeen
	return nil
}

func (s *MemStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = SearchLimit
	}
	q := strings.ToLower(query)
	s.mu.RLock()
	out := make([]*model.User, 0)
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(u.Username, q) || strings.Contains(strings.ToLower(u.Email), q) {
			out = append(out, u.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- channels ----

func (s *MemStore) FindChannelByID(ctx context.Context, id string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.channels[id]; ok {
		return c.Clone(), nil
	}
	return nil, notFound("channel", "id", id)
}

func (s *MemStore) FindChannelByName(ctx context.Context, typ, name string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.chByName[nameKey(typ, name)]; ok {
		return s.channels[id].Clone(), nil
	}
	return nil, notFound("channel", "type", typ, "name", name)
}

func (s *MemStore) FindChannelsByMember(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.filterChannels(func(c *model.Channel) bool { return c.IsMember(userID) }), nil
}

func (s *MemStore) FindVisibleChannels(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.filterChannels(func(c *model.Channel) bool {
		return c.Type == model.ChannelPublic || c.IsMember(userID)
	}), nil
}

func (s *MemStore) FindDirectChannel(ctx context.Context, a, b string) (*model.Channel, error) {
	found := s.filterChannels(func(c *model.Channel) bool {
		return c.Type == model.ChannelDirect && len(c.Members) == 2 && c.IsMember(a) && c.IsMember(b)
	})
	if len(found) == 0 {
		return nil, notFound("direct channel", "a", a, "b", b)
	}
	return found[0], nil
}

func (s *MemStore) FindDirectChannelsFor(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.filterChannels(func(c *model.Channel) bool {
		return c.Type == model.ChannelDirect && c.IsMember(userID)
	}), nil
}

// filterChannels lastActivity 倒序
func (s *MemStore) filterChannels(keep func(c *model.Channel) bool) []*model.Channel {
	s.mu.RLock()
	out := make([]*model.Channel, 0)
	for _, c := range s.channels {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func (s *MemStore) CreateChannel(ctx context.Context, c *model.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = NewID()
	}
	if _, ok := s.channels[c.ID]; ok {
		return duplicate("channel", "id", c.ID)
	}
	if _, ok := s.chByName[nameKey(c.Type, c.Name)]; ok {
		return duplicate("channel", "type", c.Type, "name", c.Name)
	}
	c.Normalize()
	s.chByName[nameKey(c.Type, c.Name)] = c.ID
	s.channels[c.ID] = c.Clone()
	return nil
}

func (s *MemStore) UpdateChannelInfo(ctx context.Context, id string, info ChannelInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return notFound("channel", "id", id)
	}
	if c.Name != info.Name {
		key := nameKey(c.Type, info.Name)
		if _, taken := s.chByName[key]; taken {
			return duplicate("channel", "type", c.Type, "name", info.Name)
		}
		delete(s.chByName, nameKey(c.Type, c.Name))
		s.chByName[key] = id
	}
	c.Name = info.Name
	c.Description = info.Description
	c.Avatar = info.Avatar
	c.UpdatedAt = info.UpdatedAt
	return nil
}

func (s *MemStore) DeleteChannel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return notFound("channel", "id", id)
	}
	delete(s.chByName, nameKey(c.Type, c.Name))
	delete(s.channels, id)
	for mid, m := range s.messages {
		if m.ChannelID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *MemStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	return s.updateChannel(channelID, func(c *model.Channel) { c.AddMember(userID) })
}

func (s *MemStore) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	return s.updateChannel(channelID, func(c *model.Channel) { c.RemoveMember(userID) })
}

func (s *MemStore) TouchChannel(ctx context.Context, channelID, messageID string, at time.Time) error {
	return s.updateChannel(channelID, func(c *model.Channel) {
		c.LastMessage = messageID
		if at.After(c.LastActivity) {
			c.LastActivity = at
		}
		c.UpdatedAt = at
	})
}

func (s *MemStore) updateChannel(id string, fn func(c *model.Channel)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return notFound("channel", "id", id)
	}
	fn(c)
	return nil
}

// ---- messages ----

func (s *MemStore) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.messages[id]; ok {
		return m.Clone(), nil
	}
	return nil, notFound("message", "id", id)
}

func (s *MemStore) CreateMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = NewID()
	}
	if _, ok := s.messages[m.ID]; ok {
		return duplicate("message", "id", m.ID)
	}
	m.Normalize()
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemStore) SaveMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; !ok {
		return notFound("message", "id", m.ID)
	}
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return notFound("message", "id", id)
	}
	delete(s.messages, id)
	return nil
}

func (s *MemStore) ListMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]*model.Message, error) {
	limit = ClampLimit(limit)
	s.mu.RLock()
	out := make([]*model.Message, 0)
	for _, m := range s.messages {
		if m.ChannelID != channelID || m.IsDeleted() {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemStore) MarkRead(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return notFound("message", "id", messageID)
	}
	m.MarkReadBy(userID)
	return nil
}
