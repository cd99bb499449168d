package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"PPChat/data/database"
	"PPChat/module/chat/model"
	"PPChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBProvider 当前可用的库；断线期间返回 false（对应 mgo.TryGetDB）
type DBProvider func() (*mongo.Database, bool)

var ErrNotReady = errs.ErrPersistence.WithMsg("database not ready")

type MongoStore struct {
	db DBProvider
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(p DBProvider) *MongoStore {
	return &MongoStore{db: p}
}

// FixedDB 直接持有一个 *mongo.Database
func FixedDB(db *mongo.Database) DBProvider {
	return func() (*mongo.Database, bool) { return db, db != nil }
}

func (s *MongoStore) coll(t database.Table) (*mongo.Collection, error) {
	db, ok := s.db()
	if !ok {
		return nil, ErrNotReady.Wrap()
	}
	return db.Collection(database.CollectionName(t)), nil
}

// EnsureIndexes 幂等，连上库后调用
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		(&model.User{}).TableName(): {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
		},
		(&model.Channel{}).TableName(): {
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "members", Value: 1}}},
			{Keys: bson.D{{Key: "lastActivity", Value: -1}}},
		},
		(&model.Message{}).TableName(): {
			{Keys: bson.D{{Key: "channelId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}}},
			{Keys: bson.D{{Key: "deletedAt", Value: 1}}},
		},
	}
	for name, models := range specs {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return errs.WrapMsg(err, "create indexes", "collection", name)
		}
	}
	return nil
}

// mapErr 驱动错误翻译为业务错误
func mapErr(err error, what string, kv ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return notFound(what, kv...)
	case mongo.IsDuplicateKeyError(err):
		return duplicate(what, kv...)
	default:
		return persistence(err, what, kv...)
	}
}

func (s *MongoStore) findOne(ctx context.Context, t database.Table, filter any, out any, what string, kv ...any) error {
	c, err := s.coll(t)
	if err != nil {
		return err
	}
	return mapErr(c.FindOne(ctx, filter).Decode(out), what, kv...)
}

func findAll[T any](ctx context.Context, c *mongo.Collection, filter any, opts ...*options.FindOptions) ([]*T, error) {
	cur, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// updateByID 未命中返回 NotFound
func (s *MongoStore) updateByID(ctx context.Context, t database.Table, id string, update any, what string) error {
	c, err := s.coll(t)
	if err != nil {
		return err
	}
	res, err := c.UpdateByID(ctx, id, update)
	if err != nil {
		return mapErr(err, what, "id", id)
	}
	if res.MatchedCount == 0 {
		return notFound(what, "id", id)
	}
	return nil
}

// ---- users ----

func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	if err := s.findOne(ctx, u, bson.M{"_id": id}, u, "user", "id", id); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *MongoStore) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{}
	name := model.NormalizeUsername(username)
	if err := s.findOne(ctx, u, bson.M{"username": name}, u, "user", "username", name); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	if err := s.findOne(ctx, u, bson.M{"email": email}, u, "user", "email", email); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *MongoStore) FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	c, err := s.coll(&model.User{})
	if err != nil {
		return nil, err
	}
	out, err := findAll[model.User](ctx, c, bson.M{"_id": bson.M{"$in": model.Dedup(ids)}})
	return out, mapErr(err, "find users")
}

func (s *MongoStore) CreateUser(ctx context.Context, u *model.User) error {
	c, err := s.coll(u)
	if err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = NewID()
	}
	u.Username = model.NormalizeUsername(u.Username)
	_, err = c.InsertOne(ctx, u)
	return mapErr(err, "user", "username", u.Username)
}

func (s *MongoStore) UpdateUserStatus(ctx context.Context, id, status string, lastSeen time.Time) error {
	return s.updateByID(ctx, &model.User{}, id, bson.M{"$set": bson.M{
		"status":    status,
		"lastSeen":  lastSeen,
		"updatedAt": lastSeen,
	}}, "user")
}

func (s *MongoStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*model.User, error) {
	c, err := s.coll(&model.User{})
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = SearchLimit
	}
	re := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}
	filter := bson.M{
		"_id": bson.M{"$ne": excludeID},
		"$or": bson.A{bson.M{"username": re}, bson.M{"email": re}},
	}
	opts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "username", Value: 1}})
	out, err := findAll[model.User](ctx, c, filter, opts)
	return out, mapErr(err, "search users")
}

// ---- channels ----

var byActivity = options.Find().SetSort(bson.D{{Key: "lastActivity", Value: -1}})

func (s *MongoStore) FindChannelByID(ctx context.Context, id string) (*model.Channel, error) {
	ch := &model.Channel{}
	if err := s.findOne(ctx, ch, bson.M{"_id": id}, ch, "channel", "id", id); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *MongoStore) FindChannelByName(ctx context.Context, typ, name string) (*model.Channel, error) {
	ch := &model.Channel{}
	if err := s.findOne(ctx, ch, bson.M{"type": typ, "name": name}, ch, "channel", "type", typ, "name", name); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *MongoStore) findChannels(ctx context.Context, filter any) ([]*model.Channel, error) {
	c, err := s.coll(&model.Channel{})
	if err != nil {
		return nil, err
	}
	out, err := findAll[model.Channel](ctx, c, filter, byActivity)
	return out, mapErr(err, "find channels")
}

func (s *MongoStore) FindChannelsByMember(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.findChannels(ctx, bson.M{"members": userID})
}

func (s *MongoStore) FindVisibleChannels(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.findChannels(ctx, bson.M{"$or": bson.A{
		bson.M{"type": model.ChannelPublic},
		bson.M{"members": userID},
	}})
}

func (s *MongoStore) FindDirectChannel(ctx context.Context, a, b string) (*model.Channel, error) {
	ch := &model.Channel{}
	filter := bson.M{
		"type":    model.ChannelDirect,
		"members": bson.M{"$all": bson.A{a, b}, "$size": 2},
	}
	if err := s.findOne(ctx, ch, filter, ch, "direct channel", "a", a, "b", b); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *MongoStore) FindDirectChannelsFor(ctx context.Context, userID string) ([]*model.Channel, error) {
	return s.findChannels(ctx, bson.M{"type": model.ChannelDirect, "members": userID})
}

func (s *MongoStore) CreateChannel(ctx context.Context, ch *model.Channel) error {
	c, err := s.coll(ch)
	if err != nil {
		return err
	}
	if ch.ID == "" {
		ch.ID = NewID()
	}
	ch.Normalize()
	_, err = c.InsertOne(ctx, ch)
	return mapErr(err, "channel", "name", ch.Name)
}

// UpdateChannelInfo 只 $set 资料字段；并发的入群、新消息写别的字段，互不覆盖
func (s *MongoStore) UpdateChannelInfo(ctx context.Context, id string, info ChannelInfo) error {
	return s.updateByID(ctx, &model.Channel{}, id, bson.M{"$set": bson.M{
		"name":        info.Name,
		"description": info.Description,
		"avatar":      info.Avatar,
		"updatedAt":   info.UpdatedAt,
	}}, "channel")
}

// DeleteChannel 同时清理频道下的消息
func (s *MongoStore) DeleteChannel(ctx context.Context, id string) error {
	c, err := s.coll(&model.Channel{})
	if err != nil {
		return err
	}
	res, err := c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err, "channel", "id", id)
	}
	if res.DeletedCount == 0 {
		return notFound("channel", "id", id)
	}
	msgs, err := s.coll(&model.Message{})
	if err != nil {
		return err
	}
	_, err = msgs.DeleteMany(ctx, bson.M{"channelId": id})
	return mapErr(err, "delete channel messages", "channel", id)
}

func (s *MongoStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	return s.updateByID(ctx, &model.Channel{}, channelID, bson.M{
		"$addToSet": bson.M{"members": userID},
		"$set":      bson.M{"updatedAt": time.Now()},
	}, "channel")
}

func (s *MongoStore) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	return s.updateByID(ctx, &model.Channel{}, channelID, bson.M{
		"$pull": bson.M{"members": userID, "admins": userID},
		"$set":  bson.M{"updatedAt": time.Now()},
	}, "channel")
}

func (s *MongoStore) TouchChannel(ctx context.Context, channelID, messageID string, at time.Time) error {
	return s.updateByID(ctx, &model.Channel{}, channelID, bson.M{
		"$set": bson.M{"lastMessage": messageID, "updatedAt": at},
		"$max": bson.M{"lastActivity": at},
	}, "channel")
}

// ---- messages ----

func (s *MongoStore) FindMessageByID(ctx context.Context, id string) (*model.Message, error) {
	m := &model.Message{}
	if err := s.findOne(ctx, m, bson.M{"_id": id}, m, "message", "id", id); err != nil {
		return nil, err
	}
	m.Normalize()
	return m, nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, m *model.Message) error {
	c, err := s.coll(m)
	if err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = NewID()
	}
	m.Normalize()
	_, err = c.InsertOne(ctx, m)
	return mapErr(err, "message", "id", m.ID)
}

func (s *MongoStore) SaveMessage(ctx context.Context, m *model.Message) error {
	c, err := s.coll(m)
	if err != nil {
		return err
	}
	m.Normalize()
	res, err := c.ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return mapErr(err, "message", "id", m.ID)
	}
	if res.MatchedCount == 0 {
		return notFound("message", "id", m.ID)
	}
	return nil
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	c, err := s.coll(&model.Message{})
	if err != nil {
		return err
	}
	res, err := c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(err, "message", "id", id)
	}
	if res.DeletedCount == 0 {
		return notFound("message", "id", id)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, channelID string, before *time.Time, limit int) ([]*model.Message, error) {
	c, err := s.coll(&model.Message{})
	if err != nil {
		return nil, err
	}
	filter := bson.M{"channelId": channelID, "deletedAt": nil}
	if before != nil {
		filter["createdAt"] = bson.M{"$lt": *before}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(ClampLimit(limit)))
	out, err := findAll[model.Message](ctx, c, filter, opts)
	if err != nil {
		return nil, mapErr(err, "list messages", "channel", channelID)
	}
	// 倒序取最新 N 条，返回正序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	for _, m := range out {
		m.Normalize()
	}
	return out, nil
}

func (s *MongoStore) MarkRead(ctx context.Context, messageID, userID string) error {
	return s.updateByID(ctx, &model.Message{}, messageID, bson.M{
		"$addToSet": bson.M{"readBy": userID},
	}, "message")
}
