package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"socialgw/service/relay"
	"socialgw/tools/errs"
	"socialgw/tools/ids"
)

const (
	collMessages = "messages"
	collMembers  = "chat_members"
	collBlocks   = "blocks"
)

// Store Mongo 消息存储，实现 relay.Storage
type Store struct {
	messages *mongo.Collection
	members  *mongo.Collection
	blocks   *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		messages: db.Collection(collMessages),
		members:  db.Collection(collMembers),
		blocks:   db.Collection(collBlocks),
	}
}

// EnsureIndexes 启动时建索引；已存在是 no-op
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sender_id", Value: 1}, {Key: "status_rank", Value: 1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create message indexes")
	}
	_, err = s.members.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errs.WrapMsg(err, "create member index")
	}
	_, err = s.blocks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "blocked_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errs.WrapMsg(err, "create block index")
}

func (s *Store) PersistMessage(ctx context.Context, m *relay.OutgoingMessage) (*relay.StoredMessage, error) {
	doc := &messageDoc{
		ID:           ids.GenerateString(),
		RoomID:       m.RoomID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		Kind:         m.Kind,
		MediaURL:     m.MediaURL,
		Duration:     m.Duration,
		Status:       string(relay.StatusSent),
		StatusRank:   relay.StatusRank(relay.StatusSent),
		CreatedAt:    time.Now().UTC(),
		ReplyToID:    m.ReplyToID,
		ReplyContent: m.ReplyContent,
		ReplyKind:    m.ReplyKind,
		ReplySender:  m.ReplySender,
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return nil, errs.WrapMsg(err, "insert message")
	}
	return doc.toStored(), nil
}

// SetStatus 条件更新：只有 status_rank 小于目标时才写入，天然单向+幂等
func (s *Store) SetStatus(ctx context.Context, messageID string, st relay.Status) (*relay.StoredMessage, bool, error) {
	rank := relay.StatusRank(st)
	if rank < 0 {
		return nil, false, errs.ErrPersistenceFailure.WithDetail("invalid status " + string(st))
	}
	filter := bson.M{"_id": messageID, "status_rank": bson.M{"$lt": rank}}
	update := bson.M{"$set": bson.M{"status": string(st), "status_rank": rank}}

	var doc messageDoc
	err := s.messages.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		// 消息不存在，或状态早已等于/越过目标：都按未变更处理
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "set status")
	}
	return doc.toStored(), true, nil
}

func (s *Store) MarkRoomRead(ctx context.Context, roomID, readerID string) error {
	readRank := relay.StatusRank(relay.StatusRead)
	_, err := s.messages.UpdateMany(ctx,
		bson.M{
			"room_id":     roomID,
			"sender_id":   bson.M{"$ne": readerID},
			"status_rank": bson.M{"$lt": readRank},
		},
		bson.M{"$set": bson.M{"status": string(relay.StatusRead), "status_rank": readRank}},
	)
	return errs.WrapMsg(err, "mark room read")
}

func (s *Store) RecallMessage(ctx context.Context, roomID, messageID string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, "room_id": roomID},
		bson.M{"$set": bson.M{"recalled": true, "content": ""}},
	)
	if err != nil {
		return errs.WrapMsg(err, "recall message")
	}
	if res.MatchedCount == 0 {
		return errs.ErrPersistenceFailure.WithDetail("message not found")
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, roomID, messageID, newContent string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID, "room_id": roomID},
		bson.M{"$set": bson.M{"content": newContent, "edited": true}},
	)
	if err != nil {
		return errs.WrapMsg(err, "edit message")
	}
	if res.MatchedCount == 0 {
		return errs.ErrPersistenceFailure.WithDetail("message not found")
	}
	return nil
}

func (s *Store) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	cur, err := s.members.Find(ctx, bson.M{"room_id": roomID})
	if err != nil {
		return nil, errs.WrapMsg(err, "find room members")
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var d memberDoc
		if err := cur.Decode(&d); err != nil {
			return nil, errs.WrapMsg(err, "decode member")
		}
		out = append(out, d.UserID)
	}
	return out, errs.Wrap(cur.Err())
}

// IsBlocked 任一方向拉黑成立即为 true
func (s *Store) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	n, err := s.blocks.CountDocuments(ctx, bson.M{"$or": []bson.M{
		{"user_id": a, "blocked_id": b},
		{"user_id": b, "blocked_id": a},
	}})
	if err != nil {
		return false, errs.WrapMsg(err, "count blocks")
	}
	return n > 0, nil
}

// History 会话历史分页，最新在前（HTTP 查询接口用）
func (s *Store) History(ctx context.Context, roomID string, limit int64) ([]*relay.StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.messages.Find(ctx, bson.M{"room_id": roomID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "find history")
	}
	defer cur.Close(ctx)

	var out []*relay.StoredMessage
	for cur.Next(ctx) {
		var d messageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, errs.WrapMsg(err, "decode message")
		}
		out = append(out, d.toStored())
	}
	return out, errs.Wrap(cur.Err())
}
