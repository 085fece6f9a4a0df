package message

import (
	"time"

	"socialgw/service/relay"
)

// messageDoc messages 集合文档
// status 与 status_rank 一起写，rank 用于单向推进的条件更新
type messageDoc struct {
	ID         string    `bson:"_id"`
	RoomID     string    `bson:"room_id"`
	SenderID   string    `bson:"sender_id"`
	Content    string    `bson:"content"`
	Kind       string    `bson:"kind"`
	MediaURL   string    `bson:"media_url,omitempty"`
	Duration   int       `bson:"duration,omitempty"`
	Status     string    `bson:"status"`
	StatusRank int       `bson:"status_rank"`
	Recalled   bool      `bson:"recalled,omitempty"`
	Edited     bool      `bson:"edited,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`

	ReplyToID    string `bson:"reply_to_id,omitempty"`
	ReplyContent string `bson:"reply_content,omitempty"`
	ReplyKind    string `bson:"reply_kind,omitempty"`
	ReplySender  string `bson:"reply_sender,omitempty"`
}

func (d *messageDoc) toStored() *relay.StoredMessage {
	return &relay.StoredMessage{
		ID:           d.ID,
		RoomID:       d.RoomID,
		SenderID:     d.SenderID,
		Content:      d.Content,
		Kind:         d.Kind,
		MediaURL:     d.MediaURL,
		Duration:     d.Duration,
		Status:       relay.Status(d.Status),
		CreatedAt:    d.CreatedAt,
		ReplyToID:    d.ReplyToID,
		ReplyContent: d.ReplyContent,
		ReplyKind:    d.ReplyKind,
		ReplySender:  d.ReplySender,
	}
}

// memberDoc chat_members 集合：会话持久成员关系（上游业务服务维护）
type memberDoc struct {
	RoomID string `bson:"room_id"`
	UserID string `bson:"user_id"`
}

// blockDoc blocks 集合：user_id 拉黑了 blocked_id
type blockDoc struct {
	UserID    string `bson:"user_id"`
	BlockedID string `bson:"blocked_id"`
}
