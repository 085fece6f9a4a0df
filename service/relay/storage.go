package relay

import (
	"context"
	"time"
)

// OutgoingMessage 发送请求经校验后的落库输入
type OutgoingMessage struct {
	RoomID       string
	SenderID     string
	Content      string
	Kind         string
	MediaURL     string
	Duration     int
	ReplyToID    string
	ReplyContent string
	ReplyKind    string
	ReplySender  string
}

// StoredMessage 已持久化的消息，fan-out 时整体下发
type StoredMessage struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"chat_id"`
	SenderID     string    `json:"sender_id"`
	Content      string    `json:"content"`
	Kind         string    `json:"message_type"`
	MediaURL     string    `json:"media_url,omitempty"`
	Duration     int       `json:"duration,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ReplyToID    string    `json:"reply_to_id,omitempty"`
	ReplyContent string    `json:"reply_content,omitempty"`
	ReplyKind    string    `json:"reply_type,omitempty"`
	ReplySender  string    `json:"reply_sender,omitempty"`
}

// Storage 消息与会话成员的持久层（Mongo 实现见 module/message）
type Storage interface {
	// PersistMessage 落库并返回带服务端 id/时间戳的消息
	PersistMessage(ctx context.Context, m *OutgoingMessage) (*StoredMessage, error)
	// SetStatus 单向推进状态；已等于或超过目标状态时 changed=false
	SetStatus(ctx context.Context, messageID string, st Status) (msg *StoredMessage, changed bool, err error)
	// MarkRoomRead 将会话里非 reader 发送的未读消息置为 read
	MarkRoomRead(ctx context.Context, roomID, readerID string) error
	RecallMessage(ctx context.Context, roomID, messageID string) error
	EditMessage(ctx context.Context, roomID, messageID, newContent string) error
	// RoomMembers 会话成员（用户 id），含不在线成员
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	// IsBlocked 双向拉黑任一方向成立即 true
	IsBlocked(ctx context.Context, a, b string) (bool, error)
}

// Counters 未读数（Redis 实现见 service/storage）
type Counters interface {
	IncrUnread(ctx context.Context, userID, roomID string) error
	ResetUnread(ctx context.Context, userID, roomID string) error
	TotalUnread(ctx context.Context, userID string) (int64, error)
}

// OfflineQueue 离线补投队列
type OfflineQueue interface {
	Enqueue(ctx context.Context, userID string, payload []byte) error
	// Fetch 取出最多 n 条并从队列移除，FIFO
	Fetch(ctx context.Context, userID string, n int) ([][]byte, error)
}

// PresenceStore 跨节点在线镜像
type PresenceStore interface {
	Online(ctx context.Context, userID, nodeID string) error
	Offline(ctx context.Context, userID string) error
}

// CallRecord 一次通话的终态记录
type CallRecord struct {
	Caller   string
	Callee   string
	Kind     string // audio/video
	Status   string // completed/rejected/cancelled/missed/failed
	Duration time.Duration
	EndedAt  time.Time
}

// CallHistory 通话历史（Postgres 实现见 module/callhistory）
type CallHistory interface {
	Record(ctx context.Context, rec *CallRecord) error
}

// CrossRelay 跨节点转发（NATS 实现见 service/natsx）
type CrossRelay interface {
	PublishUser(userID string, payload []byte) error
	PublishPresence(userID string, online bool) error
}

// Archiver 消息异步归档（Kafka 实现见 service/kafka）
type Archiver interface {
	Archive(msg *StoredMessage)
}
