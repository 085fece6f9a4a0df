package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"socialgw/logger"
)

// 入站事件
const (
	EventJoinChat     = "join_chat"
	EventLeaveChat    = "leave_chat"
	EventSendMessage  = "send_message"
	EventDelivered    = "message_delivered"
	EventMarkRead     = "mark_messages_read"
	EventTyping       = "typing"
	EventRecall       = "recall_message"
	EventEdit         = "edit_message"
	EventReaction     = "send_reaction"
	EventCallUser     = "call_user"
	EventAnswerCall   = "answer_call"
	EventIceCandidate = "ice_candidate"
	EventCancelCall   = "cancel_call"
	EventRejectCall   = "reject_call"
	EventEndCall      = "end_call"
)

// 出站事件
const (
	EventAck               = "ack"
	EventError             = "error"
	EventReceiveMessage    = "receive_message"
	EventMessageStatus     = "message_status"
	EventMessagesRead      = "messages_read"
	EventUserTyping        = "user_typing"
	EventUserStatusChanged = "user_status_changed"
	EventIncomingCall      = "incoming_call"
	EventCallAnswered      = "call_answered"
	EventCallUnreachable   = "call_unreachable"
	EventCallBusy          = "call_busy"
	EventCallEnded         = "call_ended"
	EventMessageRecalled   = "message_recalled"
	EventMessageEdited     = "message_edited"
	EventMessageReacted    = "message_reacted"
	EventNewNotification   = "new_notification"
	EventRecentChatUpdated = "recent_chat_updated"
	EventRecentChatRead    = "recent_chat_read"
	EventUnreadCount       = "unread_count"
)

// Frame 业务帧：客户端与网关之间的唯一报文格式
type Frame struct {
	Type  string          `json:"type"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	return f, nil
}

// BuildFrame 序列化一个出站帧；data 编码失败只记日志，返回 nil
func BuildFrame(typ string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			logger.Errorf("[frames] marshal %s data failed: %v", typ, err)
			return nil
		}
		raw = b
	}
	out, err := json.Marshal(&Frame{Type: typ, Data: raw})
	if err != nil {
		logger.Errorf("[frames] marshal %s frame failed: %v", typ, err)
		return nil
	}
	return out
}

func BuildAck(ackID string, data any) []byte {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			logger.Errorf("[frames] marshal ack data failed: %v", err)
			return nil
		}
		raw = b
	}
	out, _ := json.Marshal(&Frame{Type: EventAck, AckID: ackID, Data: raw})
	return out
}

func BuildError(ackID string, code int, msg string) []byte {
	raw, _ := json.Marshal(map[string]any{"code": code, "msg": msg})
	out, _ := json.Marshal(&Frame{Type: EventError, AckID: ackID, Data: raw})
	return out
}

// ---- 入站负载 ----

type RoomPayload struct {
	RoomID string `json:"chat_id"`
}

type SendMessagePayload struct {
	RoomID       string `json:"chat_id"`
	Content      string `json:"content"`
	Kind         string `json:"message_type"` // text/image/voice/shared_post
	MediaURL     string `json:"media_url,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	ReplyToID    string `json:"reply_to_id,omitempty"`
	ReplyContent string `json:"reply_content,omitempty"`
	ReplyKind    string `json:"reply_type,omitempty"`
	ReplySender  string `json:"reply_sender,omitempty"`
}

type DeliveredPayload struct {
	MessageID string `json:"message_id"`
}

type TypingPayload struct {
	RoomID   string `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

type RecallPayload struct {
	RoomID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type EditPayload struct {
	RoomID     string `json:"chat_id"`
	MessageID  string `json:"message_id"`
	NewContent string `json:"new_content"`
}

type ReactionPayload struct {
	RoomID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type CallUserPayload struct {
	To    string          `json:"to"`
	Kind  string          `json:"kind"` // audio/video
	Offer json.RawMessage `json:"offer"`
}

type AnswerPayload struct {
	Answer json.RawMessage `json:"answer"`
}

type IcePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

// ---- 出站负载 ----

type StatusChangedPayload struct {
	RoomID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
}

type ReadPayload struct {
	RoomID string `json:"chat_id"`
	ReadBy string `json:"read_by"`
}

type UserTypingPayload struct {
	RoomID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"` // online/offline
}

type IncomingCallPayload struct {
	From  string          `json:"from"`
	Kind  string          `json:"kind"`
	Offer json.RawMessage `json:"offer"`
}

type CallAnsweredPayload struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
}

type IceRelayPayload struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndedPayload struct {
	Peer   string `json:"peer"`
	Reason string `json:"reason"` // cancelled/rejected/hangup/missed
}

type CallTargetPayload struct {
	To string `json:"to"`
}

type NotificationPayload struct {
	Type     string `json:"type"`
	SenderID string `json:"sender_id"`
	RoomID   string `json:"chat_id"`
	Content  string `json:"content"`
}

type RecentChatPayload struct {
	RoomID      string    `json:"chat_id"`
	LastMessage string    `json:"last_message"`
	LastTime    time.Time `json:"last_time"`
	SenderID    string    `json:"sender_id"`
	Kind        string    `json:"message_type"`
	MediaURL    string    `json:"media_url,omitempty"`
	UnreadInc   int       `json:"unread_inc"`
}

type UnreadCountPayload struct {
	Count int64 `json:"count"`
}
