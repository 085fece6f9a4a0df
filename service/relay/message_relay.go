package relay

import (
	"context"
	"time"

	"socialgw/logger"
	"socialgw/tools/errs"
)

const storeTimeout = 5 * time.Second

// sendMessage 校验成员身份 -> 落库 -> 房间内扇出 -> 通知/未读/归档
func (s *Server) sendMessage(c *Client, f *Frame) error {
	var p SendMessagePayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	stored, err := s.store.PersistMessage(ctx, &OutgoingMessage{
		RoomID:       p.RoomID,
		SenderID:     c.UserID,
		Content:      p.Content,
		Kind:         p.Kind,
		MediaURL:     p.MediaURL,
		Duration:     p.Duration,
		ReplyToID:    p.ReplyToID,
		ReplyContent: p.ReplyContent,
		ReplyKind:    p.ReplyKind,
		ReplySender:  p.ReplySender,
	})
	if err != nil {
		logger.Errorf("[relay] persist message failed: user=%s room=%s err=%v", c.UserID, p.RoomID, err)
		return errs.ErrPersistenceFailure
	}

	// 房间内扇出：排除发送连接本身，发送者的其他端照常收到
	payload := BuildFrame(EventReceiveMessage, stored)
	for _, m := range s.rooms.MembersExcept(p.RoomID, c.ConnID) {
		m.Push(payload)
	}
	c.Push(BuildAck(f.AckID, stored))

	s.notifyRoom(ctx, c, stored, payload)

	if s.archive != nil {
		s.archive.Archive(stored)
	}
	return nil
}

// notifyRoom 发送后的周边投递：通知、最近会话、未读数、离线补投
func (s *Server) notifyRoom(ctx context.Context, sender *Client, msg *StoredMessage, msgPayload []byte) {
	members, err := s.store.RoomMembers(ctx, msg.RoomID)
	if err != nil {
		logger.Warnf("[relay] load room members failed: room=%s err=%v", msg.RoomID, err)
		return
	}

	preview := messagePreview(msg)
	for _, uid := range members {
		if uid == sender.UserID {
			// 发送者的全部端只刷新最近会话，不计未读
			s.pushUserLocal(uid, BuildFrame(EventRecentChatUpdated, &RecentChatPayload{
				RoomID:      msg.RoomID,
				LastMessage: preview,
				LastTime:    msg.CreatedAt,
				SenderID:    msg.SenderID,
				Kind:        msg.Kind,
				MediaURL:    msg.MediaURL,
				UnreadInc:   0,
			}))
			continue
		}

		if s.counters != nil {
			if err := s.counters.IncrUnread(ctx, uid, msg.RoomID); err != nil {
				logger.Warnf("[relay] incr unread failed: user=%s err=%v", uid, err)
			}
		}

		if s.registry.IsOnline(uid) {
			s.pushUserLocal(uid, BuildFrame(EventNewNotification, &NotificationPayload{
				Type:     "message",
				SenderID: msg.SenderID,
				RoomID:   msg.RoomID,
				Content:  preview,
			}))
			s.pushUserLocal(uid, BuildFrame(EventRecentChatUpdated, &RecentChatPayload{
				RoomID:      msg.RoomID,
				LastMessage: preview,
				LastTime:    msg.CreatedAt,
				SenderID:    msg.SenderID,
				Kind:        msg.Kind,
				MediaURL:    msg.MediaURL,
				UnreadInc:   1,
			}))
			s.pushUnreadTotal(ctx, uid)
			continue
		}

		// 本节点不在线：跨节点转发，或进离线队列等重连补投
		if s.relay != nil {
			if err := s.relay.PublishUser(uid, msgPayload); err == nil {
				continue
			} else {
				logger.Warnf("[relay] cross publish failed: user=%s err=%v", uid, err)
			}
		}
		if s.offline != nil {
			if err := s.offline.Enqueue(ctx, uid, msgPayload); err != nil {
				logger.Warnf("[relay] offline enqueue failed: user=%s err=%v", uid, err)
			}
		}
	}
}

// delivered 接收端回执：sent -> delivered，单向且幂等
func (s *Server) delivered(c *Client, f *Frame) error {
	var p DeliveredPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, changed, err := s.store.SetStatus(ctx, p.MessageID, StatusDelivered)
	if err != nil {
		logger.Warnf("[relay] set delivered failed: msg=%s err=%v", p.MessageID, err)
		return nil
	}
	if !changed {
		return nil
	}
	s.pushUserLocal(msg.SenderID, BuildFrame(EventMessageStatus, &StatusChangedPayload{
		RoomID:    msg.RoomID,
		MessageID: msg.ID,
		Status:    StatusDelivered,
	}))
	return nil
}

// markRead 读端驱动：整个会话置 read，并广播给房间其他成员
func (s *Server) markRead(c *Client, f *Frame) error {
	var p RoomPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.MarkRoomRead(ctx, p.RoomID, c.UserID); err != nil {
		logger.Warnf("[relay] mark read failed: room=%s user=%s err=%v", p.RoomID, c.UserID, err)
		return errs.ErrPersistenceFailure
	}
	if s.counters != nil {
		if err := s.counters.ResetUnread(ctx, c.UserID, p.RoomID); err != nil {
			logger.Warnf("[relay] reset unread failed: user=%s err=%v", c.UserID, err)
		}
	}

	payload := BuildFrame(EventMessagesRead, &ReadPayload{RoomID: p.RoomID, ReadBy: c.UserID})
	for _, m := range s.rooms.MembersExcept(p.RoomID, c.ConnID) {
		m.Push(payload)
	}

	// 读者自己的全部端同步清红点
	s.pushUserLocal(c.UserID, BuildFrame(EventRecentChatRead, &RoomPayload{RoomID: p.RoomID}))
	s.pushUnreadTotal(ctx, c.UserID)
	return nil
}

// typing 纯转发，不落库
func (s *Server) typing(c *Client, f *Frame) error {
	var p TypingPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}
	payload := BuildFrame(EventUserTyping, &UserTypingPayload{
		RoomID:   p.RoomID,
		UserID:   c.UserID,
		IsTyping: p.IsTyping,
	})
	for _, m := range s.rooms.MembersExcept(p.RoomID, c.ConnID) {
		m.Push(payload)
	}
	return nil
}

func (s *Server) recall(c *Client, f *Frame) error {
	var p RecallPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.RecallMessage(ctx, p.RoomID, p.MessageID); err != nil {
		logger.Warnf("[relay] recall failed: msg=%s err=%v", p.MessageID, err)
		return errs.ErrPersistenceFailure
	}
	// 撤回对房间内所有端生效，包含发起端自己
	payload := BuildFrame(EventMessageRecalled, &RecallPayload{RoomID: p.RoomID, MessageID: p.MessageID})
	for _, m := range s.rooms.MembersOf(p.RoomID) {
		m.Push(payload)
	}
	return nil
}

func (s *Server) edit(c *Client, f *Frame) error {
	var p EditPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.EditMessage(ctx, p.RoomID, p.MessageID, p.NewContent); err != nil {
		logger.Warnf("[relay] edit failed: msg=%s err=%v", p.MessageID, err)
		return errs.ErrPersistenceFailure
	}
	payload := BuildFrame(EventMessageEdited, &EditPayload{
		RoomID:     p.RoomID,
		MessageID:  p.MessageID,
		NewContent: p.NewContent,
	})
	for _, m := range s.rooms.MembersOf(p.RoomID) {
		m.Push(payload)
	}
	return nil
}

// reaction 表情回应不落库，只在房间内转发
func (s *Server) reaction(c *Client, f *Frame) error {
	var p ReactionPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if !s.rooms.IsMember(c.ConnID, p.RoomID) {
		return errs.ErrNotAMember
	}
	payload := BuildFrame(EventMessageReacted, map[string]any{
		"chat_id":    p.RoomID,
		"message_id": p.MessageID,
		"user_id":    c.UserID,
		"emoji":      p.Emoji,
	})
	for _, m := range s.rooms.MembersOf(p.RoomID) {
		m.Push(payload)
	}
	return nil
}

func (s *Server) pushUnreadTotal(ctx context.Context, userID string) {
	if s.counters == nil {
		return
	}
	total, err := s.counters.TotalUnread(ctx, userID)
	if err != nil {
		logger.Warnf("[relay] total unread failed: user=%s err=%v", userID, err)
		return
	}
	s.pushUserLocal(userID, BuildFrame(EventUnreadCount, &UnreadCountPayload{Count: total}))
}

// messagePreview 通知/最近会话里展示的摘要文本
func messagePreview(m *StoredMessage) string {
	switch m.Kind {
	case "image":
		return "[图片]"
	case "voice":
		return "[语音]"
	case "shared_post":
		return "[分享]"
	default:
		return m.Content
	}
}
