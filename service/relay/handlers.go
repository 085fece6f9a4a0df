package relay

import (
	"context"
	"errors"
	"fmt"

	"socialgw/logger"
	"socialgw/tools/errs"
)

func registerHandlers(d *Dispatcher) {
	d.Register(joinHandler{})
	d.Register(leaveHandler{})
	d.Register(sendMessageHandler{})
	d.Register(deliveredHandler{})
	d.Register(markReadHandler{})
	d.Register(typingHandler{})
	d.Register(recallHandler{})
	d.Register(editHandler{})
	d.Register(reactionHandler{})
	d.Register(callUserHandler{})
	d.Register(answerCallHandler{})
	d.Register(iceHandler{})
	d.Register(cancelCallHandler{})
	d.Register(rejectCallHandler{})
	d.Register(endCallHandler{})
}

// ===== 房间 =====

type joinHandler struct{}

func (joinHandler) Type() string { return EventJoinChat }
func (joinHandler) Handle(s *Server, c *Client, f *Frame) error {
	var p RoomPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return fmt.Errorf("join_chat missing chat_id")
	}
	s.rooms.Join(c, p.RoomID)
	logger.Debugf("[relay] join: conn=%s user=%s room=%s", c.ConnID, c.UserID, p.RoomID)
	c.Push(BuildAck(f.AckID, nil))
	return nil
}

type leaveHandler struct{}

func (leaveHandler) Type() string { return EventLeaveChat }
func (leaveHandler) Handle(s *Server, c *Client, f *Frame) error {
	var p RoomPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	s.rooms.Leave(c.ConnID, p.RoomID)
	c.Push(BuildAck(f.AckID, nil))
	return nil
}

// ===== 消息 =====

type sendMessageHandler struct{}

func (sendMessageHandler) Type() string { return EventSendMessage }
func (sendMessageHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.sendMessage(c, f)
}

type deliveredHandler struct{}

func (deliveredHandler) Type() string { return EventDelivered }
func (deliveredHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.delivered(c, f)
}

type markReadHandler struct{}

func (markReadHandler) Type() string { return EventMarkRead }
func (markReadHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.markRead(c, f)
}

type typingHandler struct{}

func (typingHandler) Type() string { return EventTyping }
func (typingHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.typing(c, f)
}

type recallHandler struct{}

func (recallHandler) Type() string { return EventRecall }
func (recallHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.recall(c, f)
}

type editHandler struct{}

func (editHandler) Type() string { return EventEdit }
func (editHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.edit(c, f)
}

type reactionHandler struct{}

func (reactionHandler) Type() string { return EventReaction }
func (reactionHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.reaction(c, f)
}

// ===== 呼叫信令 =====

type callUserHandler struct{}

func (callUserHandler) Type() string { return EventCallUser }
func (callUserHandler) Handle(s *Server, c *Client, f *Frame) error {
	var p CallUserPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	if p.To == "" || p.To == c.UserID {
		return fmt.Errorf("call_user bad target")
	}
	if p.Kind == "" {
		p.Kind = "audio"
	}

	// 拉黑关系对主叫呈现为不可达，不暴露拉黑本身
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	blocked, err := s.store.IsBlocked(ctx, c.UserID, p.To)
	cancel()
	if err != nil {
		logger.Warnf("[relay] block check failed: %v", err)
	}
	if blocked {
		c.Push(BuildFrame(EventCallUnreachable, &CallTargetPayload{To: p.To}))
		return nil
	}

	switch err := s.calls.Initiate(c.UserID, &p); {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrCalleeUnreachable):
		c.Push(BuildFrame(EventCallUnreachable, &CallTargetPayload{To: p.To}))
		return nil
	case errors.Is(err, errs.ErrBusy):
		c.Push(BuildFrame(EventCallBusy, &CallTargetPayload{To: p.To}))
		return nil
	default:
		return err
	}
}

type answerCallHandler struct{}

func (answerCallHandler) Type() string { return EventAnswerCall }
func (answerCallHandler) Handle(s *Server, c *Client, f *Frame) error {
	var p AnswerPayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	return s.calls.Answer(c.UserID, p.Answer)
}

type iceHandler struct{}

func (iceHandler) Type() string { return EventIceCandidate }
func (iceHandler) Handle(s *Server, c *Client, f *Frame) error {
	var p IcePayload
	if err := unmarshalData(f, &p); err != nil {
		return err
	}
	return s.calls.Ice(c.UserID, p.Candidate)
}

type cancelCallHandler struct{}

func (cancelCallHandler) Type() string { return EventCancelCall }
func (cancelCallHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.calls.Cancel(c.UserID)
}

type rejectCallHandler struct{}

func (rejectCallHandler) Type() string { return EventRejectCall }
func (rejectCallHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.calls.Reject(c.UserID)
}

type endCallHandler struct{}

func (endCallHandler) Type() string { return EventEndCall }
func (endCallHandler) Handle(s *Server, c *Client, f *Frame) error {
	return s.calls.End(c.UserID)
}
