package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"socialgw/logger"
	"socialgw/tools/errs"
	"socialgw/tools/ids"
	"socialgw/tools/safe"
)

// CallState 通话状态机：Ringing -> Active -> Ended，任一状态可直达 Ended
type CallState int

const (
	CallRinging CallState = iota + 1
	CallActive
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	default:
		return "idle"
	}
}

// CallSession 一次 1v1 通话的显式状态对象
type CallSession struct {
	ID     string
	Caller string
	Callee string
	Kind   string

	State      CallState
	StartedAt  time.Time
	AnsweredAt time.Time

	ringTimer *time.Timer
}

func (s *CallSession) peerOf(userID string) string {
	if userID == s.Caller {
		return s.Callee
	}
	return s.Caller
}

// callPusher 给某用户的全部本地连接投递；返回成功条数
type callPusher interface {
	PushUser(userID string, payload []byte) int
}

// CallManager 节点内通话信令状态
// byUser 同时以主叫和被叫两个键索引同一 session，Busy 判定 O(1)
type CallManager struct {
	mu     sync.Mutex
	byUser map[string]*CallSession

	pusher      callPusher
	history     CallHistory
	ringTimeout time.Duration
	now         func() time.Time
}

func NewCallManager(pusher callPusher, ringTimeout time.Duration) *CallManager {
	return &CallManager{
		byUser:      make(map[string]*CallSession),
		pusher:      pusher,
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

func (m *CallManager) SetHistory(h CallHistory) { m.history = h }

// SessionOf 测试与状态查询用；返回快照字段，不暴露内部指针给调用方修改
func (m *CallManager) SessionOf(userID string) (*CallSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byUser[userID]
	if !ok || s.State == CallEnded {
		return nil, false
	}
	return s, true
}

// Initiate 主叫发起：双方都空闲才建会话并向被叫推 incoming_call
// 被叫无在线连接 -> ErrCalleeUnreachable，不建会话
func (m *CallManager) Initiate(callerID string, p *CallUserPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byUser[callerID]; ok && s.State != CallEnded {
		return errs.ErrBusy.WithDetail("caller already in call")
	}
	if s, ok := m.byUser[p.To]; ok && s.State != CallEnded {
		return errs.ErrBusy.WithDetail("callee busy")
	}

	payload := BuildFrame(EventIncomingCall, &IncomingCallPayload{
		From:  callerID,
		Kind:  p.Kind,
		Offer: p.Offer,
	})
	if m.pusher.PushUser(p.To, payload) == 0 {
		m.recordAsync(&CallRecord{
			Caller: callerID, Callee: p.To, Kind: p.Kind,
			Status: "failed", EndedAt: m.now(),
		})
		return errs.ErrCalleeUnreachable
	}

	s := &CallSession{
		ID:        ids.GenerateString(),
		Caller:    callerID,
		Callee:    p.To,
		Kind:      p.Kind,
		State:     CallRinging,
		StartedAt: m.now(),
	}
	m.byUser[callerID] = s
	m.byUser[p.To] = s
	if m.ringTimeout > 0 {
		s.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.timeout(s) })
	}
	logger.Infof("[call] session=%s ringing caller=%s callee=%s kind=%s", s.ID, callerID, p.To, p.Kind)
	return nil
}

// Answer 只有 Ringing 态的被叫可以接听
func (m *CallManager) Answer(calleeID string, answer json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[calleeID]
	if !ok || s.State != CallRinging || s.Callee != calleeID {
		return errs.ErrStaleSignaling.WithDetail("answer without ringing call")
	}
	s.State = CallActive
	s.AnsweredAt = m.now()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	m.pusher.PushUser(s.Caller, BuildFrame(EventCallAnswered, &CallAnsweredPayload{
		From:   calleeID,
		Answer: answer,
	}))
	logger.Infof("[call] session=%s active", s.ID)
	return nil
}

// Ice ICE 候选者原样转发给对端；会话不存在/已结束视为迟到信令
func (m *CallManager) Ice(fromID string, candidate json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[fromID]
	if !ok || s.State == CallEnded {
		return errs.ErrStaleSignaling.WithDetail("ice without call")
	}
	m.pusher.PushUser(s.peerOf(fromID), BuildFrame(EventIceCandidate, &IceRelayPayload{
		From:      fromID,
		Candidate: candidate,
	}))
	return nil
}

// Cancel 主叫在响铃期撤回
func (m *CallManager) Cancel(callerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[callerID]
	if !ok || s.State != CallRinging || s.Caller != callerID {
		return errs.ErrStaleSignaling.WithDetail("cancel without ringing call")
	}
	m.endLocked(s, "cancelled", "cancelled", s.Callee)
	return nil
}

// Reject 被叫在响铃期拒接
func (m *CallManager) Reject(calleeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[calleeID]
	if !ok || s.State != CallRinging || s.Callee != calleeID {
		return errs.ErrStaleSignaling.WithDetail("reject without ringing call")
	}
	m.endLocked(s, "rejected", "rejected", s.Caller)
	return nil
}

// End 任一方挂断；Active 记 completed，Ringing 兜底按撤回/拒接处理
func (m *CallManager) End(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[userID]
	if !ok || s.State == CallEnded {
		return errs.ErrStaleSignaling.WithDetail("end without call")
	}
	switch s.State {
	case CallActive:
		m.endLocked(s, "completed", "hangup", s.peerOf(userID))
	case CallRinging:
		if userID == s.Caller {
			m.endLocked(s, "cancelled", "cancelled", s.Callee)
		} else {
			m.endLocked(s, "rejected", "rejected", s.Caller)
		}
	}
	return nil
}

// HangupAll 用户最后一条连接断开时的隐式挂断；无会话则 no-op
func (m *CallManager) HangupAll(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byUser[userID]
	if !ok || s.State == CallEnded {
		return
	}
	switch s.State {
	case CallActive:
		m.endLocked(s, "completed", "hangup", s.peerOf(userID))
	case CallRinging:
		// 响铃中掉线：主叫掉线算取消，被叫掉线对主叫呈现挂断
		if userID == s.Caller {
			m.endLocked(s, "cancelled", "hangup", s.Callee)
		} else {
			m.endLocked(s, "failed", "hangup", s.Caller)
		}
	}
}

// timeout 响铃超时：转 Ended(missed)，双方都收 call_ended
func (m *CallManager) timeout(s *CallSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.State != CallRinging || m.byUser[s.Caller] != s {
		return
	}
	logger.Infof("[call] session=%s ring timeout", s.ID)
	m.endLocked(s, "missed", "missed", s.Caller, s.Callee)
}

// endLocked 终结会话：置 Ended、停表、摘索引、通知、落历史
// 调用方必须持锁
func (m *CallManager) endLocked(s *CallSession, status, reason string, notify ...string) {
	s.State = CallEnded
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
	if m.byUser[s.Caller] == s {
		delete(m.byUser, s.Caller)
	}
	if m.byUser[s.Callee] == s {
		delete(m.byUser, s.Callee)
	}

	for _, uid := range notify {
		m.pusher.PushUser(uid, BuildFrame(EventCallEnded, &CallEndedPayload{
			Peer:   s.peerOf(uid),
			Reason: reason,
		}))
	}

	rec := &CallRecord{
		Caller:  s.Caller,
		Callee:  s.Callee,
		Kind:    s.Kind,
		Status:  status,
		EndedAt: m.now(),
	}
	if status == "completed" && !s.AnsweredAt.IsZero() {
		rec.Duration = m.now().Sub(s.AnsweredAt)
	}
	m.recordAsync(rec)
	logger.Infof("[call] session=%s ended status=%s", s.ID, status)
}

func (m *CallManager) recordAsync(rec *CallRecord) {
	if m.history == nil {
		return
	}
	h := m.history
	safe.Go("call-history", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := h.Record(ctx, rec); err != nil {
			logger.Errorf("[call] record history failed: %v", err)
		}
	})
}
