package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callUser(t *testing.T, s *Server, c *Client, to string) {
	t.Helper()
	s.dispatch(c, mustFrame(t, EventCallUser, "", CallUserPayload{
		To:    to,
		Kind:  "video",
		Offer: json.RawMessage(`{"sdp":"offer"}`),
	}))
}

func TestCallFullLifecycle(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	hist := &memHistory{}
	s.SetCallHistory(hist)

	alice := connect(s, "alice")
	bob := connect(s, "bob")

	// 发起：被叫收 incoming_call，主叫进 Ringing
	callUser(t, s, alice, "bob")
	inc := dataAs[IncomingCallPayload](t, expectFrame(t, bob, EventIncomingCall))
	assert.Equal(t, "alice", inc.From)
	assert.Equal(t, "video", inc.Kind)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(inc.Offer))

	sess, ok := s.calls.SessionOf("alice")
	require.True(t, ok)
	assert.Equal(t, CallRinging, sess.State)

	// 接听：主叫收 call_answered，会话 Active
	s.dispatch(bob, mustFrame(t, EventAnswerCall, "", AnswerPayload{Answer: json.RawMessage(`{"sdp":"answer"}`)}))
	ans := dataAs[CallAnsweredPayload](t, expectFrame(t, alice, EventCallAnswered))
	assert.Equal(t, "bob", ans.From)

	sess, ok = s.calls.SessionOf("bob")
	require.True(t, ok)
	assert.Equal(t, CallActive, sess.State)

	// ICE 双向透传
	s.dispatch(alice, mustFrame(t, EventIceCandidate, "", IcePayload{Candidate: json.RawMessage(`{"c":1}`)}))
	ice := dataAs[IceRelayPayload](t, expectFrame(t, bob, EventIceCandidate))
	assert.Equal(t, "alice", ice.From)
	s.dispatch(bob, mustFrame(t, EventIceCandidate, "", IcePayload{Candidate: json.RawMessage(`{"c":2}`)}))
	expectFrame(t, alice, EventIceCandidate)

	// 挂断：对端收 call_ended，历史记 completed
	s.dispatch(alice, mustFrame(t, EventEndCall, "", nil))
	ended := dataAs[CallEndedPayload](t, expectFrame(t, bob, EventCallEnded))
	assert.Equal(t, "alice", ended.Peer)
	assert.Equal(t, "hangup", ended.Reason)

	_, ok = s.calls.SessionOf("alice")
	assert.False(t, ok)
	rec := hist.waitRecord(t, "completed")
	assert.Equal(t, "alice", rec.Caller)
	assert.Equal(t, "bob", rec.Callee)
}

func TestCallCalleeUnreachable(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	hist := &memHistory{}
	s.SetCallHistory(hist)

	alice := connect(s, "alice")
	callUser(t, s, alice, "ghost")

	// 不产生 incoming_call，主叫立刻拿到终态
	f := dataAs[CallTargetPayload](t, expectFrame(t, alice, EventCallUnreachable))
	assert.Equal(t, "ghost", f.To)
	_, ok := s.calls.SessionOf("alice")
	assert.False(t, ok)
	hist.waitRecord(t, "failed")
}

func TestCallBusy(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)

	alice := connect(s, "alice")
	bob := connect(s, "bob")
	carol := connect(s, "carol")

	callUser(t, s, alice, "bob")
	expectFrame(t, bob, EventIncomingCall)

	// 响铃中的被叫也算占线
	callUser(t, s, carol, "bob")
	busy := dataAs[CallTargetPayload](t, expectFrame(t, carol, EventCallBusy))
	assert.Equal(t, "bob", busy.To)
	expectSilence(t, bob)

	// 通话中的主叫再呼别人同样占线
	s.dispatch(bob, mustFrame(t, EventAnswerCall, "", AnswerPayload{Answer: json.RawMessage(`{}`)}))
	expectFrame(t, alice, EventCallAnswered)
	callUser(t, s, alice, "carol")
	expectFrame(t, alice, EventCallBusy)
	expectSilence(t, carol)
}

func TestCallRejectAndCancel(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	hist := &memHistory{}
	s.SetCallHistory(hist)

	alice := connect(s, "alice")
	bob := connect(s, "bob")

	callUser(t, s, alice, "bob")
	expectFrame(t, bob, EventIncomingCall)
	s.dispatch(bob, mustFrame(t, EventRejectCall, "", nil))
	ended := dataAs[CallEndedPayload](t, expectFrame(t, alice, EventCallEnded))
	assert.Equal(t, "rejected", ended.Reason)
	hist.waitRecord(t, "rejected")

	// 拒接后双方立即可再呼
	callUser(t, s, alice, "bob")
	expectFrame(t, bob, EventIncomingCall)
	s.dispatch(alice, mustFrame(t, EventCancelCall, "", nil))
	ended = dataAs[CallEndedPayload](t, expectFrame(t, bob, EventCallEnded))
	assert.Equal(t, "cancelled", ended.Reason)
	hist.waitRecord(t, "cancelled")
}

func TestCallStaleSignalingIgnored(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	alice := connect(s, "alice")

	// 无会话时的 answer/ice/end 只记日志，不回错误帧
	s.dispatch(alice, mustFrame(t, EventAnswerCall, "", AnswerPayload{Answer: json.RawMessage(`{}`)}))
	s.dispatch(alice, mustFrame(t, EventIceCandidate, "", IcePayload{Candidate: json.RawMessage(`{}`)}))
	s.dispatch(alice, mustFrame(t, EventEndCall, "", nil))
	expectSilence(t, alice)
}

func TestCallRingTimeout(t *testing.T) {
	s := newTestServer(t, newMemStore(), 40*time.Millisecond)
	hist := &memHistory{}
	s.SetCallHistory(hist)

	alice := connect(s, "alice")
	bob := connect(s, "bob")

	callUser(t, s, alice, "bob")
	expectFrame(t, bob, EventIncomingCall)

	// 超时后双方都收到 missed 终态
	ended := dataAs[CallEndedPayload](t, expectFrame(t, alice, EventCallEnded))
	assert.Equal(t, "missed", ended.Reason)
	ended = dataAs[CallEndedPayload](t, expectFrame(t, bob, EventCallEnded))
	assert.Equal(t, "missed", ended.Reason)

	_, ok := s.calls.SessionOf("alice")
	assert.False(t, ok)
	hist.waitRecord(t, "missed")

	// 超时后的接听是迟到信令
	s.dispatch(bob, mustFrame(t, EventAnswerCall, "", AnswerPayload{Answer: json.RawMessage(`{}`)}))
	expectSilence(t, alice)
}

func TestCallDisconnectDuringActive(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	hist := &memHistory{}
	s.SetCallHistory(hist)

	alice := connect(s, "alice")
	bob := connect(s, "bob")

	callUser(t, s, alice, "bob")
	expectFrame(t, bob, EventIncomingCall)
	s.dispatch(bob, mustFrame(t, EventAnswerCall, "", AnswerPayload{Answer: json.RawMessage(`{}`)}))
	expectFrame(t, alice, EventCallAnswered)

	// 主叫最后一条连接断开 -> 对端收到 call_ended
	s.dropClient(alice)
	ended := dataAs[CallEndedPayload](t, expectFrame(t, bob, EventCallEnded))
	assert.Equal(t, "alice", ended.Peer)
	assert.Equal(t, "hangup", ended.Reason)
	_, ok := s.calls.SessionOf("bob")
	assert.False(t, ok)
	hist.waitRecord(t, "completed")
}

func TestCallBlockedUserLooksUnreachable(t *testing.T) {
	store := newMemStore()
	store.block("bob", "alice")
	s := newTestServer(t, store, 0)

	alice := connect(s, "alice")
	bob := connect(s, "bob")

	callUser(t, s, alice, "bob")
	expectFrame(t, alice, EventCallUnreachable)
	// 拉黑不暴露给主叫，被叫也不被打扰
	expectSilence(t, bob)
}

func TestCallSelfAndEmptyTargetRejected(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	alice := connect(s, "alice")

	s.dispatch(alice, mustFrame(t, EventCallUser, "a1", CallUserPayload{To: "alice"}))
	f := expectFrame(t, alice, EventError)
	assert.Equal(t, "a1", f.AckID)

	s.dispatch(alice, mustFrame(t, EventCallUser, "", CallUserPayload{}))
	expectFrame(t, alice, EventError)
}
