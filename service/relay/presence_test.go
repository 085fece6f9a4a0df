package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// attach 走完整上线路径（含在线广播），detach 走完整断连清理
func attach(s *Server, user string) *Client {
	connSeq++
	c := NewClient(fmt.Sprintf("pconn-%d", connSeq), user, nil, 64)
	if s.registry.Register(c) {
		s.userOnline(user)
	}
	return c
}

func TestPresenceBroadcastOnEdgesOnly(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)

	bob := attach(s, "bob")
	expectFrame(t, bob, EventUserStatusChanged) // bob 自己的上线也广播

	// 第一条连接：离线->在线，广播一次
	a1 := attach(s, "alice")
	p := dataAs[PresencePayload](t, expectFrame(t, bob, EventUserStatusChanged))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "online", p.Status)
	expectFrame(t, a1, EventUserStatusChanged)

	// 第二条连接：集合非空->非空，不广播
	a2 := attach(s, "alice")
	expectSilence(t, bob)

	// 非最后一条断开：不广播
	s.dropClient(a1)
	expectSilence(t, bob)

	// 最后一条断开：在线->离线，广播一次
	s.dropClient(a2)
	p = dataAs[PresencePayload](t, expectFrame(t, bob, EventUserStatusChanged))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, "offline", p.Status)
}

func TestRemotePresenceRelayedToLocalConns(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	bob := connect(s, "bob")

	s.HandleRemotePresence("carol", true)
	p := dataAs[PresencePayload](t, expectFrame(t, bob, EventUserStatusChanged))
	assert.Equal(t, "carol", p.UserID)
	assert.Equal(t, "online", p.Status)
}

func TestDeliverLocalFallsBackToOffline(t *testing.T) {
	s := newTestServer(t, newMemStore(), 0)
	offline := newMemOffline()
	s.SetOffline(offline)

	payload := BuildFrame(EventReceiveMessage, &StoredMessage{ID: "m1"})

	// 本地在线直接投
	bob := connect(s, "bob")
	s.DeliverLocal("bob", payload)
	expectFrame(t, bob, EventReceiveMessage)
	assert.Zero(t, offline.len("bob"))

	// 本地不在线进离线队列
	s.DeliverLocal("carol", payload)
	assert.Equal(t, 1, offline.len("carol"))
}
