package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ===== 内存版存储，测试不依赖外部服务 =====

type memStore struct {
	mu         sync.Mutex
	seq        int
	msgs       map[string]*StoredMessage
	members    map[string][]string
	blocks     map[[2]string]bool
	persistErr error
}

func newMemStore() *memStore {
	return &memStore{
		msgs:    make(map[string]*StoredMessage),
		members: make(map[string][]string),
		blocks:  make(map[[2]string]bool),
	}
}

func (m *memStore) addRoom(roomID string, users ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[roomID] = users
}

func (m *memStore) block(a, b string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[[2]string{a, b}] = true
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *memStore) get(id string) *StoredMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.msgs[id]; ok {
		cp := *msg
		return &cp
	}
	return nil
}

func (m *memStore) PersistMessage(_ context.Context, in *OutgoingMessage) (*StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return nil, m.persistErr
	}
	m.seq++
	msg := &StoredMessage{
		ID:        fmt.Sprintf("m%d", m.seq),
		RoomID:    in.RoomID,
		SenderID:  in.SenderID,
		Content:   in.Content,
		Kind:      in.Kind,
		MediaURL:  in.MediaURL,
		Duration:  in.Duration,
		Status:    StatusSent,
		CreatedAt: time.Now().UTC(),
	}
	m.msgs[msg.ID] = msg
	cp := *msg
	return &cp, nil
}

func (m *memStore) SetStatus(_ context.Context, messageID string, st Status) (*StoredMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok {
		return nil, false, nil
	}
	if StatusRank(msg.Status) >= StatusRank(st) {
		return nil, false, nil
	}
	msg.Status = st
	cp := *msg
	return &cp, true, nil
}

func (m *memStore) MarkRoomRead(_ context.Context, roomID, readerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.RoomID == roomID && msg.SenderID != readerID && StatusRank(msg.Status) < StatusRank(StatusRead) {
			msg.Status = StatusRead
		}
	}
	return nil
}

func (m *memStore) RecallMessage(_ context.Context, roomID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.RoomID != roomID {
		return fmt.Errorf("message not found")
	}
	msg.Content = ""
	return nil
}

func (m *memStore) EditMessage(_ context.Context, roomID, messageID, newContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[messageID]
	if !ok || msg.RoomID != roomID {
		return fmt.Errorf("message not found")
	}
	msg.Content = newContent
	return nil
}

func (m *memStore) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[roomID], nil
}

func (m *memStore) IsBlocked(_ context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[[2]string{a, b}] || m.blocks[[2]string{b, a}], nil
}

type memCounters struct {
	mu     sync.Mutex
	byRoom map[string]int64 // user:room
	total  map[string]int64
}

func newMemCounters() *memCounters {
	return &memCounters{byRoom: make(map[string]int64), total: make(map[string]int64)}
}

func (m *memCounters) IncrUnread(_ context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRoom[userID+":"+roomID]++
	m.total[userID]++
	return nil
}

func (m *memCounters) ResetUnread(_ context.Context, userID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + roomID
	m.total[userID] -= m.byRoom[key]
	if m.total[userID] < 0 {
		m.total[userID] = 0
	}
	delete(m.byRoom, key)
	return nil
}

func (m *memCounters) TotalUnread(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total[userID], nil
}

type memOffline struct {
	mu     sync.Mutex
	queues map[string][][]byte
}

func newMemOffline() *memOffline { return &memOffline{queues: make(map[string][][]byte)} }

func (m *memOffline) Enqueue(_ context.Context, userID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[userID] = append(m.queues[userID], payload)
	return nil
}

func (m *memOffline) Fetch(_ context.Context, userID string, n int) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queues[userID]
	if len(q) == 0 {
		return nil, nil
	}
	if n > len(q) {
		n = len(q)
	}
	out := q[:n]
	m.queues[userID] = q[n:]
	return out, nil
}

func (m *memOffline) len(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[userID])
}

type memHistory struct {
	mu   sync.Mutex
	recs []*CallRecord
}

func (m *memHistory) Record(_ context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

// waitRecord 历史落库走异步 goroutine，轮询等待
func (m *memHistory) waitRecord(t *testing.T, status string) *CallRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		for _, r := range m.recs {
			if r.Status == status {
				m.mu.Unlock()
				return r
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no call record with status %q", status)
	return nil
}

// ===== Server / Client 测试脚手架 =====

func newTestServer(t *testing.T, store Storage, ringTimeout time.Duration) *Server {
	t.Helper()
	if store == nil {
		store = newMemStore()
	}
	s := NewServer(Options{
		NodeID:        "test-node",
		JwtSecret:     "test-secret",
		SendQueueSize: 64,
		OfflineBatch:  100,
		RingTimeout:   ringTimeout,
	}, store)
	t.Cleanup(s.Close)
	return s
}

var connSeq int

// connect 直接登记连接，不触发在线广播（在线广播单独测）
func connect(s *Server, userID string) *Client {
	connSeq++
	c := NewClient(fmt.Sprintf("conn-%d", connSeq), userID, nil, 64)
	s.registry.Register(c)
	return c
}

func mustFrame(t *testing.T, typ string, ackID string, data any) *Frame {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	return &Frame{Type: typ, AckID: ackID, Data: raw}
}

func nextFrame(t *testing.T, c *Client) *Frame {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		f, err := ParseFrame(raw)
		require.NoError(t, err)
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame within 1s")
		return nil
	}
}

func expectFrame(t *testing.T, c *Client, typ string) *Frame {
	t.Helper()
	f := nextFrame(t, c)
	require.Equal(t, typ, f.Type, "unexpected frame type, data=%s", f.Data)
	return f
}

func expectSilence(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected frame: %s", raw)
		}
	case <-time.After(80 * time.Millisecond):
	}
}

func dataAs[T any](t *testing.T, f *Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}
