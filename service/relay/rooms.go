package relay

import "sync"

// Rooms 连接级会话成员表：join_chat 之后才允许收发该会话的消息
// 以 connID 为粒度，同一用户的不同端各自 join
type Rooms struct {
	mu     sync.RWMutex
	byRoom map[string]map[string]*Client
	byConn map[string]map[string]struct{}
}

func NewRooms() *Rooms {
	return &Rooms{
		byRoom: make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join 幂等：重复 join 同一会话不报错
func (r *Rooms) Join(c *Client, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.byRoom[roomID]
	if room == nil {
		room = make(map[string]*Client)
		r.byRoom[roomID] = room
	}
	room[c.ConnID] = c

	set := r.byConn[c.ConnID]
	if set == nil {
		set = make(map[string]struct{})
		r.byConn[c.ConnID] = set
	}
	set[roomID] = struct{}{}
}

// Leave 幂等：未加入时 no-op
func (r *Rooms) Leave(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, roomID)
}

func (r *Rooms) leaveLocked(connID, roomID string) {
	if room := r.byRoom[roomID]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	if set := r.byConn[connID]; set != nil {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll 断连清理用；返回退出的会话 id
func (r *Rooms) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byConn[connID]
	if len(set) == 0 {
		delete(r.byConn, connID)
		return nil
	}
	out := make([]string, 0, len(set))
	for roomID := range set {
		out = append(out, roomID)
	}
	for _, roomID := range out {
		r.leaveLocked(connID, roomID)
	}
	return out
}

func (r *Rooms) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byRoom[roomID]
	if room == nil {
		return false
	}
	_, ok := room[connID]
	return ok
}

// MembersOf 会话内全部连接快照
func (r *Rooms) MembersOf(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byRoom[roomID]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}

// MembersExcept 排除指定连接（通常是发送方自己这条连接）
func (r *Rooms) MembersExcept(roomID, connID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.byRoom[roomID]
	if len(room) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(room))
	for id, c := range room {
		if id == connID {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (r *Rooms) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byConn[connID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for roomID := range set {
		out = append(out, roomID)
	}
	return out
}
