package relay

import "sync"

// Registry 节点内连接登记表
// byUser: userID -> connID -> Client；byConn: connID -> Client
// 作为 Server 的成员持有，不做包级全局
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Client
	byConn map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]*Client),
		byConn: make(map[string]*Client),
	}
}

// Register 登记连接；返回该用户是否由离线转为在线
// 同一 connID 重复登记是幂等 no-op
func (r *Registry) Register(c *Client) (wentOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[c.ConnID]; ok {
		return false
	}
	set := r.byUser[c.UserID]
	if set == nil {
		set = make(map[string]*Client)
		r.byUser[c.UserID] = set
		wentOnline = true
	}
	set[c.ConnID] = c
	r.byConn[c.ConnID] = c
	return wentOnline
}

// Unregister 摘除连接；返回该用户是否由在线转为离线
// 未登记的 connID 是幂等 no-op
func (r *Registry) Unregister(connID string) (c *Client, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	if set := r.byUser[c.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
			wentOffline = true
		}
	}
	return c, wentOffline
}

func (r *Registry) ConnectionsFor(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// All 当前所有连接快照（全局广播用）
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Close 关闭全部连接并清空登记表
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		conns = append(conns, c)
	}
	r.byUser = make(map[string]map[string]*Client)
	r.byConn = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
