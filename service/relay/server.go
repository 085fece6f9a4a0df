package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"socialgw/logger"
	"socialgw/tools/errs"
	"socialgw/tools/ids"
	"socialgw/tools/safe"
	"socialgw/tools/security"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin 校验交给网关入口的 middleware 处理
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options 中继服务参数
type Options struct {
	NodeID        string
	JwtSecret     string
	SendQueueSize int
	OfflineBatch  int
	RingTimeout   time.Duration
}

// Server 实时中继核心：连接登记、房间成员、消息转发、呼叫信令、在线广播
// 除 store 外的协作方都可为 nil（按部署裁剪），路径上全部做判空
type Server struct {
	opts Options

	registry *Registry
	rooms    *Rooms
	calls    *CallManager
	fanout   *Fanout
	disp     *Dispatcher

	store    Storage
	counters Counters
	offline  OfflineQueue
	presence PresenceStore
	relay    CrossRelay
	archive  Archiver

	jwtOpts security.Options
}

func NewServer(opts Options, store Storage) *Server {
	if store == nil {
		panic("relay: storage is required")
	}
	s := &Server{
		opts:     opts,
		registry: NewRegistry(),
		rooms:    NewRooms(),
		fanout:   NewFanout(4, 4096),
		disp:     NewDispatcher(),
		store:    store,
		jwtOpts:  security.DefaultOptions([]byte(opts.JwtSecret)),
	}
	s.calls = NewCallManager(s, opts.RingTimeout)
	registerHandlers(s.disp)
	return s
}

func (s *Server) SetCounters(c Counters)       { s.counters = c }
func (s *Server) SetOffline(q OfflineQueue)    { s.offline = q }
func (s *Server) SetPresence(p PresenceStore)  { s.presence = p }
func (s *Server) SetCallHistory(h CallHistory) { s.calls.SetHistory(h) }
func (s *Server) SetCrossRelay(r CrossRelay)   { s.relay = r }
func (s *Server) SetArchiver(a Archiver)       { s.archive = a }

func (s *Server) Registry() *Registry { return s.registry }
func (s *Server) Rooms() *Rooms       { return s.rooms }
func (s *Server) Calls() *CallManager { return s.calls }

// PushUser 给某用户的全部本地连接投递；返回成功条数（callPusher 实现）
func (s *Server) PushUser(userID string, payload []byte) int {
	n := 0
	for _, c := range s.registry.ConnectionsFor(userID) {
		if c.Push(payload) {
			n++
		}
	}
	return n
}

func (s *Server) pushUserLocal(userID string, payload []byte) {
	s.PushUser(userID, payload)
}

// DeliverLocal 跨节点转发的入口：本节点在线直接投，不在线进离线队列
func (s *Server) DeliverLocal(userID string, payload []byte) {
	if s.PushUser(userID, payload) > 0 {
		return
	}
	if s.offline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.offline.Enqueue(ctx, userID, payload); err != nil {
		logger.Warnf("[relay] offline enqueue failed: user=%s err=%v", userID, err)
	}
}

// BroadcastPresence 在线状态全节点广播（还原源系统对所有连接的 emit）
func (s *Server) BroadcastPresence(userID string, online bool) {
	status := "offline"
	if online {
		status = "online"
	}
	payload := BuildFrame(EventUserStatusChanged, &PresencePayload{UserID: userID, Status: status})
	s.fanout.Broadcast(s.registry.All(), payload)
}

// HandleRemotePresence 其他节点的上下线通告
func (s *Server) HandleRemotePresence(userID string, online bool) {
	s.BroadcastPresence(userID, online)
}

// HandleWS gin 路由入口：token 校验 -> 升级 -> 登记 -> 读循环
func (s *Server) HandleWS(c *gin.Context) {
	token := c.Query("token")
	userID, err := security.Verify(s.jwtOpts, token)
	if err != nil {
		logger.Warnf("[relay] reject ws: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("[relay] upgrade failed: %v", err)
		return
	}

	cl := NewClient(ids.GenerateString(), userID, ws, s.opts.SendQueueSize)
	wentOnline := s.registry.Register(cl)
	logger.Infof("[relay] connected: conn=%s user=%s online_users=%d", cl.ConnID, userID, s.registry.OnlineCount())

	safe.Go("ws-write", func() { s.writePump(cl) })

	if wentOnline {
		s.userOnline(userID)
	}
	s.replayOffline(cl)

	s.readLoop(cl)
	s.dropClient(cl)
}

func (s *Server) readLoop(cl *Client) {
	ws := cl.WS
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[relay] read error: conn=%s err=%v", cl.ConnID, err)
			}
			return
		}
		f, err := ParseFrame(raw)
		if err != nil {
			logger.Warnf("[relay] bad frame: conn=%s err=%v", cl.ConnID, err)
			cl.Push(BuildError("", 400, "malformed frame"))
			continue
		}
		safe.Run("dispatch", func() { s.dispatch(cl, f) })
	}
}

func (s *Server) dispatch(cl *Client, f *Frame) {
	err := s.disp.Dispatch(s, cl, f)
	if err == nil {
		return
	}
	// 迟到信令只记日志，不打扰客户端
	if errors.Is(err, errs.ErrStaleSignaling) {
		logger.Debugf("[relay] stale signaling: conn=%s type=%s", cl.ConnID, f.Type)
		return
	}
	if code := errs.Code(err); code != 0 {
		logger.Infof("[relay] %s rejected: conn=%s user=%s err=%v", f.Type, cl.ConnID, cl.UserID, err)
		cl.Push(BuildError(f.AckID, code, err.Error()))
		return
	}
	logger.Warnf("[relay] %s failed: conn=%s err=%v", f.Type, cl.ConnID, err)
	cl.Push(BuildError(f.AckID, 400, "bad request"))
}

// writePump 独占写协程：Send 关闭即退出
func (s *Server) writePump(cl *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if cl.WS != nil {
			_ = cl.WS.Close()
		}
	}()
	for {
		select {
		case payload, ok := <-cl.Send:
			_ = cl.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.WS.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.WS.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dropClient 断连清理：退房、隐式挂断、摘登记、下线广播
func (s *Server) dropClient(cl *Client) {
	s.rooms.LeaveAll(cl.ConnID)
	_, wentOffline := s.registry.Unregister(cl.ConnID)
	cl.Close()
	if wentOffline {
		s.calls.HangupAll(cl.UserID)
		s.userOffline(cl.UserID)
	}
	logger.Infof("[relay] disconnected: conn=%s user=%s online_users=%d", cl.ConnID, cl.UserID, s.registry.OnlineCount())
}

func (s *Server) userOnline(userID string) {
	s.BroadcastPresence(userID, true)
	if s.presence != nil {
		safe.Go("presence-online", func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := s.presence.Online(ctx, userID, s.opts.NodeID); err != nil {
				logger.Warnf("[relay] presence online failed: user=%s err=%v", userID, err)
			}
		})
	}
	if s.relay != nil {
		if err := s.relay.PublishPresence(userID, true); err != nil {
			logger.Warnf("[relay] publish presence failed: user=%s err=%v", userID, err)
		}
	}
}

func (s *Server) userOffline(userID string) {
	s.BroadcastPresence(userID, false)
	if s.presence != nil {
		safe.Go("presence-offline", func() {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := s.presence.Offline(ctx, userID); err != nil {
				logger.Warnf("[relay] presence offline failed: user=%s err=%v", userID, err)
			}
		})
	}
	if s.relay != nil {
		if err := s.relay.PublishPresence(userID, false); err != nil {
			logger.Warnf("[relay] publish presence failed: user=%s err=%v", userID, err)
		}
	}
}

// replayOffline 重连补投：离线队列 FIFO 批量出队
func (s *Server) replayOffline(cl *Client) {
	if s.offline == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	batch := s.opts.OfflineBatch
	if batch <= 0 {
		batch = 100
	}
	msgs, err := s.offline.Fetch(ctx, cl.UserID, batch)
	if err != nil {
		logger.Warnf("[relay] offline fetch failed: user=%s err=%v", cl.UserID, err)
		return
	}
	for _, m := range msgs {
		cl.Push(m)
	}
	if len(msgs) > 0 {
		logger.Infof("[relay] replayed %d offline messages: user=%s", len(msgs), cl.UserID)
	}
}

// Close 优雅退出：停广播池、踢掉全部连接
func (s *Server) Close() {
	s.fanout.Close()
	s.registry.Close()
}

func unmarshalData(f *Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("frame %s missing data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("frame %s bad data: %w", f.Type, err)
	}
	return nil
}
