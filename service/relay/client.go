package relay

import (
	"sync"

	"github.com/gorilla/websocket"

	"socialgw/logger"
)

// Client 一条已注册的 WebSocket 连接
// 同一用户可以有多个 Client（多端登录）
type Client struct {
	ConnID string
	UserID string
	WS     *websocket.Conn

	// Send 由 writePump 独占消费；Push 非阻塞写入
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(connID, userID string, ws *websocket.Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, queueSize),
	}
}

// Push 非阻塞投递；队列满按慢客户端丢弃并记日志
func (c *Client) Push(payload []byte) bool {
	if payload == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		logger.Warnf("[client] drop frame: conn=%s user=%s queue full", c.ConnID, c.UserID)
		return false
	}
}

// Close 幂等关闭；close(Send) 通知 writePump 退出
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.WS != nil {
		_ = c.WS.Close()
	}
}
