package natsx

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"socialgw/logger"
	"socialgw/tools/errs"
)

// 跨节点转发：每个网关节点订阅自己的投递主题
// 用户帧按在线镜像里的目标节点定向发布，上下线通告全节点广播
const (
	deliverSubjectPrefix = "im.deliver."
	presenceSubject      = "im.presence"
)

func deliverSubject(nodeID string) string { return deliverSubjectPrefix + nodeID }

// NodeLookup 查用户当前所在节点（Redis 在线镜像）
type NodeLookup func(userID string) (nodeID string, online bool)

type deliverEnvelope struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

type presenceEnvelope struct {
	Origin string `json:"origin"`
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Manager NATS 连接与主题管理，实现 relay.CrossRelay
type Manager struct {
	nc     *nats.Conn
	nodeID string
	lookup NodeLookup
}

func New(url, nodeID string, lookup NodeLookup) (*Manager, error) {
	nc, err := nats.Connect(url,
		nats.Name("socialgw-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[natsx] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("[natsx] reconnected: %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "connect nats")
	}
	return &Manager{nc: nc, nodeID: nodeID, lookup: lookup}, nil
}

// PublishUser 定向投递到用户所在节点；不在任何节点视为不可投
func (m *Manager) PublishUser(userID string, payload []byte) error {
	if m.lookup == nil {
		return fmt.Errorf("natsx: no node lookup configured")
	}
	node, online := m.lookup(userID)
	if !online {
		return fmt.Errorf("natsx: user %s not online on any node", userID)
	}
	if node == m.nodeID {
		// 在线镜像指回本节点说明本地投递已失败，不再兜圈
		return fmt.Errorf("natsx: user %s maps to local node", userID)
	}
	body, err := json.Marshal(&deliverEnvelope{UserID: userID, Payload: payload})
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(m.nc.Publish(deliverSubject(node), body))
}

// PublishPresence 全节点上下线通告
func (m *Manager) PublishPresence(userID string, online bool) error {
	body, err := json.Marshal(&presenceEnvelope{Origin: m.nodeID, UserID: userID, Online: online})
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(m.nc.Publish(presenceSubject, body))
}

// SubscribeDeliver 订阅发给本节点的用户帧
func (m *Manager) SubscribeDeliver(handle func(userID string, payload []byte)) error {
	_, err := m.nc.Subscribe(deliverSubject(m.nodeID), func(msg *nats.Msg) {
		var env deliverEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Warnf("[natsx] bad deliver envelope: %v", err)
			return
		}
		handle(env.UserID, env.Payload)
	})
	return errs.WrapMsg(err, "subscribe deliver")
}

// SubscribePresence 订阅其他节点的上下线通告；忽略自己发出的
func (m *Manager) SubscribePresence(handle func(userID string, online bool)) error {
	_, err := m.nc.Subscribe(presenceSubject, func(msg *nats.Msg) {
		var env presenceEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Warnf("[natsx] bad presence envelope: %v", err)
			return
		}
		if env.Origin == m.nodeID {
			return
		}
		handle(env.UserID, env.Online)
	})
	return errs.WrapMsg(err, "subscribe presence")
}

func (m *Manager) Close() {
	if m.nc != nil {
		_ = m.nc.Drain()
	}
}
