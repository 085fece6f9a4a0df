package storage

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redisx "socialgw/service/storage/redis"
)

// 在线镜像：user -> 所在网关节点，带 TTL 防节点宕机残留
const (
	presenceKeyPrefix = "im:presence:"
	presenceTTL       = 5 * time.Minute
)

func presenceKey(userID string) string { return presenceKeyPrefix + userID }

// PresenceMirror Redis 在线状态镜像，实现 relay.PresenceStore
// 节点用它把本地 registry 的上下线同步到集群可见
type PresenceMirror struct{}

func NewPresenceMirror() *PresenceMirror { return &PresenceMirror{} }

func (PresenceMirror) Online(ctx context.Context, userID, nodeID string) error {
	return redisx.GetRedis().Set(ctx, presenceKey(userID), nodeID, presenceTTL).Err()
}

func (PresenceMirror) Offline(ctx context.Context, userID string) error {
	return redisx.GetRedis().Del(ctx, presenceKey(userID)).Err()
}

// Refresh 心跳续期；key 不存在说明已下线，不重建
func (PresenceMirror) Refresh(ctx context.Context, userID string) error {
	return redisx.GetRedis().Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

// Lookup 查某用户所在节点；不在线返回 ("", false, nil)
func (PresenceMirror) Lookup(ctx context.Context, userID string) (string, bool, error) {
	node, err := redisx.GetRedis().Get(ctx, presenceKey(userID)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return node, true, nil
}
