package storage

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	redisx "socialgw/service/storage/redis"
)

// 离线补投队列：LPUSH 入队 + LTRIM 滚动截断，重连时从队尾按序出队
const (
	offlineKeyPrefix = "im:offline:"
	offlineMaxLen    = 500
)

func offlineKey(userID string) string { return offlineKeyPrefix + userID }

// OfflineQueue Redis 离线队列，实现 relay.OfflineQueue
type OfflineQueue struct{}

func NewOfflineQueue() *OfflineQueue { return &OfflineQueue{} }

func (OfflineQueue) Enqueue(ctx context.Context, userID string, payload []byte) error {
	key := offlineKey(userID)
	pipe := redisx.GetRedis().TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, offlineMaxLen-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Fetch 出队最多 n 条，FIFO；出队即删除
// LPUSH 写入使队尾是最旧消息，所以从右侧弹出
func (OfflineQueue) Fetch(ctx context.Context, userID string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	key := offlineKey(userID)
	vals, err := redisx.GetRedis().RPopCount(ctx, key, n).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (OfflineQueue) Len(ctx context.Context, userID string) (int64, error) {
	return redisx.GetRedis().LLen(ctx, offlineKey(userID)).Result()
}
