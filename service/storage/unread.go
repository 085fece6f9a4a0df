package storage

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	redisx "socialgw/service/storage/redis"
)

// 未读数：每会话一个计数 + 每用户一个总数，清零走 Lua 保证两者原子一致
const (
	unreadRoomPrefix  = "im:unread:"       // im:unread:<user>:<room>
	unreadTotalPrefix = "im:unread_total:" // im:unread_total:<user>
)

func unreadRoomKey(userID, roomID string) string { return unreadRoomPrefix + userID + ":" + roomID }
func unreadTotalKey(userID string) string        { return unreadTotalPrefix + userID }

// KEYS[1]=room key, KEYS[2]=total key
// 取出会话未读并删除，总数扣减后截断到 >=0
var resetUnreadScript = goredis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('DEL', KEYS[1])
if n > 0 then
  local total = redis.call('DECRBY', KEYS[2], n)
  if total < 0 then
    redis.call('SET', KEYS[2], 0)
    return 0
  end
  return total
end
return tonumber(redis.call('GET', KEYS[2]) or '0')
`)

// UnreadCounters Redis 未读计数，实现 relay.Counters
type UnreadCounters struct{}

func NewUnreadCounters() *UnreadCounters { return &UnreadCounters{} }

func (UnreadCounters) IncrUnread(ctx context.Context, userID, roomID string) error {
	pipe := redisx.GetRedis().TxPipeline()
	pipe.Incr(ctx, unreadRoomKey(userID, roomID))
	pipe.Incr(ctx, unreadTotalKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}

func (UnreadCounters) ResetUnread(ctx context.Context, userID, roomID string) error {
	return resetUnreadScript.Run(ctx, redisx.GetRedis(),
		[]string{unreadRoomKey(userID, roomID), unreadTotalKey(userID)}).Err()
}

func (UnreadCounters) TotalUnread(ctx context.Context, userID string) (int64, error) {
	n, err := redisx.GetRedis().Get(ctx, unreadTotalKey(userID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

// RoomUnread 单会话未读数（HTTP 查询接口用）
func (UnreadCounters) RoomUnread(ctx context.Context, userID, roomID string) (int64, error) {
	n, err := redisx.GetRedis().Get(ctx, unreadRoomKey(userID, roomID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}
