// Package presence tracks which users are subscribed to a channel.
package presence

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

func channelKey(channelID int64) string {
	return "channel:" + strconv.FormatInt(channelID, 10) + ":users"
}

// Redis keeps one set of user ids per channel, shared by every server
// instance.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Join(ctx context.Context, channelID, userID int64) error {
	return r.rdb.SAdd(ctx, channelKey(channelID), userID).Err()
}

func (r *Redis) Leave(ctx context.Context, channelID, userID int64) error {
	return r.rdb.SRem(ctx, channelKey(channelID), userID).Err()
}

func (r *Redis) Members(ctx context.Context, channelID int64) ([]int64, error) {
	members, err := r.rdb.SMembers(ctx, channelKey(channelID)).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Memory is the single instance fallback used when no Redis is configured.
// A user connected twice to one channel counts once until both leave.
type Memory struct {
	mu       sync.Mutex
	channels map[int64]map[int64]int
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[int64]map[int64]int)}
}

func (m *Memory) Join(_ context.Context, channelID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.channels[channelID]
	if users == nil {
		users = make(map[int64]int)
		m.channels[channelID] = users
	}
	users[userID]++
	return nil
}

func (m *Memory) Leave(_ context.Context, channelID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.channels[channelID]
	if users[userID] <= 1 {
		delete(users, userID)
	} else {
		users[userID]--
	}
	if len(users) == 0 {
		delete(m.channels, channelID)
	}
	return nil
}

func (m *Memory) Members(_ context.Context, channelID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.channels[channelID]))
	for id := range m.channels[channelID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
