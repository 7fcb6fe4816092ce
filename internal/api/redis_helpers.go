package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardDesigner/internal/cardlayout"
)

// CardDesignUpdatedChannel 是卡片设计保存后广播的频道。
const CardDesignUpdatedChannel = "card_design:updated"

// BadgePrintChannel 返回某位访客打印结果的通知频道。
func BadgePrintChannel(visitorID string) string {
	return "badge_print:" + visitorID
}

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// CardDesignUpdatedMessage 是 card_design:updated 频道的消息体。
type CardDesignUpdatedMessage struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisNotifier 在卡片设计保存后发布通知，供其他编辑器会话刷新。
type RedisNotifier struct {
	client redisPublisher
	source string
}

// NewRedisNotifier 构造通知器；source 用于让会话忽略自己发出的消息。
func NewRedisNotifier(client redisPublisher, source string) *RedisNotifier {
	return &RedisNotifier{client: client, source: source}
}

func (n *RedisNotifier) LayoutSaved(ctx context.Context, _ cardlayout.CardLayout) error {
	data, err := json.Marshal(CardDesignUpdatedMessage{
		Type:      "updated",
		Source:    n.source,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal card design notification: %w", err)
	}
	if err := n.client.Publish(ctx, CardDesignUpdatedChannel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", CardDesignUpdatedChannel, err)
	}
	return nil
}
