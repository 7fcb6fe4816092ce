package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cardDesigner/internal/cardlayout"
)

// ErrNotFound 表示从未保存过卡片设计。
var ErrNotFound = errors.New("card layout not found")

// Store 是卡片设计的持久化端（服务端为准）。
type Store interface {
	Get(ctx context.Context) (cardlayout.CardLayout, error)
	Put(ctx context.Context, layout cardlayout.CardLayout) error
}

// Cache 是固定 key 的本地兜底存储。
type Cache interface {
	Read(ctx context.Context) (cardlayout.CardLayout, error)
	Write(ctx context.Context, layout cardlayout.CardLayout) error
}

// Cached 是显式的写穿缓存：
// 写入时先写 Store，成功后写 Cache；读取只有在 Store 不可达时才回落到 Cache。
type Cached struct {
	Store  Store
	Cache  Cache
	Logger *slog.Logger
}

// NewCached 组合 Store 与 Cache。
func NewCached(primary Store, cache Cache, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{Store: primary, Cache: cache, Logger: logger}
}

// Get 读取服务端；ErrNotFound 原样返回，其余错误尝试缓存。
func (c *Cached) Get(ctx context.Context) (cardlayout.CardLayout, error) {
	layout, err := c.Store.Get(ctx)
	if err == nil || errors.Is(err, ErrNotFound) {
		return layout, err
	}
	if c.Cache == nil {
		return cardlayout.CardLayout{}, err
	}

	cached, cacheErr := c.Cache.Read(ctx)
	if cacheErr != nil {
		return cardlayout.CardLayout{}, fmt.Errorf("%w (cache: %v)", err, cacheErr)
	}
	c.Logger.Warn("card layout served from cache", slog.Any("error", err))
	return cached, nil
}

// Put 写服务端，成功后刷新缓存。缓存失败只记录日志。
func (c *Cached) Put(ctx context.Context, layout cardlayout.CardLayout) error {
	if err := c.Store.Put(ctx, layout); err != nil {
		return err
	}
	if c.Cache != nil {
		if err := c.Cache.Write(ctx, layout); err != nil {
			c.Logger.Warn("write card layout cache failed", slog.Any("error", err))
		}
	}
	return nil
}
