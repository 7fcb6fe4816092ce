package store

import (
	"context"
	"sync"

	"cardDesigner/internal/cardlayout"
)

// MemoryCache 是进程内缓存，未配置 Redis 时使用。
type MemoryCache struct {
	mu     sync.RWMutex
	layout *cardlayout.CardLayout
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (m *MemoryCache) Read(_ context.Context) (cardlayout.CardLayout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.layout == nil {
		return cardlayout.CardLayout{}, ErrNotFound
	}
	return *m.layout, nil
}

func (m *MemoryCache) Write(_ context.Context, layout cardlayout.CardLayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layout = &layout
	return nil
}
