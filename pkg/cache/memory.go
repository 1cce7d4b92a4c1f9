package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory はプロセス内マップをバックエンドとするCache実装。
// テストおよびRedisに接続できないローカル環境のフォールバックとして使用する。
type Memory struct {
	// mu はentriesへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// entries はキーからエントリへのマップ。
	entries map[string]memoryEntry
	// now は現在時刻を返す関数。テストで時計を差し替えるために使用する。
	now func() time.Time
}

// memoryEntry はMemoryキャッシュの1エントリ。
type memoryEntry struct {
	// value は保存された値。
	value []byte
	// expiresAt はエントリの有効期限。
	expiresAt time.Time
}

// NewMemory は新しいインメモリキャッシュを生成する。
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get はキーに対応する値を返す。期限切れのエントリはErrMissを返して削除する。
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, ErrMiss
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set はキーに値をTTL付きで保存する。
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{
		value:     stored,
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

// Delete は指定されたキーのエントリを削除する。
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// DeleteByPrefix はプレフィックスに一致するすべてのエントリを削除する。
func (m *Memory) DeleteByPrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
	return nil
}
