package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内マップをバックエンドとするStore実装。
// テストおよびRedisに接続できないローカル環境のフォールバックとして使用する。
// 単一プロセス内でのみカウンターを共有する。
type MemoryStore struct {
	// mu はcountersへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// counters はキーからカウンターへのマップ。
	counters map[string]*memoryCounter
	// now は現在時刻を返す関数。テストで時計を差し替えるために使用する。
	now func() time.Time
}

// memoryCounter は1つの固定ウィンドウカウンター。
type memoryCounter struct {
	// count はウィンドウ内のリクエスト数。
	count int64
	// expiresAt はウィンドウの終了時刻。
	expiresAt time.Time
}

// NewMemoryStore は新しいインメモリカウンターストアを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

// Incr はカウンターをインクリメントする。ウィンドウが経過したカウンターは
// リセットし、新しいウィンドウの最初のリクエストとして数える。
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || s.now().After(counter.expiresAt) {
		counter = &memoryCounter{expiresAt: s.now().Add(window)}
		s.counters[key] = counter
	}

	counter.count++
	return counter.count, nil
}
