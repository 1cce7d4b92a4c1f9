package cache

import (
	"errors"
	"testing"
	"time"
)

// TestMemoryGetSet は基本的な保存と取得を検証する。
func TestMemoryGetSet(t *testing.T) {
	t.Parallel()

	t.Run("保存した値を取得できる", func(t *testing.T) {
		t.Parallel()
		m := NewMemory()

		if err := m.Set(t.Context(), "post:p1", []byte("hello"), time.Minute); err != nil {
			t.Fatalf("Setに失敗: %v", err)
		}

		value, err := m.Get(t.Context(), "post:p1")
		if err != nil {
			t.Fatalf("Getに失敗: %v", err)
		}
		if string(value) != "hello" {
			t.Errorf("value: got %s, want hello", value)
		}
	})

	t.Run("存在しないキーはErrMissを返す", func(t *testing.T) {
		t.Parallel()
		m := NewMemory()

		if _, err := m.Get(t.Context(), "post:nothing"); !errors.Is(err, ErrMiss) {
			t.Errorf("got %v, want ErrMiss", err)
		}
	})

	t.Run("同じキーへのSetは値を上書きする", func(t *testing.T) {
		t.Parallel()
		m := NewMemory()

		if err := m.Set(t.Context(), "post:p1", []byte("old"), time.Minute); err != nil {
			t.Fatalf("Setに失敗: %v", err)
		}
		if err := m.Set(t.Context(), "post:p1", []byte("new"), time.Minute); err != nil {
			t.Fatalf("Setに失敗: %v", err)
		}

		value, err := m.Get(t.Context(), "post:p1")
		if err != nil {
			t.Fatalf("Getに失敗: %v", err)
		}
		if string(value) != "new" {
			t.Errorf("value: got %s, want new", value)
		}
	})
}

// TestMemoryTTL はTTL経過後にエントリが期限切れになることをシミュレート時計で検証する。
func TestMemoryTTL(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	if err := m.Set(t.Context(), "post:p1", []byte("hello"), 5*time.Minute); err != nil {
		t.Fatalf("Setに失敗: %v", err)
	}

	// TTL内は取得できる
	current = current.Add(4 * time.Minute)
	if _, err := m.Get(t.Context(), "post:p1"); err != nil {
		t.Fatalf("TTL内のGetに失敗: %v", err)
	}

	// TTLを超えるとErrMiss
	current = current.Add(2 * time.Minute)
	if _, err := m.Get(t.Context(), "post:p1"); !errors.Is(err, ErrMiss) {
		t.Errorf("期限切れ後: got %v, want ErrMiss", err)
	}
}

// TestMemoryDelete は明示的なキー削除を検証する。
func TestMemoryDelete(t *testing.T) {
	t.Parallel()

	m := NewMemory()

	if err := m.Set(t.Context(), "post:p1", []byte("a"), time.Minute); err != nil {
		t.Fatalf("Setに失敗: %v", err)
	}
	if err := m.Set(t.Context(), "post:p2", []byte("b"), time.Minute); err != nil {
		t.Fatalf("Setに失敗: %v", err)
	}

	if err := m.Delete(t.Context(), "post:p1", "post:nothing"); err != nil {
		t.Fatalf("Deleteに失敗: %v", err)
	}

	if _, err := m.Get(t.Context(), "post:p1"); !errors.Is(err, ErrMiss) {
		t.Errorf("削除済みキー: got %v, want ErrMiss", err)
	}
	if _, err := m.Get(t.Context(), "post:p2"); err != nil {
		t.Errorf("削除していないキーが取得できない: %v", err)
	}
}

// TestMemoryDeleteByPrefix はプレフィックス一致によるまとめ削除を検証する。
func TestMemoryDeleteByPrefix(t *testing.T) {
	t.Parallel()

	m := NewMemory()

	for _, key := range []string{"posts:1:10", "posts:2:10", "posts:1:20", "post:p1"} {
		if err := m.Set(t.Context(), key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Setに失敗: %v", err)
		}
	}

	if err := m.DeleteByPrefix(t.Context(), "posts:"); err != nil {
		t.Fatalf("DeleteByPrefixに失敗: %v", err)
	}

	for _, key := range []string{"posts:1:10", "posts:2:10", "posts:1:20"} {
		if _, err := m.Get(t.Context(), key); !errors.Is(err, ErrMiss) {
			t.Errorf("%s: got %v, want ErrMiss", key, err)
		}
	}

	// プレフィックスが一致しない単一キーは残る
	if _, err := m.Get(t.Context(), "post:p1"); err != nil {
		t.Errorf("post:p1が削除されている: %v", err)
	}
}
