package eventbus

import (
	"context"
	"log"
	"sync"
)

// queueCapacity は1購読あたりの配信キューの容量。
// キューが満杯の間、Publishは空きができるまでブロックする。
const queueCapacity = 256

// InMemory は単一プロセス内で完結するBus実装。
// テストおよびメッセージブローカーを起動しないローカル開発で使用する。
//
// 各購読は専用の配信キュー（チャネル）と消費ゴルーチンを持つため、
// 同一サブスクライバーへの配信はpublish順が保たれ、
// サブスクライバー間の配信順序は保証されない。AMQP実装と同じ性質である。
type InMemory struct {
	// mu はsubsとclosedへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// subs は現在有効な購読の一覧。
	subs map[int]*memorySubscription
	// nextID は購読に割り当てる次の識別子。
	nextID int
	// closed はClose済みかどうか。
	closed bool
	// wg はすべての消費ゴルーチンの終了を待ち合わせる。
	wg sync.WaitGroup
}

// memorySubscription はInMemoryバスの1つの購読を表す。
type memorySubscription struct {
	// pattern はこの購読がマッチするルーティングキーパターン。
	pattern string
	// queue はこの購読専用の配信キュー。
	queue chan memoryDelivery
	// done は購読の解除を通知するチャネル。
	done chan struct{}
}

// memoryDelivery は配信キューに積まれる1件のイベント。
type memoryDelivery struct {
	routingKey string
	body       []byte
}

// NewInMemory は新しいインメモリイベントバスを生成する。
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[int]*memorySubscription)}
}

// Publish はパターンがマッチするすべての購読の配信キューにイベントを積む。
// 購読が存在しない場合、イベントは破棄される（リプレイなし）。
func (b *InMemory) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	matched := make([]*memorySubscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if topicMatch(sub.pattern, routingKey) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	// 各購読は独立したコピーを受け取る（ファンアウト配信）
	for _, sub := range matched {
		data := make([]byte, len(body))
		copy(data, body)
		select {
		case sub.queue <- memoryDelivery{routingKey: routingKey, body: data}:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe はパターンに対する配信キューを宣言し、消費ゴルーチンを開始する。
// ハンドラがエラーを返した場合、メッセージはログに記録して破棄される。
func (b *InMemory) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	sub := &memorySubscription{
		pattern: pattern,
		queue:   make(chan memoryDelivery, queueCapacity),
		done:    make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				b.remove(id)
				return
			case <-sub.done:
				return
			case d := <-sub.queue:
				if err := handler(ctx, d.routingKey, d.body); err != nil {
					// 再配信キューは持たないため、失敗したメッセージは記録して破棄する
					log.Printf("[EventBus] ハンドラがエラーを返したためメッセージを破棄します: key=%s, error=%v", d.routingKey, err)
				}
			}
		}
	}()

	return nil
}

// Close はすべての購読を解除し、消費ゴルーチンの終了を待つ。
func (b *InMemory) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// remove は購読を一覧から取り除く。
func (b *InMemory) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}
