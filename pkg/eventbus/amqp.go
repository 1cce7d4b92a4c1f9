package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// defaultExchange はすべてのライフサイクルイベントが経由するトピックエクスチェンジ名。
const defaultExchange = "sns_events"

// reconnectInterval は接続断からの再接続を試みる間隔。
const reconnectInterval = 3 * time.Second

// AMQP はRabbitMQのトピックエクスチェンジを使用するBus実装。
//
// エクスチェンジは非永続（non-durable）で宣言するため、ブローカーの再起動で
// 配信中のイベントは失われる。これは設計上許容された制限である。
// 接続断を検知すると再接続し、登録済みのすべての購読を再バインドする。
type AMQP struct {
	// url はRabbitMQの接続URL。
	url string
	// exchange はトピックエクスチェンジ名。
	exchange string
	// mu は接続状態と購読一覧への並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// conn はRabbitMQへのコネクション。
	conn *amqp.Connection
	// ch はpublish用のチャネル。
	ch *amqp.Channel
	// subs は再接続時に再バインドするための購読の記録。
	subs []*amqpSubscription
	// closed はClose済みかどうか。
	closed bool
}

// amqpSubscription は再バインドに必要な購読情報。
type amqpSubscription struct {
	// ctx は購読のライフサイクルを制御するコンテキスト。
	ctx context.Context
	// pattern はバインドするルーティングキーパターン。
	pattern string
	// handler はイベント受信時に呼び出される関数。
	handler Handler
}

// DialAMQP はRabbitMQに接続し、トピックエクスチェンジを宣言してAMQPバスを生成する。
func DialAMQP(url string) (*AMQP, error) {
	b := &AMQP{url: url, exchange: defaultExchange}
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// connect はコネクションとチャネルを確立し、エクスチェンジを宣言する。
func (b *AMQP) connect() error {
	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("チャネルのオープンに失敗: %w", err)
	}

	// durable=false: イベントはブローカー再起動で失われてよい
	if err := ch.ExchangeDeclare(b.exchange, "topic", false, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("エクスチェンジの宣言に失敗: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	go b.watchConnection(conn)

	log.Printf("[EventBus] RabbitMQに接続しました: exchange=%s", b.exchange)
	return nil
}

// watchConnection は接続断を監視し、再接続と購読の再バインドを行う。
func (b *AMQP) watchConnection(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if closeErr == nil {
		// Closeによる正常切断
		return
	}
	log.Printf("[EventBus] RabbitMQ接続が切断されました: %v", closeErr)

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		time.Sleep(reconnectInterval)

		if err := b.connect(); err != nil {
			log.Printf("[EventBus] 再接続に失敗しました。リトライします: %v", err)
			continue
		}

		// 登録済みの購読をすべて再バインドする
		b.mu.Lock()
		subs := make([]*amqpSubscription, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, sub := range subs {
			if sub.ctx.Err() != nil {
				continue
			}
			if err := b.startConsume(sub); err != nil {
				log.Printf("[EventBus] 購読の再バインドに失敗しました: pattern=%s, error=%v", sub.pattern, err)
			}
		}
		log.Printf("[EventBus] RabbitMQに再接続し、%d件の購読を再バインドしました", len(subs))
		return
	}
}

// Publish はエクスチェンジにイベントをpublishする。
// チャネルが失われている場合は一度だけ再接続を試み、それでも失敗した場合は
// エラーを返す。イベントを黙って捨てることはしない。
func (b *AMQP) Publish(ctx context.Context, routingKey string, body []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	ch := b.ch
	b.mu.Unlock()

	if ch == nil || ch.IsClosed() {
		if err := b.connect(); err != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		b.mu.Lock()
		ch = b.ch
		b.mu.Unlock()
	}

	err := ch.PublishWithContext(ctx, b.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("イベントのpublishに失敗: key=%s: %w", routingKey, err)
	}
	return nil
}

// Subscribe はパターンにバインドした排他キューを宣言し、消費ループを開始する。
// 購読は記録され、再接続時に自動的に再バインドされる。
func (b *AMQP) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	sub := &amqpSubscription{ctx: ctx, pattern: pattern, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return b.startConsume(sub)
}

// startConsume は1つの購読に対するキュー宣言・バインド・消費ゴルーチンの起動を行う。
func (b *AMQP) startConsume(sub *amqpSubscription) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}

	// 購読ごとに専用チャネルを持つ（publish用チャネルと分離する）
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("購読用チャネルのオープンに失敗: %w", err)
	}

	// 排他・自動削除キュー: サブスクライバーごとに独立した配信キューとなり、
	// 切断中のイベントは失われる（ファンアウト、リプレイなし）
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("キューの宣言に失敗: %w", err)
	}

	if err := ch.QueueBind(q.Name, sub.pattern, b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("キューのバインドに失敗: pattern=%s: %w", sub.pattern, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("消費の開始に失敗: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-sub.ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					// 接続断。再バインドはwatchConnectionが行う
					return
				}
				if err := sub.handler(sub.ctx, d.RoutingKey, d.Body); err != nil {
					// 再配信キューは持たないため、失敗したメッセージは記録して破棄する
					log.Printf("[EventBus] ハンドラがエラーを返したためメッセージを破棄します: key=%s, error=%v", d.RoutingKey, err)
				}
				// ハンドラ完了後にのみackする
				if err := d.Ack(false); err != nil {
					log.Printf("[EventBus] ackに失敗しました: key=%s, error=%v", d.RoutingKey, err)
				}
			}
		}
	}()

	log.Printf("[EventBus] イベントを購読しました: pattern=%s, queue=%s", sub.pattern, q.Name)
	return nil
}

// Close は接続を閉じ、すべての購読を停止する。
func (b *AMQP) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
