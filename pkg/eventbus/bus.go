// Package eventbus はトピックベースのPublish/Subscribeイベントバスを提供する。
//
// プロデューサーはルーティングキー（例: "post.created"）を付けてイベントを
// publishし、サブスクライバーはパターン（例: "post.*"）で独立した配信キューを
// 宣言する。パターンにマッチするすべてのサブスクライバーがイベントのコピーを
// 受け取るファンアウト配信であり、コンペティングコンシューマーではない。
//
// 配信保証はat-least-once。ハンドラが成功を返した後にのみメッセージをackする。
// ハンドラがエラーを返した場合はログに記録してメッセージを破棄する（再配信や
// デッドレターは行わない）。購読していない期間にpublishされたイベントは
// 失われる（リプレイなし）。
//
// 本番環境ではRabbitMQを使用するAMQP実装を、テストではInMemory実装を使用する。
// 両者は同じBusインターフェースを実装する。
package eventbus

import (
	"context"
	"errors"
)

// Handler はサブスクライバーがイベントを受信したときに呼び出される関数。
// エラーを返した場合、メッセージはログに記録された上で破棄される。
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Bus はトピックベースのイベントバスのインターフェース。
type Bus interface {
	// Publish はルーティングキーを付けてイベントボディをpublishする。
	// バスに接続できない場合はエラーを返す（イベントを黙って捨てない）。
	Publish(ctx context.Context, routingKey string, body []byte) error
	// Subscribe はルーティングキーパターンに対する独立した配信キューを宣言し、
	// マッチしたイベントごとにhandlerを呼び出す消費ループを開始する。
	// ctxのキャンセルで購読は解除される。
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	// Close はバスへの接続を閉じ、すべての購読を停止する。
	Close() error
}

// ErrClosed はクローズ済みのバスに対する操作で返されるエラー。
var ErrClosed = errors.New("eventbus: バスはクローズされています")

// ErrNotConnected はバスへの接続が確立できない状態でpublishした場合のエラー。
// publishの失敗は呼び出し元が検知できなければならない。
var ErrNotConnected = errors.New("eventbus: バスに接続されていません")
