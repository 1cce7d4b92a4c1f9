// Package ratelimit は固定ウィンドウ方式のレートリミッターを提供する。
//
// クライアントキー（IPアドレスまたはユーザーID）ごとのリクエスト数を
// ウィンドウ単位でカウントし、ポリシーの上限を超えたリクエストを拒否する。
// カウンターは共有ストア（Redis）上でアトミックにインクリメントされるため、
// 複数レプリカ構成でも正しく動作する。
//
// リミッターはゲートであってキューではない。拒否されたリクエストの
// リトライは行わない。
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Policy はレート制限のポリシーを表す。
type Policy struct {
	// Name はポリシー名。カウンターキーのプレフィックスとして使用する。
	Name string
	// Limit はウィンドウあたりの最大リクエスト数。
	Limit int64
	// Window はカウンターがリセットされるウィンドウ長。
	Window time.Duration
	// FailOpen はバッキングストア障害時の動作。trueなら許可（フェイルオープン）、
	// falseなら拒否（フェイルクローズ）する。全トラフィックに適用する一般
	// ポリシーはフェイルオープン、登録等のセンシティブなポリシーは
	// フェイルクローズを推奨する。
	FailOpen bool
}

// GeneralPolicy は全トラフィックに適用する一般ポリシー。
// 共有ストアの障害で全トラフィックが止まらないようフェイルオープンとする。
func GeneralPolicy() Policy {
	return Policy{
		Name:     "general",
		Limit:    100,
		Window:   15 * time.Minute,
		FailOpen: true,
	}
}

// SensitivePolicy はユーザー登録などのセンシティブな書き込みエンドポイントに
// 適用する低レートポリシー。保護を優先しフェイルクローズとする。
func SensitivePolicy() Policy {
	return Policy{
		Name:     "sensitive",
		Limit:    10,
		Window:   time.Minute,
		FailOpen: false,
	}
}

// Store はウィンドウ付きカウンターを保持する共有ストアのインターフェース。
type Store interface {
	// Incr はキーのカウンターをアトミックにインクリメントし、
	// インクリメント後の値を返す。ウィンドウ内の最初のインクリメントで
	// 有効期限を設定し、期限が切れたカウンターはリセットされる。
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter は1つのポリシーに基づいてリクエストの許可・拒否を判定する。
type Limiter struct {
	// store はカウンターを保持する共有ストア。
	store Store
	// policy は適用するポリシー。
	policy Policy
}

// New は指定されたストアとポリシーでリミッターを生成する。
func New(store Store, policy Policy) *Limiter {
	return &Limiter{store: store, policy: policy}
}

// Policy はこのリミッターに設定されたポリシーを返す。
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Allow はクライアントキーからのリクエストを許可するか判定する。
// ストア障害時はポリシーのFailOpen設定に従い、判定結果をログに記録する。
func (l *Limiter) Allow(ctx context.Context, clientKey string) bool {
	key := fmt.Sprintf("ratelimit:%s:%s", l.policy.Name, clientKey)

	count, err := l.store.Incr(ctx, key, l.policy.Window)
	if err != nil {
		if l.policy.FailOpen {
			log.Printf("[RateLimit] ストア障害のためフェイルオープンで許可します: policy=%s, error=%v", l.policy.Name, err)
			return true
		}
		log.Printf("[RateLimit] ストア障害のためフェイルクローズで拒否します: policy=%s, error=%v", l.policy.Name, err)
		return false
	}

	return count <= l.policy.Limit
}
