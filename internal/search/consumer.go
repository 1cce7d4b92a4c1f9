package search

import (
	"context"
	"fmt"
	"log"

	"github.com/nao1215/sns/pkg/event"
)

// Subscribe は投稿変更イベントの購読を開始し、検索インデックスを更新する。
// ハンドラは冪等なので同じイベントの再配信があっても結果は変わらない。
func (s *Server) Subscribe(ctx context.Context) error {
	return s.bus.Subscribe(ctx, string(event.PatternPostAll), s.handleEvent)
}

// handleEvent は受信したイベントをルーティングキーで振り分ける。
// エラーを返したイベントはバス側でログに記録されて破棄される。
func (s *Server) handleEvent(ctx context.Context, routingKey string, body []byte) error {
	switch event.RoutingKey(routingKey) {
	case event.KeyPostCreated:
		return s.applyCreated(ctx, body)
	case event.KeyPostDeleted:
		return s.applyDeleted(ctx, body)
	default:
		// 未知のキーは将来のイベント追加に備えて無視する
		log.Printf("[Search] 未知のルーティングキーを無視します: key=%s", routingKey)
		return nil
	}
}

// applyCreated は投稿をインデックスに登録する。
func (s *Server) applyCreated(ctx context.Context, body []byte) error {
	payload, err := event.Decode[event.PostCreated](body)
	if err != nil {
		return fmt.Errorf("post.createdイベントの解析に失敗: %w", err)
	}

	err = s.store.Upsert(ctx, IndexedPost{
		PostID:    payload.PostID,
		UserID:    payload.UserID,
		Content:   payload.Content,
		CreatedAt: payload.CreatedAt,
	})
	if err != nil {
		return err
	}

	log.Printf("[Search] インデックスに登録しました: post_id=%s", payload.PostID)
	return nil
}

// applyDeleted は投稿をインデックスから削除する。
func (s *Server) applyDeleted(ctx context.Context, body []byte) error {
	payload, err := event.Decode[event.PostDeleted](body)
	if err != nil {
		return fmt.Errorf("post.deletedイベントの解析に失敗: %w", err)
	}

	if err := s.store.Delete(ctx, payload.PostID); err != nil {
		return err
	}

	log.Printf("[Search] インデックスから削除しました: post_id=%s", payload.PostID)
	return nil
}
