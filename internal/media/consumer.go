package media

import (
	"context"
	"fmt"
	"log"

	"github.com/nao1215/sns/pkg/event"
)

// Subscribe は投稿削除イベントの購読を開始し、関連メディアを掃除する。
// 掃除は冪等なので同じイベントの再配信があってもエラーにならない。
func (s *Server) Subscribe(ctx context.Context) error {
	return s.bus.Subscribe(ctx, string(event.KeyPostDeleted), s.handleEvent)
}

// handleEvent はpost.deletedイベントを受信してメディアの掃除を行う。
// 投稿に関連付けられたメディアIDごとに、ブロブ本体とメタデータの両方を削除する。
// 途中で失敗した場合はエラーを返し、イベントはバス側で破棄される。
// 削除済みのメディアは成功として扱うため、部分的に掃除が進んだ後の
// 再配信でも残りだけが削除される。
func (s *Server) handleEvent(ctx context.Context, _ string, body []byte) error {
	payload, err := event.Decode[event.PostDeleted](body)
	if err != nil {
		return fmt.Errorf("post.deletedイベントの解析に失敗: %w", err)
	}

	for _, mediaID := range payload.MediaIDs {
		if err := s.cleanup(ctx, mediaID); err != nil {
			return fmt.Errorf("メディア掃除に失敗: id=%s: %w", mediaID, err)
		}
	}
	return nil
}

// cleanup は1件のメディアのブロブとメタデータを削除する。
func (s *Server) cleanup(ctx context.Context, mediaID string) error {
	if err := s.blobs.Remove(mediaID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, mediaID); err != nil {
		return err
	}

	log.Printf("[Media] メディアを掃除しました: id=%s", mediaID)
	return nil
}
