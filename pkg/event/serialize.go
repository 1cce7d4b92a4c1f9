package event

import (
	"encoding/json"
	"fmt"
)

// Encode はイベントペイロードをJSON形式にシリアライズする。
// Event Busへのpublish前に呼び出す。
func Encode(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}
	return body, nil
}

// Decode はイベントのJSONボディを指定された型にデシリアライズする。
// コンシューマーが受信したメッセージを処理する際に呼び出す。
func Decode[T any](body []byte) (*T, error) {
	var payload T
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &payload, nil
}
