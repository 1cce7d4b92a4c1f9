package eventbus

import "strings"

// topicMatch はルーティングキーがAMQPトピック形式のパターンにマッチするか判定する。
// パターンはドット区切りで、"*"は1単語に、"#"は0個以上の単語にマッチする。
// 例: "post.*" は "post.created" にマッチするが "post.media.created" にはマッチしない。
func topicMatch(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

// matchWords はパターン単語列とキー単語列を再帰的に照合する。
func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		// "#"は残りのキー全体のどの位置からでもマッチを継続できる
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	default:
		if len(key) == 0 || pattern[0] != key[0] {
			return false
		}
		return matchWords(pattern[1:], key[1:])
	}
}
