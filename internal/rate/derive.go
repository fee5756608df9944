package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"halo/pkg/contract"
)

// DeriveKey 从会话提供方名称与其原样 Options JSON 中提取 API Key，
// 返回 provider+sha256(key) 形式的限流分组键：同一把 key 的所有会话共享额度。
// 解析 "api_key" 与 "api_key_env"；mock/flaky 这类本地提供方没有 key 时按提供方名分组。
func DeriveKey(provider string, raw json.RawMessage) (LimitKey, error) {
	var opts gjson.Result
	if len(raw) > 0 {
		if !gjson.ValidBytes(raw) {
			return "", fmt.Errorf("rate: provider options: %w: malformed JSON", contract.ErrInvalidInput)
		}
		if opts = gjson.ParseBytes(raw); !opts.IsObject() {
			return "", fmt.Errorf("rate: provider options: %w: not an object", contract.ErrInvalidInput)
		}
	}
	pick := func(key string) string {
		if v := opts.Get(key); v.Type == gjson.String {
			return strings.TrimSpace(v.Str)
		}
		return ""
	}
	key := pick("api_key")
	if key == "" {
		if env := pick("api_key_env"); env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		switch provider {
		case "mock", "flaky":
			return LimitKey(provider + ":local"), nil
		default:
			return "", fmt.Errorf("rate: missing api key for provider %s: %w", provider, contract.ErrInvalidInput)
		}
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", provider, sum[:8])), nil
}

// AskFor 为一次提示词构造放行申请（1 次请求，token 由估算器给出）。
func AskFor(key LimitKey, text string, est contract.TokenEstimator) Ask {
	tokens := 0
	if est != nil {
		tokens = est(text)
	}
	return Ask{Key: key, Requests: 1, Tokens: tokens}
}
