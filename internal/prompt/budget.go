package prompt

import (
	"fmt"

	"halo/pkg/contract"
)

// DefaultBytesPerToken 为 token 估算的默认字节比。
const DefaultBytesPerToken = 4

// Budget 是单次生成请求的 token 上限；MaxTokens<=0 表示不设上限。
type Budget struct {
	MaxTokens     int
	BytesPerToken int
}

func (b Budget) bytesPerToken() int {
	if b.BytesPerToken <= 0 {
		return DefaultBytesPerToken
	}
	return b.BytesPerToken
}

// Estimator 返回按 UTF-8 字节数向上取整的近似估算器。
func (b Budget) Estimator() contract.TokenEstimator {
	bpt := b.bytesPerToken()
	return func(s string) int { return (len(s) + bpt - 1) / bpt }
}

// Split 返回 (正文可用 token, 指令头 token)。未设上限时均为 0。
func (b Budget) Split(level Level) (body, header int) {
	if b.MaxTokens <= 0 {
		return 0, 0
	}
	header = b.Estimator()(Header(level) + ParagraphSeparator)
	return b.MaxTokens - header, header
}

// Check 校验指令头之外仍有余量，且 maxChars 字节的块（maxChars>0 时）能放进余量。
func (b Budget) Check(level Level, maxChars int) error {
	if b.MaxTokens <= 0 {
		return nil
	}
	body, header := b.Split(level)
	if body <= 0 {
		return fmt.Errorf("max_tokens_per_req(%d) does not cover the instruction header(%d): %w", b.MaxTokens, header, contract.ErrBudgetExceeded)
	}
	if maxChars > 0 {
		if need := (maxChars + b.bytesPerToken() - 1) / b.bytesPerToken(); need > body {
			return fmt.Errorf("chunk of %d bytes needs ~%d tokens, budget after header is %d: %w", maxChars, need, body, contract.ErrBudgetExceeded)
		}
	}
	return nil
}
