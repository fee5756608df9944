package content

import (
	"regexp"
	"strings"
)

var (
	blankLines = regexp.MustCompile(`\n\n+`)
	newlines   = regexp.MustCompile(`\n+`)
)

// Reconcile 将一块的生成结果拆回段落：
//  1. 按连续空行（2 个及以上换行）拆分，裁剪并丢弃空段；
//  2. 若仅得到 1 段而期望多段，则改按单个换行再拆一次。
//
// 返回的段数可能少于或多于 expected；多出的部分由调用方忽略。
func Reconcile(response string, expected int) []string {
	response = strings.ReplaceAll(response, "\r\n", "\n")
	parts := splitTrim(blankLines, response)
	if len(parts) == 1 && expected > 1 {
		parts = splitTrim(newlines, response)
	}
	return parts
}

func splitTrim(re *regexp.Regexp, s string) []string {
	var out []string
	for _, p := range re.Split(s, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
