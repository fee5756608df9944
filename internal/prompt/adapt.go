// Package prompt 构造改写提示词，并提供近似 token 估算。
package prompt

import (
	"fmt"
	"strings"
)

// ParagraphSeparator 为块内段落之间、以及提示头与正文之间的分隔。
const ParagraphSeparator = "\n\n"

// Header 返回改写指令头（不含正文）。
func Header(level Level) string {
	return fmt.Sprintf("Adapt this text for a %s (%s) English learner. "+
		"Maintain all proper nouns, names, places, dates, quotes, and numbers exactly as they appear. "+
		"Adjust vocabulary complexity, sentence structure, and explanations to match the %s proficiency level. \n"+
		"\n"+
		"IMPORTANT: \n"+
		"- Preserve the structure - keep the same number of paragraphs\n"+
		"- Separate each paragraph with a blank line (double newline)\n"+
		"- Return ONLY the adapted text, no additional commentary\n"+
		"\n"+
		"Text to adapt:", level.Label(), level, level)
}

// Join 以空行拼接段落；也是生成失败时的回退文本。
func Join(texts []string) string { return strings.Join(texts, ParagraphSeparator) }

// Adapt 返回完整提示词：指令头 + 空行 + 以空行拼接的段落。
func Adapt(level Level, texts []string) string {
	return Header(level) + ParagraphSeparator + Join(texts)
}

// bodyMarker 为指令头的最后一行，正文紧随其后。
const bodyMarker = "Text to adapt:" + ParagraphSeparator

// Body 从完整提示词中取回正文；非改写提示词返回 false。
func Body(p string) (string, bool) {
	_, b, ok := strings.Cut(p, bodyMarker)
	return b, ok
}
