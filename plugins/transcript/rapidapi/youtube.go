package rapidapi

import (
	"regexp"
	"strings"
)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`),
	regexp.MustCompile(`youtube\.com/shorts/([^&\n?#]+)`),
}

// IsYouTubeURL 报告 url 是否指向 YouTube 视频。
func IsYouTubeURL(url string) bool {
	for _, p := range []string{"youtube.com/watch", "youtu.be/", "youtube.com/shorts", "youtube.com/embed"} {
		if strings.Contains(url, p) {
			return true
		}
	}
	return false
}

// VideoID 从 YouTube URL 中提取视频 ID；无法识别时返回 false。
func VideoID(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, p := range videoIDPatterns {
		if m := p.FindStringSubmatch(url); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	if _, rest, ok := strings.Cut(url, "v="); ok {
		id, _, _ := strings.Cut(rest, "&")
		return id, id != ""
	}
	return "", false
}

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Sentences 将字幕文本切为句子（保留结尾标点）；没有完整句子时返回整段文本。
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
