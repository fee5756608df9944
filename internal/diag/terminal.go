package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"halo/pkg/contract"
)

// Terminal: 面向用户的状态提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 进度单行 \r 覆盖；非 TTY: 仅在百分比变化时分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	poolSize  int
	llm       string
	pagesDone int
	runStart  time.Time

	curPage     string
	paragraphs  int
	lastPercent int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled, lastPercent: -1}
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart 记录运行上下文（会话池规模、生成后端）。
func (t *Terminal) RunStart(poolSize int, llm string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.poolSize = poolSize
	t.llm = llm
	t.pagesDone = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] sessions=%d | llm=%s", poolSize, safe(llm)))
}

// PageStart 标记当前页面与段落总数。
func (t *Terminal) PageStart(pageID string, paragraphs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curPage = shorten(pageID, 48)
	t.paragraphs = paragraphs
	t.lastPercent = -1
	if !t.isTTY {
		t.println(fmt.Sprintf("[page] %s | paragraphs=%d", t.curPage, paragraphs))
	}
}

// Status 打印一行状态文本（例如 "No content found"）。
func (t *Terminal) Status(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		_, _ = io.WriteString(t.w, "\r")
	}
	t.println(safe(msg))
}

// Progress 段落级进度。TTY 下 100ms 节流；非 TTY 下仅在百分比变化时输出。
func (t *Terminal) Progress(p contract.Progress) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	line := ProgressText(p)
	if !t.isTTY {
		if p.Percent == t.lastPercent {
			return
		}
		t.lastPercent = p.Percent
		t.println(line)
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond && p.Done < p.Total {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[page] %s | %s | sessions %d | %s", t.curPage, line, t.poolSize, formatSince(t.runStart)))
}

// PageFinish 完成当前页面（立即刷新并换行）。
func (t *Terminal) PageFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.pagesDone++
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		_, _ = io.WriteString(t.w, "\r")
	}
	t.println(fmt.Sprintf("[%s] %s | paragraphs %d | %s", status, t.curPage, t.paragraphs, formatDur(dur)))
}

// RunFinish 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.println(fmt.Sprintf("[%s] pages %d | %s", tag, t.pagesDone, formatDur(dur)))
}

// ProgressText 返回面板同款进度文案。
func ProgressText(p contract.Progress) string {
	return fmt.Sprintf("Progress: %d/%d paragraphs (%d%%)", p.Done, p.Total, p.Percent)
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten 按可见宽度截断（尾部省略号）。
func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || s == "" {
		return ""
	}
	if visLen(s) <= max {
		return s
	}
	rs := []rune(s)
	return string(rs[:max-1]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
