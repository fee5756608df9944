package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/pkg/contract"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30, 0)
	require.NoError(t, w.WriteLine([]byte("first line that is very long")))
	require.NoError(t, w.WriteLine([]byte("second")))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2, "应存在一个轮转文件")
	cur, err := os.ReadFile(filepath.Join(dir, "halo-current.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(cur))
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

// 历史文件只保留最近 keep 个
func TestRotatingFileKeep(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10, 2)
	for i := 0; i < 6; i++ {
		require.NoError(t, w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")))
	}
	require.NoError(t, w.Close())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	var rotated int
	hasCurrent := false
	for _, e := range ents {
		switch {
		case e.Name() == "halo-current.log":
			hasCurrent = true
		case strings.HasPrefix(e.Name(), "halo-") && strings.HasSuffix(e.Name(), ".log"):
			rotated++
		}
	}
	assert.True(t, hasCurrent)
	assert.Equal(t, 2, rotated)
}

func TestRotatingFileDefaults(t *testing.T) {
	w := NewRotatingFile(t.TempDir(), 0, 0)
	assert.Equal(t, int64(10*1024*1024), w.maxBytes)
	require.NoError(t, w.Sync())
	require.NoError(t, w.WriteLine([]byte("a")))
	require.NoError(t, w.roll())
	require.NoError(t, w.Close())
}

// UT-DIAG-02: 指标计数
func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("dispatch", "chunk", "success"))
	IncOp("dispatch", "chunk", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("dispatch", "chunk", "success")))

	IncError("dispatch", string(CodeSession))
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorTotal.WithLabelValues("dispatch", "session")), 1.0)
	ObserveDuration("dispatch", "chunk", 12)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "halo_op_total")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{contract.ErrResponseInvalid, CodeProtocol},
		{context.Canceled, CodeCancel},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{contract.ErrBudgetExceeded, CodeBudget},
		{contract.ErrRateLimited, CodeBudget},
		{fmt.Errorf("send: %w", contract.ErrTransport), CodeTransport},
		{contract.ErrSessionCreation, CodeSession},
		{contract.ErrGeneration, CodeSession},
		{contract.ErrIneligiblePage, CodePage},
		{contract.ErrNoActiveTab, CodePage},
		{contract.ErrNoContent, CodeContent},
		{contract.ErrNoActiveExtraction, CodeContent},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{errors.New("other"), CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
}

// UT-DIAG-03: 事件字段与级别过滤
func TestLoggerEvents(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, "corr", "info")
	timer := l.StartWith("dispatch", "chunk", "page-1", "3")
	timer.Finish("ok", 4)
	l.DebugStart("dispatch", "filtered", "", "", nil)
	l.Warn("rewrite", "segment missing", map[string]string{"chunk": "2"})
	l.ErrorWithKV("session", "network", "boom", timer.Since(), "page-1", "", map[string]string{"http_status": "500"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4, "debug 事件应被过滤: %s", buf.String())

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "corr", ev["corr_id"])
	assert.Equal(t, "finish", ev["stage"])
	assert.Equal(t, "page-1", ev["file_id"])
	assert.Equal(t, "3", ev["batch_id"])
	assert.EqualValues(t, 4, ev["count"])

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &ev))
	assert.Equal(t, "warn", ev["level"])
	assert.Equal(t, map[string]any{"chunk": "2"}, ev["kv"])

	ev = map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &ev))
	assert.Equal(t, "error", ev["level"])
	assert.Equal(t, "network", ev["code"])
	_, err := time.Parse(time.RFC3339, ev["ts"].(string))
	assert.NoError(t, err)
}

func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	l.Start("c", "m").Finish("x", 1)
	l.Warn("c", "m", nil)
	l.Error("c", "code", "m", nil)
	assert.NoError(t, l.Sync())
	assert.Equal(t, "", l.CorrID())
	var tnil *Timer
	tnil.Finish("x", 0)
	assert.NotNil(t, tnil.Since())
}

func TestLoggerWithSink(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	l := NewLogger("corr", "info")
	l.Start("comp", "msg").Finish("ok", 1)
	require.NoError(t, l.Sync())
	_, err = os.Stat("logs/halo-current.log")
	assert.NoError(t, err)
}

func TestLevels(t *testing.T) {
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())
	assert.Equal(t, Debug, parseLevel("DEBUG"))
	assert.Equal(t, Error, parseLevel("error"))
	assert.Equal(t, Info, parseLevel("bogus"))
}

// UT-DIAG-04: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)
	term.RunStart(4, "gemini")
	term.PageStart("https://example.com/article", 12)
	term.Progress(contract.NewProgress(4, 12))
	term.Progress(contract.NewProgress(4, 12)) // 百分比未变：不重复输出
	term.Progress(contract.NewProgress(12, 12))
	term.PageFinish(true, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] sessions=4 | llm=gemini")
	assert.Contains(t, out, "[page] https://example.com/article | paragraphs=12")
	assert.Equal(t, 1, strings.Count(out, "Progress: 4/12 paragraphs (33%)"))
	assert.Contains(t, out, "Progress: 12/12 paragraphs (100%)")
	assert.Contains(t, out, "[done] https://example.com/article | paragraphs 12 | 5.1s")
	assert.Contains(t, out, "[ok] pages 1 | 41.3s")
}

// UT-DIAG-05: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottle(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "mock")
	term.PageStart("page", 3)

	term.Progress(contract.NewProgress(1, 3))
	first := sb.String()
	assert.Contains(t, first, "\r[page]")
	term.Progress(contract.NewProgress(2, 3))
	assert.Equal(t, first, sb.String(), "100ms 内应节流")
	term.Progress(contract.NewProgress(3, 3))
	assert.Greater(t, len(sb.String()), len(first), "完成进度不节流")

	term.PageFinish(false, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.GreaterOrEqual(t, idx, 0)
	assert.Contains(t, final[:idx], "\r")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// UT-DIAG-06: 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.isTTY = false
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.PageStart("a", 0)
	term.Status("No content found")
	term.Progress(contract.NewProgress(0, 0))
	term.PageFinish(true, 0)
	term.RunFinish(true, 0)
}

func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x")
	tn.PageStart("a", 1)
	tn.Status("x")
	tn.Progress(contract.Progress{})
	tn.PageFinish(true, 0)
	tn.RunFinish(true, 0)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcd…", shorten("abcdefgh", 5))
	assert.Equal(t, "", shorten("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
	assert.Equal(t, "Progress: 1/2 paragraphs (50%)", ProgressText(contract.NewProgress(1, 2)))

	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)
}

func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	var sb strings.Builder
	assert.False(t, NewTerminal(&sb, true).isTTY)
}
