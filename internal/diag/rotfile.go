package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	logStem        = "halo"
	logCurrentName = logStem + "-current.log"
	defaultLogMax  = 10 << 20
)

// RotatingFile 是按大小滚动的日志文件，实现 zapcore.WriteSyncer。
// 活动文件为 halo-current.log；超出 maxBytes 时改名为 halo-<UTC 纳秒时间戳>.log，
// 并只保留最近 keep 个历史文件（keep<=0 不清理）。
type RotatingFile struct {
	dir      string
	maxBytes int64
	keep     int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewRotatingFile(dir string, maxBytes int64, keep int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = defaultLogMax
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, keep: keep}
}

// Write 写入一条已编码事件；事件本身不拆分到两个文件。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// WriteLine 在 b 之后补换行写入。
func (w *RotatingFile) WriteLine(b []byte) error {
	_, err := w.Write(append(append(make([]byte, 0, len(b)+1), b...), '\n'))
	return err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingFile) open() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, logCurrentName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

// roll 关闭并改名活动文件，清理超额历史后重新打开。
func (w *RotatingFile) roll() error {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	cur := filepath.Join(w.dir, logCurrentName)
	if _, err := os.Stat(cur); err == nil {
		old := filepath.Join(w.dir, fmt.Sprintf("%s-%s.log", logStem, time.Now().UTC().Format("20060102-150405.000000000")))
		if err := os.Rename(cur, old); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}
	w.prune()
	return w.open()
}

// prune 删除最旧的历史文件；时间戳文件名按字典序即按时间序。
func (w *RotatingFile) prune() {
	if w.keep <= 0 {
		return
	}
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var old []string
	for _, e := range ents {
		n := e.Name()
		if n != logCurrentName && strings.HasPrefix(n, logStem+"-") && strings.HasSuffix(n, ".log") {
			old = append(old, n)
		}
	}
	if len(old) <= w.keep {
		return
	}
	sort.Strings(old)
	for _, n := range old[:len(old)-w.keep] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}
