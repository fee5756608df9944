// Package source 产出待变换的 HTML 页面字节流：本地文件/目录、STDIN 或 http(s) URL。
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"halo/pkg/contract"
)

// StdinID 为 STDIN 输入的 FileID。
const StdinID contract.FileID = "stdin"

// Options 为页面来源的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过这些目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Extensions: 目录扫描时收集的扩展名，默认 .html/.htm。单文件 root 不受限制。
	Extensions []string `json:"extensions"`
	// TimeoutSeconds: 拉取 URL 的超时，默认 30。
	TimeoutSeconds int `json:"timeout_seconds"`
	// UserAgent: 拉取 URL 时的 UA。
	UserAgent string `json:"user_agent"`
}

// Source 实现 contract.Reader。
type Source struct {
	bufSize    int
	excludeDir map[string]struct{}
	exts       map[string]struct{}
	http       *resty.Client
}

// New 创建 Source。
func New(opts *Options) *Source {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.BufSize <= 0 {
		o.BufSize = 64 * 1024
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".html", ".htm"}
	}
	if o.UserAgent == "" {
		o.UserAgent = "halo/1.0"
	}
	s := &Source{
		bufSize:    o.BufSize,
		excludeDir: make(map[string]struct{}),
		exts:       make(map[string]struct{}),
		http: resty.New().
			SetTimeout(time.Duration(o.TimeoutSeconds)*time.Second).
			SetHeader("User-Agent", o.UserAgent).
			SetHeader("Accept", "text/html,application/xhtml+xml"),
	}
	for _, name := range o.ExcludeDirNames {
		if name != "" {
			s.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, e := range o.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		s.exts[e] = struct{}{}
	}
	return s
}

// IsURL 报告 root 是否为 http(s) URL。
func IsURL(root string) bool { return contract.FileID(root).IsURL() }

// Iterate 遍历 roots，按稳定顺序对每个页面调用 yield。
// roots 为空或仅含 "-" 时读取 STDIN；"-" 不得与其他 root 混用。
func (s *Source) Iterate(ctx context.Context, roots []string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(StdinID, s.buffered(io.NopCloser(os.Stdin)))
	}
	for _, r := range roots {
		if r == "-" {
			return fmt.Errorf("stdin '-' cannot be mixed with other roots: %w", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		var err error
		if IsURL(root) {
			err = s.fetch(ctx, root, yield)
		} else {
			err = s.iterateOne(ctx, root, yield)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// fetch 拉取整页并以 URL 本身作为 FileID。
func (s *Source) fetch(ctx context.Context, url string, yield func(contract.FileID, io.ReadCloser) error) error {
	resp, err := s.http.R().SetContext(ctx).Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode()/100 != 2 {
		return fmt.Errorf("fetch %s: http %d: %w", url, resp.StatusCode(), contract.ErrInvalidInput)
	}
	return yield(contract.FileID(url), io.NopCloser(bytes.NewReader(resp.Body())))
}

func (s *Source) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if info.IsDir() {
		lst, err := os.Lstat(root)
		if err != nil {
			return err
		}
		// 目录符号链接不跟随
		if lst.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return s.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return s.open(root, yield)
}

func (s *Source) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	// 先子目录，再文件
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := s.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := s.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := s.exts[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := s.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	rc := s.buffered(f)
	if err := yield(contract.NormalizeFileID(p), rc); err != nil {
		_ = rc.Close()
		return err
	}
	return nil
}

func (s *Source) buffered(c io.ReadCloser) io.ReadCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, s.bufSize), c: c}
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c      io.Closer
	closed bool
}

func (b *bufferedCloser) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.c.Close()
}

// URLFor 为 FileID 生成页面 URL：URL 原样返回，STDIN 为 file://stdin，文件为绝对 file:// 路径。
func URLFor(id contract.FileID) string {
	s := string(id)
	switch {
	case id.IsURL():
		return s
	case id == StdinID:
		return "file://stdin"
	}
	abs, err := filepath.Abs(filepath.FromSlash(s))
	if err != nil {
		abs = s
	}
	return "file://" + filepath.ToSlash(abs)
}

var _ contract.Reader = (*Source)(nil)
