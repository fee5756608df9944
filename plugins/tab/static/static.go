// Package static 提供进程内标签页：文档由本地文件、STDIN 或拉取的 URL 解析而来，
// 内容脚本直接运行在解析后的文档上；变换结果可经 Writer 落盘。
package static

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"halo/internal/content"
	"halo/internal/page"
	"halo/pkg/contract"
)

// Tab 为一个静态文档标签页。
type Tab struct {
	id   string
	url  string
	doc  *page.Document
	opts content.Options

	mu     sync.Mutex
	script *content.Script
	closed bool
}

// NewTab 包装一个已解析的文档。
func NewTab(id, url string, doc *page.Document, opts content.Options) *Tab {
	doc.SetURL(url)
	return &Tab{id: id, url: url, doc: doc, opts: opts}
}

func (t *Tab) ID() string  { return t.id }
func (t *Tab) URL() string { return t.url }

// Document 返回标签页的文档。
func (t *Tab) Document() *page.Document { return t.doc }

// Inject 幂等注入内容脚本。
func (t *Tab) Inject(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("tab %s closed: %w", t.id, contract.ErrTransport)
	}
	if t.script == nil {
		t.script, _ = content.Inject(t.doc, t.opts)
	}
	return nil
}

// Send 将消息交给内容脚本处理。
func (t *Tab) Send(ctx context.Context, msg contract.Message) (contract.Response, error) {
	t.mu.Lock()
	s, closed := t.script, t.closed
	t.mu.Unlock()
	switch {
	case closed:
		return contract.Response{}, fmt.Errorf("tab %s closed: %w", t.id, contract.ErrTransport)
	case s == nil:
		return contract.Response{}, fmt.Errorf("tab %s: no listener: %w", t.id, contract.ErrTransport)
	}
	return s.Handle(ctx, msg), nil
}

// Close 关闭标签页并移除注入记录。
func (t *Tab) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.script = nil
	content.Detach(t.doc)
}

// Save 将当前文档渲染后写出，FileID 为标签页 ID。
func (t *Tab) Save(ctx context.Context, w contract.Writer) error {
	var buf bytes.Buffer
	if err := t.doc.Render(&buf); err != nil {
		return err
	}
	return w.Write(ctx, contract.FileID(t.id), &buf)
}

// Provider 管理一组静态标签页，并维护“当前活动”标签页。
type Provider struct {
	opts content.Options

	mu     sync.Mutex
	tabs   []*Tab
	active string
}

// NewProvider 创建空的 Provider；opts 传给每个标签页的内容脚本。
func NewProvider(opts content.Options) *Provider {
	return &Provider{opts: opts}
}

// Add 添加标签页；最后添加的标签页成为活动标签页。
func (p *Provider) Add(t *Tab) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tabs = append(p.tabs, t)
	p.active = t.id
}

// Open 解析一份 HTML 并添加为标签页。
func (p *Provider) Open(id, url string, r io.Reader) (*Tab, error) {
	doc, err := page.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}
	t := NewTab(id, url, doc, p.opts)
	p.Add(t)
	return t, nil
}

// Load 通过 Reader 读取 roots 下的全部页面；urlFor 为 FileID 生成页面 URL。
func (p *Provider) Load(ctx context.Context, r contract.Reader, roots []string, urlFor func(contract.FileID) string) ([]*Tab, error) {
	var out []*Tab
	err := r.Iterate(ctx, roots, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		url := string(id)
		if urlFor != nil {
			url = urlFor(id)
		}
		t, err := p.Open(string(id), url, rc)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, err
}

// Activate 切换活动标签页。
func (p *Provider) Activate(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.find(id) == nil {
		return fmt.Errorf("tab %q: %w", id, contract.ErrNoActiveTab)
	}
	p.active = id
	return nil
}

// Tabs 返回全部标签页。
func (p *Provider) Tabs() []*Tab {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Tab(nil), p.tabs...)
}

// Active 实现 contract.TabProvider：id 非空按 ID 查找，否则返回活动标签页。
func (p *Provider) Active(ctx context.Context, id string) (contract.Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == "" {
		id = p.active
	}
	t := p.find(id)
	if t == nil {
		return nil, contract.ErrNoActiveTab
	}
	return t, nil
}

func (p *Provider) find(id string) *Tab {
	for _, t := range p.tabs {
		if t.id == id {
			return t
		}
	}
	return nil
}

var (
	_ contract.Tab         = (*Tab)(nil)
	_ contract.TabProvider = (*Provider)(nil)
)
