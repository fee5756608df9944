// Package browser 通过 Chrome DevTools 协议驱动真实浏览器标签页。
// 内容脚本运行在页面 DOM 的快照上：注入时按真实布局标记不可见元素，
// 修改类消息处理完后将快照写回页面。
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"halo/internal/content"
	"halo/internal/diag"
	"halo/internal/page"
	"halo/pkg/contract"
)

// Options: 浏览器连接配置。
type Options struct {
	// ControlURL: 已运行浏览器的 DevTools WebSocket 地址；为空时自动启动。
	ControlURL string `json:"control_url,omitempty"`
	// Headless: 自动启动时是否无头；默认 true。
	Headless *bool `json:"headless,omitempty"`
	// Bin: 自动启动时的浏览器可执行文件路径；为空使用 launcher 默认查找。
	Bin string `json:"bin,omitempty"`
	// URL: 非空时启动后打开该页面并设为活动标签页。
	URL string `json:"url,omitempty"`
}

// markHiddenJS 为计算样式不可见或无布局盒的元素打标记。
var markHiddenJS = `() => {
	let n = 0;
	for (const el of document.querySelectorAll('body *')) {
		const s = getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden' || el.getClientRects().length === 0) {
			el.setAttribute('` + page.HiddenMarker + `', '');
			n++;
		}
	}
	return n;
}`

const visibleJS = `() => document.visibilityState === 'visible' && document.hasFocus()`

// Provider 实现 contract.TabProvider。
type Provider struct {
	browser *rod.Browser
	launch  *launcher.Launcher
	copts   content.Options
	logger  *diag.Logger

	mu   sync.Mutex
	tabs map[proto.TargetTargetID]*Tab
	last proto.TargetTargetID
}

// New 连接（或启动）浏览器。
func New(ctx context.Context, raw json.RawMessage, copts content.Options, logger *diag.Logger) (*Provider, error) {
	var o Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("browser options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	p := &Provider{copts: copts, logger: logger, tabs: map[proto.TargetTargetID]*Tab{}}
	u := o.ControlURL
	if u == "" {
		l := launcher.New().Headless(o.Headless == nil || *o.Headless)
		if o.Bin != "" {
			l = l.Bin(o.Bin)
		}
		var err error
		if u, err = l.Launch(); err != nil {
			return nil, fmt.Errorf("launch browser: %v: %w", err, contract.ErrTransport)
		}
		p.launch = l
	}
	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		p.kill()
		return nil, fmt.Errorf("connect to browser: %v: %w", err, contract.ErrTransport)
	}
	p.browser = b
	if o.URL != "" {
		if _, err := p.Open(ctx, o.URL); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Open 新建标签页并等待加载完成；新页面成为活动标签页。
func (p *Provider) Open(ctx context.Context, url string) (*Tab, error) {
	pg, err := p.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", url, err, contract.ErrTransport)
	}
	if err := pg.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %v: %w", url, err, contract.ErrTransport)
	}
	p.mu.Lock()
	p.last = pg.TargetID
	p.mu.Unlock()
	return p.tab(pg), nil
}

// Active 解析标签页：id 非空按 TargetID 查找；否则依次取最近打开的、
// 可见且聚焦的、唯一的页面。
func (p *Provider) Active(ctx context.Context, id string) (contract.Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id != "" {
		pg, err := p.browser.PageFromTarget(proto.TargetTargetID(id))
		if err != nil {
			return nil, fmt.Errorf("tab %s: %v: %w", id, err, contract.ErrNoActiveTab)
		}
		return p.tab(pg), nil
	}
	pages, err := p.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %v: %w", err, contract.ErrTransport)
	}
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	for _, pg := range pages {
		if pg.TargetID == last {
			return p.tab(pg), nil
		}
	}
	for _, pg := range pages {
		res, err := pg.Context(ctx).Eval(visibleJS)
		if err == nil && res.Value.Bool() {
			return p.tab(pg), nil
		}
	}
	if len(pages) == 1 {
		return p.tab(pages[0]), nil
	}
	return nil, contract.ErrNoActiveTab
}

func (p *Provider) tab(pg *rod.Page) *Tab {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tabs[pg.TargetID]; ok {
		return t
	}
	t := &Tab{pg: pg, copts: p.copts, logger: p.logger}
	p.tabs[pg.TargetID] = t
	return t
}

// Close 断开浏览器；自动启动的浏览器同时被终止。
func (p *Provider) Close() error {
	var err error
	if p.browser != nil {
		err = p.browser.Close()
	}
	p.kill()
	return err
}

func (p *Provider) kill() {
	if p.launch != nil {
		p.launch.Kill()
		p.launch = nil
	}
}

// Tab 为一个真实浏览器页面。
type Tab struct {
	pg     *rod.Page
	copts  content.Options
	logger *diag.Logger

	mu     sync.Mutex
	doc    *page.Document
	script *content.Script
}

func (t *Tab) ID() string { return string(t.pg.TargetID) }

// URL 返回页面当前地址；查询失败时返回空串。
func (t *Tab) URL() string {
	info, err := t.pg.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Inject 幂等注入：标记不可见元素，抓取 DOM 快照并在其上运行内容脚本。
func (t *Tab) Inject(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.script != nil {
		return nil
	}
	pg := t.pg.Context(ctx)
	if _, err := pg.Eval(markHiddenJS); err != nil {
		return fmt.Errorf("mark hidden: %v: %w", err, contract.ErrTransport)
	}
	src, err := pg.HTML()
	if err != nil {
		return fmt.Errorf("read dom: %v: %w", err, contract.ErrTransport)
	}
	doc, err := page.ParseString(src)
	if err != nil {
		return fmt.Errorf("parse dom: %w", err)
	}
	doc.SetURL(t.URL())
	t.doc = doc
	t.script, _ = content.Inject(doc, t.copts)
	return nil
}

// Send 在快照上处理消息；修改类消息成功后将快照写回页面。
func (t *Tab) Send(ctx context.Context, msg contract.Message) (contract.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.script == nil {
		return contract.Response{}, fmt.Errorf("tab %s: no listener: %w", t.ID(), contract.ErrTransport)
	}
	resp := t.script.Handle(ctx, msg)
	if !resp.Success || !msg.Type.Mutates() {
		return resp, nil
	}
	if err := t.pg.Context(ctx).SetDocumentContent(t.doc.HTML()); err != nil {
		t.logger.Warn("tab", "write back failed", map[string]string{"tab": t.ID(), "error": err.Error()})
		return contract.Response{}, fmt.Errorf("write back: %v: %w", err, contract.ErrTransport)
	}
	return resp, nil
}

// Save 将快照渲染后写出；FileID 为页面 URL（由 Writer 展平为文件名）。
func (t *Tab) Save(ctx context.Context, w contract.Writer) error {
	t.mu.Lock()
	doc := t.doc
	t.mu.Unlock()
	if doc == nil {
		return fmt.Errorf("tab %s: not injected: %w", t.ID(), contract.ErrNoActiveExtraction)
	}
	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return err
	}
	id := doc.URL()
	if id == "" {
		id = "cdp://" + t.ID()
	}
	return w.Write(ctx, contract.FileID(id), &buf)
}

var (
	_ contract.Tab         = (*Tab)(nil)
	_ contract.TabProvider = (*Provider)(nil)
)
