// Package page 提供内容脚本所操作的 HTML 文档模型。
//
// 元素以 Handle（文档内节点表的下标）标识；抽取、回写与还原全程只持有 Handle，
// 不持有节点指针。选择器匹配基于 cascadia，解析与序列化基于 x/net/html。
package page

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"halo/pkg/contract"
)

// Handle: 元素在文档节点表中的稳定标识。
type Handle int

// NoHandle 表示“无元素”。
const NoHandle Handle = -1

// Document: 可变 HTML 文档。非并发安全；调用方（内容脚本）负责串行化访问。
type Document struct {
	root  *html.Node
	nodes []*html.Node
	ids   map[*html.Node]Handle
	url   string
}

// Parse 解析 HTML 并按文档顺序为每个元素分配 Handle。
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w: %v", contract.ErrInvalidInput, err)
	}
	d := &Document{root: root, ids: make(map[*html.Node]Handle)}
	d.index(root)
	return d, nil
}

// ParseString 便捷包装。
func ParseString(s string) (*Document, error) { return Parse(strings.NewReader(s)) }

// SetURL 记录文档来源地址（仅用于响应与测验标题回退）。
func (d *Document) SetURL(u string) { d.url = u }

// URL 返回文档来源地址。
func (d *Document) URL() string { return d.url }

func (d *Document) index(n *html.Node) {
	if n.Type == html.ElementNode {
		d.register(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.index(c)
	}
}

func (d *Document) register(n *html.Node) Handle {
	if h, ok := d.ids[n]; ok {
		return h
	}
	h := Handle(len(d.nodes))
	d.nodes = append(d.nodes, n)
	d.ids[n] = h
	return h
}

func (d *Document) node(h Handle) *html.Node {
	if h < 0 || int(h) >= len(d.nodes) {
		return nil
	}
	return d.nodes[h]
}

// Valid 报告 Handle 是否指向文档中仍然存在的元素。
func (d *Document) Valid(h Handle) bool {
	n := d.node(h)
	if n == nil {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Len 返回已登记的元素数。
func (d *Document) Len() int { return len(d.nodes) }

// Tag 返回元素标签名（小写）。
func (d *Document) Tag(h Handle) string {
	if n := d.node(h); n != nil {
		return n.Data
	}
	return ""
}

// Render 序列化当前文档。
func (d *Document) Render(w io.Writer) error { return html.Render(w, d.root) }

// HTML 以字符串形式返回当前文档。
func (d *Document) HTML() string {
	var buf bytes.Buffer
	_ = d.Render(&buf)
	return buf.String()
}

var selectors sync.Map // string -> cascadia.Selector

func compile(sel string) (cascadia.Selector, error) {
	if v, ok := selectors.Load(sel); ok {
		return v.(cascadia.Selector), nil
	}
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w: %v", sel, contract.ErrInvalidInput, err)
	}
	selectors.Store(sel, s)
	return s, nil
}

// MustCompile 用于包级常量选择器的预检；非法选择器直接 panic。
func MustCompile(sel string) string {
	if _, err := compile(sel); err != nil {
		panic(err)
	}
	return sel
}

// QueryAll 返回文档内所有匹配元素（文档顺序）。
func (d *Document) QueryAll(sel string) ([]Handle, error) {
	return d.Select(NoHandle, sel)
}

// Query 返回第一个匹配元素；无匹配返回 NoHandle。
func (d *Document) Query(sel string) (Handle, error) {
	s, err := compile(sel)
	if err != nil {
		return NoHandle, err
	}
	n := s.MatchFirst(d.root)
	if n == nil {
		return NoHandle, nil
	}
	return d.register(n), nil
}

// Select 返回 root 后代中的匹配元素（不含 root 自身，文档顺序）。root 为 NoHandle 时查询整个文档。
func (d *Document) Select(root Handle, sel string) ([]Handle, error) {
	s, err := compile(sel)
	if err != nil {
		return nil, err
	}
	base := d.root
	if root != NoHandle {
		if base = d.node(root); base == nil {
			return nil, nil
		}
	}
	var out []Handle
	for _, n := range s.MatchAll(base) {
		if n == base {
			continue
		}
		out = append(out, d.register(n))
	}
	return out, nil
}

// Matches 报告元素自身是否匹配选择器。
func (d *Document) Matches(h Handle, sel string) bool {
	n := d.node(h)
	if n == nil {
		return false
	}
	s, err := compile(sel)
	if err != nil {
		return false
	}
	return s.Match(n)
}

// Closest 自元素本身起向上查找第一个匹配的祖先；无匹配返回 NoHandle。
func (d *Document) Closest(h Handle, sel string) Handle {
	s, err := compile(sel)
	if err != nil {
		return NoHandle
	}
	for n := d.node(h); n != nil; n = n.Parent {
		if n.Type == html.ElementNode && s.Match(n) {
			return d.register(n)
		}
	}
	return NoHandle
}

// Attr 读取属性；不存在时 ok=false。
func (d *Document) Attr(h Handle, key string) (string, bool) {
	n := d.node(h)
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr 设置属性（存在则覆盖）。
func (d *Document) SetAttr(h Handle, key, val string) {
	n := d.node(h)
	if n == nil {
		return
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr 删除属性。
func (d *Document) RemoveAttr(h Handle, key string) {
	n := d.node(h)
	if n == nil {
		return
	}
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// ClassName 返回 class 属性原文。
func (d *Document) ClassName(h Handle) string {
	v, _ := d.Attr(h, "class")
	return v
}

// HasClass 报告元素是否带有指定 class。
func (d *Document) HasClass(h Handle, class string) bool {
	for _, c := range strings.Fields(d.ClassName(h)) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass 追加 class（已存在则忽略）。
func (d *Document) AddClass(h Handle, class string) {
	if d.node(h) == nil || d.HasClass(h, class) {
		return
	}
	cur := strings.TrimSpace(d.ClassName(h))
	if cur == "" {
		d.SetAttr(h, "class", class)
		return
	}
	d.SetAttr(h, "class", cur+" "+class)
}

// RemoveClass 移除 class；移除后为空则删除属性。
func (d *Document) RemoveClass(h Handle, class string) {
	if !d.HasClass(h, class) {
		return
	}
	var keep []string
	for _, c := range strings.Fields(d.ClassName(h)) {
		if c != class {
			keep = append(keep, c)
		}
	}
	if len(keep) == 0 {
		d.RemoveAttr(h, "class")
		return
	}
	d.SetAttr(h, "class", strings.Join(keep, " "))
}

// TextContent 返回所有后代文本节点的拼接（与 DOM textContent 一致，不裁剪）。
func (d *Document) TextContent(h Handle) string {
	n := d.node(h)
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// SetTextContent 以单个文本节点替换元素的全部子节点。
func (d *Document) SetTextContent(h Handle, s string) {
	n := d.node(h)
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if s != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	}
}

// Title 返回 <title> 文本（裁剪后）。
func (d *Document) Title() string {
	h, err := d.Query("title")
	if err != nil || h == NoHandle {
		return ""
	}
	return strings.TrimSpace(d.TextContent(h))
}

// Head 返回 <head> 元素。
func (d *Document) Head() Handle {
	h, _ := d.Query("head")
	return h
}

// ElementByID 返回 id 对应元素；无则 NoHandle。
func (d *Document) ElementByID(id string) Handle {
	for i, n := range d.nodes {
		for _, a := range n.Attr {
			if a.Namespace == "" && a.Key == "id" && a.Val == id && d.Valid(Handle(i)) {
				return Handle(i)
			}
		}
	}
	return NoHandle
}

// AppendStyle 在 <head> 末尾追加 <style id=...>；同 id 已存在时不重复追加。
func (d *Document) AppendStyle(id, css string) Handle {
	if h := d.ElementByID(id); h != NoHandle {
		return h
	}
	parent := d.node(d.Head())
	if parent == nil {
		parent = d.root
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "id", Val: id}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	parent.AppendChild(style)
	return d.register(style)
}

// Remove 将元素从文档中摘除（Handle 之后视为无效）。
func (d *Document) Remove(h Handle) {
	n := d.node(h)
	if n == nil || n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
}
