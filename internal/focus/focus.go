// Package focus 实现专注模式：为页面上的干扰区域打上隐藏 class，并可完整撤销。
package focus

import (
	"strings"
	"sync"

	"halo/internal/page"
	"halo/pkg/contract"
)

const (
	// HiddenClass 由注入的样式表隐藏。
	HiddenClass = "halo-focus-mode-hidden"
	// HiddenAttr 标记由专注模式隐藏的元素，用于撤销。
	HiddenAttr = "data-halo-focus-hidden"
	// StyleID 为注入样式表的 id。
	StyleID = "halo-focus-mode-styles"
)

const styleCSS = `
    .` + HiddenClass + ` {
      display: none !important;
      visibility: hidden !important;
    }
  `

// Group 是一组按用途归类的选择器。
type Group struct {
	Name     string
	Selector string
}

// Groups 按应用顺序列出干扰区域选择器。
var Groups = []Group{
	{"images", sel(`img:not([role="presentation"])`, "figure", "picture", `[class*="image"]`, `[class*="photo"]`, `[class*="picture"]`, `[id*="image"]`, `[id*="photo"]`)},
	{"videos", sel("video", `iframe[src*="youtube"]`, `iframe[src*="vimeo"]`, `iframe[src*="dailymotion"]`, `iframe[src*="twitch"]`, `[class*="video"]`, `[id*="video"]`)},
	{"sidebars", sel("aside", `[role="complementary"]`, `[class*="sidebar"]`, `[class*="side-bar"]`, `[class*="rail"]`, `[id*="sidebar"]`, `[id*="side-bar"]`, `[id*="rail"]`, ".widget", `[class*="widget"]`, `[class*="aside"]`)},
	{"headers", sel("header", `[role="banner"]`, `[class*="header"]`, `[class*="masthead"]`, `[id*="header"]`, `[id*="masthead"]`, "nav", `[role="navigation"]`, `[class*="navbar"]`, `[class*="nav-bar"]`, `[class*="navigation"]`, `[id*="navbar"]`, `[id*="navigation"]`)},
	{"footers", sel("footer", `[role="contentinfo"]`, `[class*="footer"]`, `[id*="footer"]`)},
	{"ads", sel(`[class*="ad-"]`, `[class*="ads-"]`, `[id*="ad-"]`, `[id*="ads-"]`, `[class*="advertisement"]`, `[id*="advertisement"]`, `[class*="sponsor"]`, `[id*="sponsor"]`, ".ad", "#ad")},
	{"social", sel(`[class*="social"]`, `[class*="share"]`, `[id*="social"]`, `[id*="share"]`)},
	{"related", sel(`[class*="related"]`, `[class*="recommended"]`, `[id*="related"]`, `[id*="recommended"]`)},
}

func sel(parts ...string) string { return page.MustCompile(strings.Join(parts, ", ")) }

// Mode 持有单个文档的专注模式状态。
type Mode struct {
	mu      sync.Mutex
	doc     *page.Document
	enabled bool
	hidden  int
}

// New 绑定文档并注入样式表（幂等）。
func New(doc *page.Document) *Mode {
	doc.AppendStyle(StyleID, styleCSS)
	return &Mode{doc: doc}
}

// Toggle 设置专注模式；enabled 为 nil 时翻转当前状态。
func (m *Mode) Toggle(enabled *bool) contract.FocusState {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := !m.enabled
	if enabled != nil {
		want = *enabled
	}
	if want {
		m.hidden += m.apply()
	} else {
		m.remove()
		m.hidden = 0
	}
	m.enabled = want
	return contract.FocusState{Enabled: m.enabled, Hidden: m.hidden}
}

// Reapply 在文档内容变化后重新应用（仅在已开启时生效）。
func (m *Mode) Reapply() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return 0
	}
	n := m.apply()
	m.hidden += n
	return n
}

// State 返回当前状态。
func (m *Mode) State() contract.FocusState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return contract.FocusState{Enabled: m.enabled, Hidden: m.hidden}
}

// apply 隐藏可见的干扰元素，返回新隐藏的数量；已隐藏与不可见元素跳过。
func (m *Mode) apply() int {
	n := 0
	for _, g := range Groups {
		hs, err := m.doc.QueryAll(g.Selector)
		if err != nil {
			continue
		}
		for _, h := range hs {
			if _, done := m.doc.Attr(h, HiddenAttr); done || !m.doc.LaidOut(h) {
				continue
			}
			m.doc.AddClass(h, HiddenClass)
			m.doc.SetAttr(h, HiddenAttr, "true")
			n++
		}
	}
	return n
}

func (m *Mode) remove() {
	hs, err := m.doc.QueryAll(`[` + HiddenAttr + `="true"]`)
	if err != nil {
		return
	}
	for _, h := range hs {
		m.doc.RemoveClass(h, HiddenClass)
		m.doc.RemoveAttr(h, HiddenAttr)
	}
}
