package page

import (
	"strings"

	"golang.org/x/net/html"
)

// HiddenMarker: 实时标签页根据真实布局为不可见元素打上的标记属性。
const HiddenMarker = "data-halo-hidden"

type decl struct{ prop, val string }

func parseStyle(s string) []decl {
	var out []decl
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		out = append(out, decl{prop: k, val: strings.TrimSpace(v)})
	}
	return out
}

func formatStyle(ds []decl) string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.prop+": "+d.val)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// StyleProp 读取内联样式属性值（小写、去 !important）。
func (d *Document) StyleProp(h Handle, prop string) string {
	v, _ := d.Attr(h, "style")
	return styleValue(parseStyle(v), prop)
}

func styleValue(ds []decl, prop string) string {
	val := ""
	for _, d := range ds {
		if d.prop == prop {
			val = d.val
		}
	}
	val = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(val), "!important"))
	return val
}

// SetStyleProp 设置内联样式属性；val 为空时移除该属性，其余声明保持原样。
func (d *Document) SetStyleProp(h Handle, prop, val string) {
	if d.node(h) == nil {
		return
	}
	raw, _ := d.Attr(h, "style")
	ds := parseStyle(raw)
	out := ds[:0]
	set := false
	for _, x := range ds {
		if x.prop == prop {
			if val != "" && !set {
				out = append(out, decl{prop: prop, val: val})
				set = true
			}
			continue
		}
		out = append(out, x)
	}
	if val != "" && !set {
		out = append(out, decl{prop: prop, val: val})
	}
	if s := formatStyle(out); s != "" {
		d.SetAttr(h, "style", s)
	} else {
		d.RemoveAttr(h, "style")
	}
}

// Display 返回内联 display 值（未设置为空串）。
func (d *Document) Display(h Handle) string { return d.StyleProp(h, "display") }

// SetDisplay 设置内联 display；空串表示清除。
func (d *Document) SetDisplay(h Handle, v string) { d.SetStyleProp(h, "display", v) }

var nonRendered = map[string]bool{
	"head": true, "script": true, "style": true, "template": true, "noscript": true, "title": true,
}

// LaidOut 近似 “computed style 可见且包围盒非零”：
// 元素及其祖先均未被 hidden 属性、内联 display:none、HiddenMarker 隐藏，
// 不处于不渲染的容器内，继承的 visibility 不为 hidden，且自身内联宽高不为 0。
func (d *Document) LaidOut(h Handle) bool {
	n := d.node(h)
	if n == nil || !d.Valid(h) {
		return false
	}
	visibility := ""
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if nonRendered[p.Data] {
			return false
		}
		ds := parseStyle(attrOf(p, "style"))
		if hasAttr(p, "hidden") || hasAttr(p, HiddenMarker) || styleValue(ds, "display") == "none" {
			return false
		}
		// 最近的显式 visibility 生效
		if visibility == "" {
			visibility = styleValue(ds, "visibility")
		}
	}
	if visibility == "hidden" || visibility == "collapse" {
		return false
	}
	ds := parseStyle(attrOf(n, "style"))
	return !isZero(styleValue(ds, "width")) && !isZero(styleValue(ds, "height"))
}

func isZero(v string) bool {
	switch v {
	case "0", "0px", "0em", "0rem", "0%":
		return true
	}
	return false
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}
