package content

import (
	"sync"

	"halo/internal/page"
	"halo/pkg/contract"
)

// Element: 抽取序列中的一个元素。身份即其在序列中的位置。
type Element struct {
	Handle page.Handle
	// Text 为抽取时的裁剪文本（>20 字符）。
	Text string
	// OriginalText 为首次改写前捕获的原始 textContent；仅在 Captured 为真时有效。
	OriginalText string
	Captured     bool
}

// State: 页面会话级的抽取状态，由 Extractor 写入、Rewriter 消费与清空。
// 生命周期：Begin(pageID) 重置 → 抽取填充 → 回写/还原 → End() 清空。
//
// 除当前抽取序列外，State 还维护本页面会话内所有被改写过的元素的原文台账：
// 重新抽取会跳过先前被隐藏的元素，还原时仍须覆盖它们。
type State struct {
	mu       sync.Mutex
	pageID   string
	active   bool
	elements []Element
	mappings contract.ChunkMapping

	originals map[page.Handle]string
	order     []page.Handle
}

// NewState 创建空状态。
func NewState() *State { return &State{} }

// Begin 开始（或重新开始）一个页面会话，丢弃先前的一切状态。
func (s *State) Begin(pageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageID = pageID
	s.reset()
}

// End 结束页面会话并清空状态。
func (s *State) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *State) reset() {
	s.active = false
	s.elements = nil
	s.mappings = nil
	s.originals = nil
	s.order = nil
}

// PageID 返回当前页面会话 ID。
func (s *State) PageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageID
}

// Active 报告改写是否已生效（回写后为真，还原后为假）。
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Len 返回抽取序列长度。
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

// Elements 返回抽取序列的副本。
func (s *State) Elements() []Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Element, len(s.elements))
	copy(out, s.elements)
	return out
}

// Mappings 返回块映射的副本。
func (s *State) Mappings() contract.ChunkMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(contract.ChunkMapping, len(s.mappings))
	for i, m := range s.mappings {
		out[i] = append([]int(nil), m...)
	}
	return out
}

// store 以新抽取结果覆盖抽取序列；台账中已捕获的原文回填到对应元素。
func (s *State) store(elems []Element, mappings contract.ChunkMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range elems {
		if orig, ok := s.originals[elems[i].Handle]; ok {
			elems[i].OriginalText = orig
			elems[i].Captured = true
		}
	}
	s.active = false
	s.elements = elems
	s.mappings = mappings
}

// ledger 是 with 回调中可用的原文台账视图。
type ledger struct{ s *State }

// capture 记录元素原文；已捕获则保持不变。
func (l ledger) capture(el *Element, text func() string) {
	if el.Captured {
		return
	}
	if orig, ok := l.s.originals[el.Handle]; ok {
		el.OriginalText, el.Captured = orig, true
		return
	}
	if l.s.originals == nil {
		l.s.originals = make(map[page.Handle]string)
	}
	el.OriginalText, el.Captured = text(), true
	l.s.originals[el.Handle] = el.OriginalText
	l.s.order = append(l.s.order, el.Handle)
}

// each 按捕获顺序遍历台账。
func (l ledger) each(fn func(h page.Handle, original string)) {
	for _, h := range l.s.order {
		fn(h, l.s.originals[h])
	}
}

// with 在锁内执行 fn，用于回写/还原这类需要原子读改写的操作；fn 的返回值写入 active。
func (s *State) with(fn func(elems []Element, mappings contract.ChunkMapping, lg ledger) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = fn(s.elements, s.mappings, ledger{s: s})
}
