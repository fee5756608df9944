package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/internal/page"
	"halo/internal/prompt"
	"halo/pkg/contract"
)

type fixture struct {
	doc *page.Document
	st  *State
	rw  *Rewriter
	ex  Extraction
}

func setup(t *testing.T, n int) *fixture {
	t.Helper()
	d := newDoc(t, articleHTML(n))
	st := NewState()
	ex, err := NewExtractor(d, nil, nil).Extract(st)
	require.NoError(t, err)
	return &fixture{doc: d, st: st, rw: NewRewriter(d, nil), ex: ex}
}

func (f *fixture) text(i int) string {
	return f.doc.TextContent(f.st.Elements()[i].Handle)
}

func (f *fixture) display(i int) string {
	return f.doc.Display(f.st.Elements()[i].Handle)
}

// UT-RW-01: 段数匹配时逐一替换
func TestReplaceOneToOne(t *testing.T) {
	f := setup(t, 3)
	rep, err := f.rw.Replace(f.st, []string{"A one.\n\nA two.\n\nA three."})
	require.NoError(t, err)
	assert.Equal(t, Report{Replaced: 3}, rep)
	assert.Equal(t, "A two.", f.text(1))
	assert.True(t, f.st.Active())
}

// UT-RW-02: 三元素块得到单句 → 首元素得全文，其余隐藏且原文保留
func TestReplaceSinglePartHidesRest(t *testing.T) {
	f := setup(t, 3)
	rep, err := f.rw.Replace(f.st, []string{"One sentence without any breaks."})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Replaced)
	assert.Equal(t, 2, rep.Hidden)
	assert.Equal(t, "One sentence without any breaks.", f.text(0))
	assert.Equal(t, para(1), f.text(1), "隐藏元素文本不变")
	assert.Equal(t, "none", f.display(1))
	assert.Equal(t, "none", f.display(2))
	for _, el := range f.st.Elements() {
		assert.True(t, el.Captured)
	}
	assert.Equal(t, para(2), f.st.Elements()[2].OriginalText)
}

// UT-RW-03: 段数不足（非单段）→ 多出的元素保持原文
func TestReplaceShortResponse(t *testing.T) {
	f := setup(t, 4)
	rep, err := f.rw.Replace(f.st, []string{"New one.\n\nNew two."})
	require.NoError(t, err)
	assert.Equal(t, Report{Replaced: 2, Short: 2}, rep)
	assert.Equal(t, "New two.", f.text(1))
	assert.Equal(t, para(2), f.text(2))
	assert.Equal(t, para(3), f.text(3))
	assert.Equal(t, "", f.display(3))
}

// UT-RW-04: 多出的段被忽略
func TestReplaceExtraPartsIgnored(t *testing.T) {
	f := setup(t, 2)
	rep, err := f.rw.Replace(f.st, []string{"x1\n\nx2\n\nx3"})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Replaced)
	assert.Equal(t, "x2", f.text(1))
}

// UT-RW-05: 缺失/空结果整块跳过，其余块照常回写
func TestReplaceMissingSegment(t *testing.T) {
	f := setup(t, 6) // 块 [0..3],[4,5]
	rep, err := f.rw.Replace(f.st, []string{""})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, para(0), f.text(0))

	rep, err = f.rw.Replace(f.st, []string{"", "b4\n\nb5"})
	require.NoError(t, err)
	assert.Equal(t, Report{Replaced: 2, Skipped: 1}, rep)
	assert.Equal(t, "b5", f.text(5))
}

// UT-RW-06: 无抽取结果 → ErrNoActiveExtraction，文档不变
func TestReplaceWithoutExtraction(t *testing.T) {
	d := newDoc(t, articleHTML(2))
	before := d.HTML()
	_, err := NewRewriter(d, nil).Replace(NewState(), []string{"x"})
	assert.ErrorIs(t, err, contract.ErrNoActiveExtraction)
	assert.Equal(t, before, d.HTML())
	assert.Equal(t, 0, NewRewriter(d, nil).Restore(NewState()))
}

// UT-RW-07: 往返性质与幂等捕获
func TestRoundTripAndIdempotentCapture(t *testing.T) {
	f := setup(t, 3)
	before := f.doc.HTML()
	_, err := f.rw.Replace(f.st, []string{"first pass"})
	require.NoError(t, err)
	// 第二次回写：隐藏元素重新得到文本并取消隐藏，原文不被覆盖
	_, err = f.rw.Replace(f.st, []string{"s0\n\ns1\n\ns2"})
	require.NoError(t, err)
	assert.Equal(t, "s1", f.text(1))
	assert.Equal(t, "", f.display(1))
	for i, el := range f.st.Elements() {
		assert.Equal(t, para(i), el.OriginalText)
	}

	n := f.rw.Restore(f.st)
	assert.Equal(t, 3, n)
	assert.Equal(t, before, f.doc.HTML())
	assert.Equal(t, 0, f.st.Len())
	assert.False(t, f.st.Active())
}

// UT-RW-08: 重新抽取跳过被隐藏的元素，还原仍覆盖它们
func TestRestoreCoversHiddenAfterReextract(t *testing.T) {
	f := setup(t, 3)
	before := f.doc.HTML()
	_, err := f.rw.Replace(f.st, []string{"only one part of the adapted response"})
	require.NoError(t, err)

	ex, err := NewExtractor(f.doc, nil, nil).Extract(f.st)
	require.NoError(t, err)
	require.Equal(t, 1, ex.ParagraphCount, "隐藏元素不再被抽取")
	assert.Equal(t, para(0), f.st.Elements()[0].OriginalText, "原文随台账回填")

	_, err = f.rw.Replace(f.st, []string{"second pass text"})
	require.NoError(t, err)
	f.rw.Restore(f.st)
	assert.Equal(t, before, f.doc.HTML())
}

// UT-RW-09: 段落内含空行时，回退结果（原文拼接）不得错位到相邻元素
func TestReplaceFallbackWithInnerBlankLine(t *testing.T) {
	const first = "First paragraph line one is long.\n\nFirst paragraph line two is long."
	const second = "Second paragraph stays the same text."
	d := newDoc(t, "<html><body><main><p>"+first+"</p><p>"+second+"</p></main></body></html>")
	st := NewState()
	ex, err := NewExtractor(d, nil, nil).Extract(st)
	require.NoError(t, err)
	require.Equal(t, 1, ex.SegmentCount)
	require.Equal(t, 2, ex.ParagraphCount)
	assert.Equal(t, "First paragraph line one is long.\nFirst paragraph line two is long.", ex.Segments[0][0])

	joined := prompt.Join(ex.Segments[0])
	assert.Len(t, Reconcile(joined, 2), 2, "拼接结果应拆回原段数")

	before := d.HTML()
	rw := NewRewriter(d, nil)
	rep, err := rw.Replace(st, []string{joined})
	require.NoError(t, err)
	assert.Equal(t, Report{Unchanged: 2}, rep)
	assert.Equal(t, before, d.HTML())
	assert.Equal(t, first, d.TextContent(st.Elements()[0].Handle))
	assert.Equal(t, second, d.TextContent(st.Elements()[1].Handle))

	// 正常改写仍按段回写
	rep, err = rw.Replace(st, []string{"New first.\n\nNew second."})
	require.NoError(t, err)
	assert.Equal(t, Report{Replaced: 2}, rep)
	assert.Equal(t, "New second.", d.TextContent(st.Elements()[1].Handle))
	rw.Restore(st)
	assert.Equal(t, before, d.HTML())
}
