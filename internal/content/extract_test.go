package content

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/internal/chunk"
	"halo/internal/page"
	"halo/pkg/contract"
)

func para(i int) string {
	return fmt.Sprintf("Paragraph number %02d says something worth reading here.", i)
}

func articleHTML(n int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Test Article</title></head><body><main>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<p id="p%d">%s</p>`, i, para(i))
	}
	b.WriteString(`</main></body></html>`)
	return b.String()
}

func newDoc(t *testing.T, s string) *page.Document {
	t.Helper()
	d, err := page.ParseString(s)
	require.NoError(t, err)
	return d
}

// UT-EXT-01: 10 段短文 → 3 块（4,4,2），映射构成完整划分
func TestExtractTenParagraphs(t *testing.T) {
	d := newDoc(t, articleHTML(10))
	st := NewState()
	ex, err := NewExtractor(d, nil, nil).Extract(st)
	require.NoError(t, err)
	assert.Equal(t, 10, ex.ParagraphCount)
	assert.Equal(t, 3, ex.SegmentCount)
	assert.Equal(t, contract.ChunkMapping{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}, ex.Mappings)
	assert.Equal(t, para(0), ex.Segments[0][0])
	assert.Equal(t, contract.DefaultDelimiter, ex.Delimiter)
	assert.Equal(t, 10, st.Len())
	assert.False(t, st.Active())
}

// UT-EXT-02: 单段 2000 字符独占一块
func TestExtractOversized(t *testing.T) {
	long := strings.Repeat("word ", 400)
	d := newDoc(t, `<article><p>`+long+`</p></article>`)
	ex, err := NewExtractor(d, nil, nil).Extract(NewState())
	require.NoError(t, err)
	assert.Equal(t, 1, ex.SegmentCount)
	assert.Equal(t, contract.ChunkMapping{{0}}, ex.Mappings)
}

// UT-EXT-03: 仅导航/页脚文本 → ErrNoContent
func TestExtractOnlyChrome(t *testing.T) {
	d := newDoc(t, `<body><div><nav><p>Navigation links that are long enough to count</p></nav>
<footer><p>Footer text that is definitely longer than twenty</p></footer></div></body>`)
	st := NewState()
	_, err := NewExtractor(d, nil, nil).Extract(st)
	assert.True(t, errors.Is(err, contract.ErrNoContent), "err=%v", err)
	assert.Equal(t, 0, st.Len())

	empty := newDoc(t, `<body><p>Loose paragraph without any container element</p></body>`)
	_, err = NewExtractor(empty, nil, nil).Extract(NewState())
	assert.ErrorIs(t, err, contract.ErrNoContent)
}

// UT-EXT-04: 过滤规则
func TestExtractFilters(t *testing.T) {
	d := newDoc(t, `<main>
<p id="keep">This paragraph is visible and long enough.</p>
<p>Too short text</p>
<p style="display:none">Hidden paragraph text that is long enough.</p>
<p aria-hidden="true">Aria hidden paragraph text, long enough.</p>
<p class="share-box">Share class paragraph text, long enough.</p>
<p class="MenuItem">Menu class paragraph text that is long enough.</p>
<aside><p>Aside paragraph text that is long enough to count.</p></aside>
<form><p>Form paragraph text that is long enough to count.</p></form>
<div data-testid="InlineNewsletter"><p>Newsletter paragraph text long enough.</p></div>
<div aria-label="breadcrumb"><p>Breadcrumb paragraph text long enough here.</p></div>
<blockquote>A quoted passage that is long enough to keep.</blockquote>
<h2>A heading that is long enough to be kept</h2>
<p>   exactly twenty chars   </p>
</main>`)
	ex, err := NewExtractor(d, nil, nil).Extract(NewState())
	require.NoError(t, err)
	require.Equal(t, 3, ex.ParagraphCount)
	assert.Equal(t, []string{
		"This paragraph is visible and long enough.",
		"A quoted passage that is long enough to keep.",
		"A heading that is long enough to be kept",
	}, ex.Segments[0])
}

// UT-EXT-05: 根节点选择优先级与回退
func TestRootSelection(t *testing.T) {
	// 选择器优先级高于文档顺序：article 在前，但 main 优先
	d := newDoc(t, `<article id="a"><p>x</p></article><main id="m"><p>y</p></main>`)
	h, err := NewExtractor(d, nil, nil).Root()
	require.NoError(t, err)
	id, _ := d.Attr(h, "id")
	assert.Equal(t, "m", id)

	// 回退：文本最长的容器；并列取先出现者
	d = newDoc(t, `<div id="a">short</div><section id="b">much longer text here</section><div id="c">much longer text here</div>`)
	h, err = NewExtractor(d, nil, nil).Root()
	require.NoError(t, err)
	id, _ = d.Attr(h, "id")
	assert.Equal(t, "b", id)

	d = newDoc(t, `<div>   </div>`)
	_, err = NewExtractor(d, nil, nil).Root()
	assert.ErrorIs(t, err, contract.ErrNoContent)
}

// UT-EXT-06: 重新抽取覆盖旧状态
func TestExtractOverwritesState(t *testing.T) {
	st := NewState()
	st.Begin("page-1")
	_, err := NewExtractor(newDoc(t, articleHTML(5)), nil, nil).Extract(st)
	require.NoError(t, err)
	ex, err := NewExtractor(newDoc(t, articleHTML(2)), chunk.New(&chunk.Options{MaxParagraphs: 1}), nil).Extract(st)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, contract.ChunkMapping{{0}, {1}}, ex.Mappings)
	assert.Equal(t, "page-1", st.PageID())
}

func TestQuizContent(t *testing.T) {
	d := newDoc(t, articleHTML(3))
	q, err := NewExtractor(d, nil, nil).Quiz(NewState())
	require.NoError(t, err)
	assert.Equal(t, "Test Article", q.Title)
	assert.Equal(t, 3, q.ParagraphCount)
	assert.Equal(t, 1, q.SegmentCount)
	assert.Equal(t, para(2), q.Paragraphs[2])
}
