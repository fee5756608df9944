package content

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"halo/internal/chunk"
	"halo/internal/diag"
	"halo/internal/page"
	"halo/pkg/contract"
)

// innerBreaks 匹配段落内部的空行；抽取文本中将其压成单个换行，
// 使以空行拼接的块总能拆回原段数。
var innerBreaks = regexp.MustCompile(`\n\s*\n`)

// MainSelectors 按优先级列出正文根节点选择器；第一个有匹配的选择器胜出。
var MainSelectors = []string{
	"main",
	"article",
	`[role="main"]`,
	".article-content",
	".post-content",
	".entry-content",
	"#content",
	".content",
}

var (
	fallbackSelector  = page.MustCompile("div, section, article")
	paragraphSelector = page.MustCompile("p, h1, h2, h3, h4, h5, h6, blockquote")
	excludedAncestors = page.MustCompile(strings.Join([]string{
		"header", "footer", "nav", "aside", "form", "dialog",
		"[role='navigation']", "[role='banner']", "[role='contentinfo']",
		"[data-testid='InlineNewsletter']", "[data-testid='subscribe']",
		"[aria-label='related']", "[aria-label='breadcrumb']",
	}, ", "))
	excludedClass = regexp.MustCompile(`(?i)(nav|menu|footer|header|subscribe|promo|share|related|newsletter)`)
)

// MinParagraphChars: 裁剪后文本须严格超过该字符数才视为段落。
const MinParagraphChars = 20

// Extraction: EXTRACT_CONTENT 的结果。
type Extraction struct {
	Segments       [][]string
	SegmentCount   int
	ParagraphCount int
	Mappings       contract.ChunkMapping
	Delimiter      string
}

// QuizContent: EXTRACT_QUIZ_CONTENT 的结果。
type QuizContent struct {
	Title          string
	Paragraphs     []string
	ParagraphCount int
	SegmentCount   int
}

// Extractor 在文档中定位正文并产出有序段落与切块。
type Extractor struct {
	doc     *page.Document
	chunker *chunk.Chunker
	logger  *diag.Logger
}

// NewExtractor 创建抽取器；chunker 为 nil 时使用默认上限。
func NewExtractor(doc *page.Document, chunker *chunk.Chunker, logger *diag.Logger) *Extractor {
	if chunker == nil {
		chunker = chunk.New(nil)
	}
	return &Extractor{doc: doc, chunker: chunker, logger: logger}
}

// Root 返回正文根节点：优先选择器命中，否则取裁剪后文本最长的通用容器（并列取先出现者）。
func (e *Extractor) Root() (page.Handle, error) {
	for _, sel := range MainSelectors {
		h, err := e.doc.Query(sel)
		if err != nil {
			return page.NoHandle, err
		}
		if h != page.NoHandle {
			return h, nil
		}
	}
	cands, err := e.doc.QueryAll(fallbackSelector)
	if err != nil {
		return page.NoHandle, err
	}
	best, bestLen := page.NoHandle, 0
	for _, h := range cands {
		if n := utf8.RuneCountInString(strings.TrimSpace(e.doc.TextContent(h))); n > bestLen {
			best, bestLen = h, n
		}
	}
	if best == page.NoHandle {
		return page.NoHandle, fmt.Errorf("could not find main content on this page: %w", contract.ErrNoContent)
	}
	return best, nil
}

// include 判定候选元素是否保留。
func (e *Extractor) include(h page.Handle) bool {
	if !e.doc.LaidOut(h) {
		return false
	}
	if e.doc.Closest(h, excludedAncestors) != page.NoHandle {
		return false
	}
	if cls := e.doc.ClassName(h); cls != "" && excludedClass.MatchString(cls) {
		return false
	}
	if v, ok := e.doc.Attr(h, "aria-hidden"); ok && v == "true" {
		return false
	}
	return true
}

// Extract 执行抽取并覆盖 st；根节点下无可用段落时返回 ErrNoContent（状态仍被清空）。
func (e *Extractor) Extract(st *State) (Extraction, error) {
	timer := e.logger.StartWith("content.extract", "extract main content", st.PageID(), "")
	root, err := e.Root()
	if err != nil {
		st.store(nil, nil)
		e.logger.ErrorWith("content.extract", string(diag.Classify(err)), err.Error(), timer.Since(), st.PageID(), "")
		return Extraction{}, err
	}
	cands, err := e.doc.Select(root, paragraphSelector)
	if err != nil {
		st.store(nil, nil)
		return Extraction{}, err
	}
	var elems []Element
	for _, h := range cands {
		if !e.include(h) {
			continue
		}
		text := innerBreaks.ReplaceAllString(strings.TrimSpace(e.doc.TextContent(h)), "\n")
		if utf8.RuneCountInString(text) <= MinParagraphChars {
			continue
		}
		elems = append(elems, Element{Handle: h, Text: text})
	}
	texts := make([]string, len(elems))
	for i, el := range elems {
		texts[i] = el.Text
	}
	chunks := e.chunker.Paragraphs(texts)
	mappings := contract.Mappings(chunks)
	st.store(elems, mappings)
	if len(elems) == 0 {
		err := fmt.Errorf("no readable paragraphs under main content: %w", contract.ErrNoContent)
		e.logger.ErrorWith("content.extract", string(diag.Classify(err)), err.Error(), timer.Since(), st.PageID(), "")
		return Extraction{}, err
	}
	timer.Finish(fmt.Sprintf("found %d paragraphs in %d chunks", len(elems), len(chunks)), int64(len(elems)))
	return Extraction{
		Segments:       contract.Segments(chunks),
		SegmentCount:   len(chunks),
		ParagraphCount: len(elems),
		Mappings:       mappings,
		Delimiter:      contract.DefaultDelimiter,
	}, nil
}

// Quiz 抽取正文并返回测验所需的标题与段落文本。
func (e *Extractor) Quiz(st *State) (QuizContent, error) {
	ex, err := e.Extract(st)
	if err != nil {
		return QuizContent{}, err
	}
	var paras []string
	for _, el := range st.Elements() {
		if t := strings.TrimSpace(el.Text); t != "" {
			paras = append(paras, t)
		}
	}
	return QuizContent{
		Title:          e.doc.Title(),
		Paragraphs:     paras,
		ParagraphCount: len(paras),
		SegmentCount:   ex.SegmentCount,
	}, nil
}
