package content

import (
	"fmt"
	"strconv"

	"halo/internal/diag"
	"halo/internal/page"
	"halo/internal/prompt"
	"halo/pkg/contract"
)

// Report: 一次回写的统计。
type Report struct {
	Replaced int
	Hidden   int
	// Skipped 为缺失/无效结果而整块跳过的块数。
	Skipped int
	// Short 为因结果段数不足而保持原文的元素数。
	Short int
	// Unchanged 为结果即原文（分派回退）而未改动的元素数。
	Unchanged int
}

// Rewriter 将生成结果写回文档，并支持还原。
type Rewriter struct {
	doc    *page.Document
	logger *diag.Logger
}

// NewRewriter 创建 Rewriter。
func NewRewriter(doc *page.Document, logger *diag.Logger) *Rewriter {
	return &Rewriter{doc: doc, logger: logger}
}

// Replace 按块映射回写生成结果。
// 与原文拼接完全相同的结果（分派回退）整块保持不动。
// 状态为空时返回 ErrNoActiveExtraction 且不做任何修改。
func (r *Rewriter) Replace(st *State, transformed []string) (Report, error) {
	var (
		rep Report
		err error
	)
	pageID := st.PageID()
	timer := r.logger.StartWithKV("content.rewrite", "replace paragraphs", pageID, "",
		map[string]string{"segments": strconv.Itoa(len(transformed))})
	st.with(func(elems []Element, mappings contract.ChunkMapping, lg ledger) bool {
		if len(elems) == 0 || len(mappings) == 0 {
			err = fmt.Errorf("replace paragraphs: %w", contract.ErrNoActiveExtraction)
			return false
		}
		for i, idxs := range mappings {
			if i >= len(transformed) || transformed[i] == "" {
				rep.Skipped++
				r.logger.Warn("content.rewrite", "missing or invalid segment", map[string]string{"segment": strconv.Itoa(i)})
				continue
			}
			if transformed[i] == originalChunk(elems, idxs) {
				rep.Unchanged += len(idxs)
				continue
			}
			r.applyChunk(elems, lg, i, idxs, Reconcile(transformed[i], len(idxs)), &rep)
		}
		return true
	})
	if err != nil {
		r.logger.ErrorWith("content.rewrite", string(diag.Classify(err)), err.Error(), timer.Since(), pageID, "")
		return rep, err
	}
	timer.Finish(fmt.Sprintf("replaced %d paragraphs", rep.Replaced), int64(rep.Replaced))
	return rep, nil
}

// originalChunk 以空行拼接块内元素的抽取文本；索引越界时返回空串。
func originalChunk(elems []Element, idxs []int) string {
	texts := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		if idx < 0 || idx >= len(elems) {
			return ""
		}
		texts = append(texts, elems[idx].Text)
	}
	return prompt.Join(texts)
}

func (r *Rewriter) applyChunk(elems []Element, lg ledger, seg int, idxs []int, parts []string, rep *Report) {
	if len(parts) > len(idxs) {
		r.logger.DebugStart("content.rewrite", "extra transformed parts dropped", "", strconv.Itoa(seg), map[string]string{
			"parts": strconv.Itoa(len(parts)), "expected": strconv.Itoa(len(idxs)),
		})
	}
	for j, idx := range idxs {
		if idx < 0 || idx >= len(elems) || !r.doc.Valid(elems[idx].Handle) {
			r.logger.Warn("content.rewrite", "missing paragraph", map[string]string{"index": strconv.Itoa(idx)})
			continue
		}
		el := &elems[idx]
		lg.capture(el, func() string { return r.doc.TextContent(el.Handle) })
		switch {
		case j < len(parts):
			r.doc.SetTextContent(el.Handle, parts[j])
			if r.doc.Display(el.Handle) == "none" {
				r.doc.SetDisplay(el.Handle, "")
			}
			rep.Replaced++
		case len(parts) == 1 && len(idxs) > 1:
			// 单段结果对应多元素：首元素已得到全文，其余隐藏但保留文本
			r.doc.SetDisplay(el.Handle, "none")
			rep.Hidden++
		default:
			rep.Short++
			r.logger.Warn("content.rewrite", "no transformed part for paragraph", map[string]string{
				"segment": strconv.Itoa(seg), "index": strconv.Itoa(idx),
				"parts": strconv.Itoa(len(parts)), "expected": strconv.Itoa(len(idxs)),
			})
		}
	}
}

// Restore 将本页面会话内所有捕获过原文的元素恢复并取消隐藏，然后清空状态。
// 返回恢复的元素数；没有抽取结果时为 no-op。
func (r *Rewriter) Restore(st *State) int {
	restored := 0
	st.with(func(_ []Element, _ contract.ChunkMapping, lg ledger) bool {
		lg.each(func(h page.Handle, original string) {
			if !r.doc.Valid(h) {
				return
			}
			r.doc.SetTextContent(h, original)
			if r.doc.Display(h) == "none" {
				r.doc.SetDisplay(h, "")
			}
			restored++
		})
		return false
	})
	st.End()
	r.logger.Start("content.rewrite", "original text restored").Finish("restore", int64(restored))
	return restored
}
