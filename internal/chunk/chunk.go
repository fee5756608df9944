// Package chunk 将抽取出的段落序列按字符数与段落数上限切成有序块。
package chunk

import (
	"unicode/utf8"

	"halo/pkg/contract"
)

const (
	// DefaultMaxChars: 单块字符上限（不含分隔符）。
	DefaultMaxChars = 1600
	// DefaultMaxParagraphs: 单块段落上限。
	DefaultMaxParagraphs = 4
)

// Options 为 Chunker 的可选配置。<=0 的字段采用默认值。
type Options struct {
	MaxChars      int `json:"max_chars"`
	MaxParagraphs int `json:"max_paragraphs"`
}

// Chunker 是纯函数式切块器，无内部状态，可并发使用。
type Chunker struct {
	maxChars int
	maxParas int
}

// New 创建 Chunker。
func New(opts *Options) *Chunker {
	c := &Chunker{maxChars: DefaultMaxChars, maxParas: DefaultMaxParagraphs}
	if opts != nil {
		if opts.MaxChars > 0 {
			c.maxChars = opts.MaxChars
		}
		if opts.MaxParagraphs > 0 {
			c.maxParas = opts.MaxParagraphs
		}
	}
	return c
}

// Paragraphs 按文档顺序贪心装块：
//   - 当前块长度 + 下一段长度超过字符上限，或当前块已满段落上限时，先收口当前块；
//   - 空文本直接跳过（其索引不出现在任何块中）；
//   - 单段本身超过字符上限时独占一块，不拆分；
//   - 最后一个非空块收口输出。
//
// 长度以字符（rune）计。
func (c *Chunker) Paragraphs(texts []string) []contract.Chunk {
	var (
		out    []contract.Chunk
		cur    contract.Chunk
		curLen int
	)
	flush := func() {
		if len(cur.Indexes) == 0 {
			return
		}
		out = append(out, cur)
		cur = contract.Chunk{}
		curLen = 0
	}
	for i, text := range texts {
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)
		if curLen+n > c.maxChars || len(cur.Indexes) >= c.maxParas {
			flush()
		}
		cur.Indexes = append(cur.Indexes, i)
		cur.Texts = append(cur.Texts, text)
		curLen += n
	}
	flush()
	return out
}

// Paragraphs 使用默认上限切块。
func Paragraphs(texts []string) []contract.Chunk { return New(nil).Paragraphs(texts) }
