package contract

// Chunk: 一次生成调用的输入单元。
// Indexes 与 Texts 等长，Indexes 为抽取序列中的位置（严格递增）。
type Chunk struct {
	Indexes []int
	Texts   []string
}

// Len 返回块内段落数。
func (c Chunk) Len() int { return len(c.Indexes) }

// ChunkMapping: 与块列表平行的索引映射，mappings[i] 即第 i 块的 Indexes。
type ChunkMapping [][]int

// Mappings 从块列表派生平行映射。
func Mappings(chunks []Chunk) ChunkMapping {
	out := make(ChunkMapping, len(chunks))
	for i, c := range chunks {
		idx := make([]int, len(c.Indexes))
		copy(idx, c.Indexes)
		out[i] = idx
	}
	return out
}

// Segments 返回与块列表平行的段落文本。
func Segments(chunks []Chunk) [][]string {
	out := make([][]string, len(chunks))
	for i, c := range chunks {
		ts := make([]string, len(c.Texts))
		copy(ts, c.Texts)
		out[i] = ts
	}
	return out
}

// Progress: 段落级累计进度。Done 单调不减，Percent 为四舍五入百分比。
type Progress struct {
	Done    int `json:"done"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

// NewProgress 计算百分比；Total<=0 时视为 100%。
func NewProgress(done, total int) Progress {
	if total <= 0 {
		return Progress{Done: done, Total: total, Percent: 100}
	}
	return Progress{Done: done, Total: total, Percent: (done*100 + total/2) / total}
}

// ProgressFunc: 进度回调；可在任意 goroutine 调用，但调用本身是串行的。
type ProgressFunc func(Progress)
