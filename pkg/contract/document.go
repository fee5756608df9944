package contract

import (
	"context"
	"io"
	"path"
	"strings"
)

// FileID 标识一个页面文档：本地路径（正斜杠、已 Clean）、http(s) URL 或 "stdin"。
type FileID string

// NormalizeFileID 将本地路径统一为正斜杠形式并 Clean；相对/绝对语义保持不变。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// IsURL 报告 id 是否为 http(s) 页面地址。
func (id FileID) IsURL() bool {
	s := strings.ToLower(string(id))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Reader 逐个产出页面原始字节，每个页面回调一次 yield。
// 顺序稳定；rc 由 yield 负责关闭，yield 返回错误时 Reader 会补关一次并停止遍历。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(id FileID, rc io.ReadCloser) error) error
}

// Writer 保存改写后的页面 HTML。
// 目标位置由实现从 id 推导；实现不解析内容，失败直接上抛，不做重试。
type Writer interface {
	Write(ctx context.Context, id FileID, r io.Reader) error
}
