// Package flaky 提供按调用次数注入故障的会话，用于验证重试与回退路径。
package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"halo/internal/prompt"
	"halo/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Factory 的所有会话共享一个调用计数：
// 第一次 Prompt 返回 ErrRateLimited；第二次返回空响应；之后逐段加前缀返回。
type Factory struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New 构造 Factory。
func New(raw json.RawMessage) (*Factory, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Factory{prefix: o.Prefix, logPath: o.LogPath}, nil
}

func (f *Factory) Create(ctx context.Context, _ contract.SessionOptions) (contract.Session, error) {
	return &session{f: f}, ctx.Err()
}

func (f *Factory) log(s string) {
	if f.logPath == "" {
		return
	}
	fh, err := os.OpenFile(f.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer fh.Close()
	_, _ = fh.WriteString(s + "\n")
}

type session struct {
	f      *Factory
	closed atomic.Bool
}

func (s *session) Prompt(ctx context.Context, text string, _ *contract.PromptConfig) (string, error) {
	if s.closed.Load() {
		return "", contract.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch s.f.count.Add(1) {
	case 1:
		s.f.log("rate_limited")
		return "", contract.ErrRateLimited
	case 2:
		s.f.log("empty")
		return "", nil
	}
	s.f.log("ok")
	body, ok := prompt.Body(text)
	if !ok {
		return text, nil
	}
	return s.f.prefix + ": " + body, nil
}

func (s *session) Destroy() { s.closed.Store(true) }

var _ contract.SessionFactory = (*Factory)(nil)
