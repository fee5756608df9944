// Package mock 提供无网络的生成会话，用于联调与测试。
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"halo/internal/prompt"
	"halo/pkg/contract"
)

// Options: 调试配置（均可选）。
type Options struct {
	// Prefix 加在每个改写段落之前，默认 "[MOCK]"。
	Prefix string `json:"prefix"`
	// APIKey 仅用于限流分组，不参与任何请求。
	APIKey string `json:"api_key"`
	// ResponseMode:
	//  - "paragraphs"（默认）：逐段加前缀后以空行拼接，段数与输入一致；
	//  - "single": 所有段落合并为一段（触发多余元素隐藏）；
	//  - "echo": 原样返回完整提示词。
	ResponseMode string `json:"response_mode,omitempty"`
	// FailCreateAfter>0 时，第 FailCreateAfter+1 次创建会话失败。
	FailCreateAfter int `json:"fail_create_after,omitempty"`
	// FailOn 非空时，正文包含该子串的提示返回错误。
	FailOn string `json:"fail_on,omitempty"`
	// Quiz 为带响应 Schema 的提示返回的 JSON；为空时使用内置测验。
	Quiz json.RawMessage `json:"quiz,omitempty"`
}

// Factory 创建 mock 会话。
type Factory struct {
	opts    Options
	created atomic.Int32

	mu       sync.Mutex
	sessions []*Session
}

// New 从原样 JSON 选项构造工厂。
func New(raw json.RawMessage) (*Factory, error) {
	var o Options
	if len(raw) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("mock options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "[MOCK]"
	}
	switch o.ResponseMode {
	case "":
		o.ResponseMode = "paragraphs"
	case "paragraphs", "single", "echo":
	default:
		return nil, fmt.Errorf("mock: unknown response_mode %q: %w", o.ResponseMode, contract.ErrInvalidInput)
	}
	return &Factory{opts: o}, nil
}

// Create 实现 contract.SessionFactory。
func (f *Factory) Create(ctx context.Context, _ contract.SessionOptions) (contract.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(f.created.Add(1))
	if f.opts.FailCreateAfter > 0 && n > f.opts.FailCreateAfter {
		return nil, errors.New("mock: model unavailable")
	}
	s := &Session{opts: f.opts}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions 返回已创建的会话（测试用于检查销毁与调用次数）。
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Session 为单个 mock 会话。
type Session struct {
	opts      Options
	prompts   atomic.Int32
	destroyed atomic.Int32
}

// Prompts 返回已处理的提示次数。
func (s *Session) Prompts() int { return int(s.prompts.Load()) }

// Destroyed 返回 Destroy 被调用的次数。
func (s *Session) Destroyed() int { return int(s.destroyed.Load()) }

func (s *Session) Prompt(ctx context.Context, text string, pc *contract.PromptConfig) (string, error) {
	if s.destroyed.Load() > 0 {
		return "", contract.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.prompts.Add(1)
	if pc != nil && len(pc.ResponseSchema) > 0 {
		if len(s.opts.Quiz) > 0 {
			return string(s.opts.Quiz), nil
		}
		return defaultQuiz, nil
	}
	body, ok := prompt.Body(text)
	if s.opts.FailOn != "" && strings.Contains(body, s.opts.FailOn) {
		return "", fmt.Errorf("mock: refused prompt: %w", contract.ErrGeneration)
	}
	if !ok || s.opts.ResponseMode == "echo" {
		return text, nil
	}
	parts := strings.Split(body, prompt.ParagraphSeparator)
	if s.opts.ResponseMode == "single" {
		return s.opts.Prefix + " " + strings.Join(parts, " "), nil
	}
	for i, p := range parts {
		parts[i] = s.opts.Prefix + " " + p
	}
	return prompt.Join(parts), nil
}

func (s *Session) Destroy() { s.destroyed.Add(1) }

const defaultQuiz = `{
  "title": "Mock Quiz",
  "questions": [
    {"question": "What is the main idea?", "type": "short-answer", "answerText": "The main idea is the topic of the page.", "explanation": "Look at the first paragraph."},
    {"question": "Is the text about a real place?", "type": "multiple-choice", "options": ["Yes", "No", "Not stated"], "answerIndex": 0, "explanation": "The text names the place."}
  ]
}`

var (
	_ contract.SessionFactory = (*Factory)(nil)
	_ contract.Session        = (*Session)(nil)
)
