// Package gemini 以 Gemini 多轮对话实现生成会话（google.golang.org/genai）。
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"halo/pkg/contract"
)

// Options: Gemini API 最小必需。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// BaseURL 可覆盖 API 端点（代理或测试桩）。
	BaseURL string `json:"base_url,omitempty"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float32 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Factory 持有共享的 genai 客户端；每个会话是一段独立对话。
type Factory struct {
	client *genai.Client
	model  string
	temp   *float32
}

// New 从原样 JSON 选项构造工厂。
func New(ctx context.Context, raw json.RawMessage) (*Factory, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions.BaseURL = opts.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w: %v", contract.ErrInvalidInput, err)
	}
	return &Factory{client: client, model: opts.Model, temp: opts.Temperature}, nil
}

// Create 开启一段新对话。SystemPrompt 作为系统指令。
func (f *Factory) Create(ctx context.Context, so contract.SessionOptions) (contract.Session, error) {
	cfg := f.config(so, nil)
	chat, err := f.client.Chats.Create(ctx, f.model, cfg, nil)
	if err != nil {
		return nil, mapErr(err)
	}
	return &session{f: f, opts: so, chat: chat}, nil
}

func (f *Factory) config(so contract.SessionOptions, schema json.RawMessage) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{Temperature: f.temp}
	if s := strings.TrimSpace(so.SystemPrompt); s != "" {
		cfg.SystemInstruction = genai.NewContentFromText(s, genai.RoleUser)
	}
	if len(schema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schema
	}
	return cfg
}

type session struct {
	f    *Factory
	opts contract.SessionOptions

	mu     sync.Mutex
	chat   *genai.Chat
	closed bool
}

// Prompt 在对话中发送一条用户消息。带 Schema 的调用以当前历史另开一段 JSON 模式对话并沿用之。
func (s *session) Prompt(ctx context.Context, text string, pc *contract.PromptConfig) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", contract.ErrSessionClosed
	}
	chat := s.chat
	s.mu.Unlock()

	if pc != nil && len(pc.ResponseSchema) > 0 {
		c, err := s.f.client.Chats.Create(ctx, s.f.model, s.f.config(s.opts, pc.ResponseSchema), chat.History(true))
		if err != nil {
			return "", mapErr(err)
		}
		chat = c
		s.mu.Lock()
		s.chat = c
		s.mu.Unlock()
	}
	resp, err := chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", mapErr(err)
	}
	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("gemini: empty candidate: %w", contract.ErrResponseInvalid)
	}
	return out, nil
}

func (s *session) Destroy() {
	s.mu.Lock()
	s.closed = true
	s.chat = nil
	s.mu.Unlock()
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// mapErr 将 genai.APIError 归入错误分类：429→限流，5xx/408→网络，其余→生成失败。
func mapErr(err error) error {
	var ae genai.APIError
	if !errors.As(err, &ae) {
		var pae *genai.APIError
		if !errors.As(err, &pae) {
			return fmt.Errorf("gemini: %w: %v", contract.ErrGeneration, err)
		}
		ae = *pae
	}
	msg := strings.TrimSpace(ae.Message)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case ae.Code == http.StatusTooManyRequests:
		return fmt.Errorf("gemini: %s: %w", msg, contract.ErrRateLimited)
	case ae.Code == http.StatusRequestTimeout || ae.Code/100 == 5:
		return upstreamError{status: ae.Code, msg: msg}
	default:
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, msg, contract.ErrGeneration)
	}
}

var (
	_ contract.SessionFactory = (*Factory)(nil)
	_ contract.UpstreamError  = upstreamError{}
)
