// Package openai 以 OpenAI 兼容的 chat/completions 接口实现生成会话（resty + gjson）。
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"halo/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒）
	Temperature    *float64 `json:"temperature,omitempty"`
	// 第三方兼容（最小）：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头（Azure/OpenRouter 等）
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Factory 共享一个 resty 客户端；会话各自维护消息历史。
type Factory struct {
	rc    *resty.Client
	path  string
	model string
	temp  *float64
}

// New 从原样 JSON 选项构造工厂。
func New(raw json.RawMessage) (*Factory, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(time.Duration(opts.TimeoutSeconds)*time.Second).
		SetHeader("Accept", "application/json").
		SetHeaders(opts.ExtraHeaders)
	if !opts.DisableDefaultAuth {
		rc.SetAuthToken(key)
	}
	path := opts.EndpointPath
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		path = "/" + strings.TrimLeft(path, "/")
	}
	return &Factory{rc: rc, path: path, model: opts.Model, temp: opts.Temperature}, nil
}

// Create 开启一段新对话；无网络调用。
func (f *Factory) Create(ctx context.Context, so contract.SessionOptions) (contract.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{f: f}
	if sp := strings.TrimSpace(so.SystemPrompt); sp != "" {
		s.history = append(s.history, message{Role: "system", Content: sp})
	}
	return s, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

type session struct {
	f       *Factory
	mu      sync.Mutex
	history []message
	closed  bool
}

func (s *session) Prompt(ctx context.Context, text string, pc *contract.PromptConfig) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", contract.ErrSessionClosed
	}
	msgs := append(append([]message(nil), s.history...), message{Role: "user", Content: text})
	s.mu.Unlock()

	req := request{Model: s.f.model, Messages: msgs, Temperature: s.f.temp}
	if pc != nil && len(pc.ResponseSchema) > 0 {
		req.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: &jsonSchema{Name: "halo", Schema: pc.ResponseSchema}}
	}
	resp, err := s.f.rc.R().SetContext(ctx).SetBody(&req).Post(s.f.path)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if err := statusErr(resp.StatusCode(), resp.Body()); err != nil {
		return "", err
	}
	content := gjson.GetBytes(resp.Body(), "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("openai: no content: %w", contract.ErrResponseInvalid)
	}
	out := content.String()

	s.mu.Lock()
	if !s.closed {
		s.history = append(msgs, message{Role: "assistant", Content: out})
	}
	s.mu.Unlock()
	return out, nil
}

func (s *session) Destroy() {
	s.mu.Lock()
	s.closed = true
	s.history = nil
	s.mu.Unlock()
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// statusErr 分类：429 限流；5xx/408 网络；其余 4xx 生成失败。
func statusErr(code int, body []byte) error {
	if code/100 == 2 {
		return nil
	}
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %s: %w", msg, contract.ErrRateLimited)
	case code == http.StatusRequestTimeout || code/100 == 5:
		return upstreamError{status: code, msg: msg}
	default:
		return fmt.Errorf("openai upstream %d: %s: %w", code, msg, contract.ErrGeneration)
	}
}

var (
	_ contract.SessionFactory = (*Factory)(nil)
	_ contract.UpstreamError  = upstreamError{}
)
