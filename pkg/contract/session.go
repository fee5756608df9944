package contract

import (
	"context"
	"encoding/json"
)

// IOSpec: 会话期望的输入/输出形态。
type IOSpec struct {
	Type      string   `json:"type"`
	Languages []string `json:"languages,omitempty"`
}

// SessionOptions: 创建会话时的参数。
type SessionOptions struct {
	ExpectedInputs  []IOSpec
	ExpectedOutputs []IOSpec
	// SystemPrompt 可选；为空时由实现使用自身默认值。
	SystemPrompt string
}

// TextSessionOptions 返回纯文本（英语）会话的默认选项。
func TextSessionOptions() SessionOptions {
	en := []string{"en"}
	return SessionOptions{
		ExpectedInputs:  []IOSpec{{Type: "text", Languages: en}},
		ExpectedOutputs: []IOSpec{{Type: "text", Languages: en}},
	}
}

// PromptConfig: 单次调用的可选约束。
type PromptConfig struct {
	// ResponseSchema: 期望的 JSON Schema；非空时实现应要求结构化 JSON 输出。
	ResponseSchema json.RawMessage
}

// Session: 有状态的文本生成会话。
// 约束：
//  1. 同一会话同一时刻最多一个 Prompt 在途（由调用方保证串行）；
//  2. 应尊重 ctx 取消；
//  3. Destroy 幂等，销毁后 Prompt 返回 ErrSessionClosed。
type Session interface {
	Prompt(ctx context.Context, text string, cfg *PromptConfig) (string, error)
	Destroy()
}

// SessionFactory: 生成会话的工厂。失败时返回错误，不得返回半初始化的会话。
type SessionFactory interface {
	Create(ctx context.Context, opts SessionOptions) (Session, error)
}

// SessionFactoryFunc 便于以函数形式提供工厂。
type SessionFactoryFunc func(ctx context.Context, opts SessionOptions) (Session, error)

func (f SessionFactoryFunc) Create(ctx context.Context, opts SessionOptions) (Session, error) {
	return f(ctx, opts)
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
