package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/TOML 键使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Inputs: 页面来源（文件、目录、URL 或 "-"）；serve 模式可为空。
	Inputs []string `json:"inputs,omitempty"`
	// Level: CEFR 等级覆盖；为空时使用学习者设置。
	Level string `json:"level,omitempty"`
	// SessionPoolSize: 会话池用户上限覆盖；nil 时使用学习者设置或默认值 4。
	SessionPoolSize *int `json:"session_pool_size,omitempty"`
	// HardwareConcurrency: 硬件并发提示；<=0 使用 CPU 核数。
	HardwareConcurrency int `json:"hardware_concurrency,omitempty"`
	// MaxRetries: 单块可重试失败的最大重试次数（>=0）。0 表示不重试。
	MaxRetries   int `json:"max_retries"`
	RetryDelayMS int `json:"retry_delay_ms,omitempty"`
	// CacheSize: 进程内响应缓存条目数；<=0 关闭。
	CacheSize int     `json:"cache_size"`
	Logging   Logging `json:"logging"`

	// 组件名选择（空则使用默认名；Transcript 为空表示不拉取字幕）。
	Components Components `json:"components"`

	// 会话 Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Chunk      Chunk  `json:"chunk"`
	SettingsDB string `json:"settings_db,omitempty"`
	Serve      Serve  `json:"serve"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader     string `json:"reader"`
	Writer     string `json:"writer"`
	Tab        string `json:"tab"`
	Transcript string `json:"transcript"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader     json.RawMessage `json:"reader,omitempty"`
	Writer     json.RawMessage `json:"writer,omitempty"`
	Tab        json.RawMessage `json:"tab,omitempty"`
	Transcript json.RawMessage `json:"transcript,omitempty"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options,omitempty"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}

// Chunk: 切块上限；<=0 使用默认值。
type Chunk struct {
	MaxChars      int `json:"max_chars"`
	MaxParagraphs int `json:"max_paragraphs"`
}

// Serve: HTTP 桥接服务配置。
type Serve struct {
	Addr string `json:"addr"`
}
