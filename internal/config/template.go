package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock 会话与合理限额（本地/离线调试友好）；
// - 默认输入为 STDIN（"-"），Writer 输出到 ./out 目录；
// - 组件名采用仓库内置实现；静态标签页无选项，字幕拉取默认关闭；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:     []string{"-"},
		MaxRetries: 2,
		CacheSize:  d.CacheSize,
		Logging:    Logging{Level: "info"},
		Components: d.Components,
		LLM:        "mock",
		Provider: map[string]Provider{
			"mock": {
				Client: "mock",
				// 包含所有常用 mock 选项键（可为空）
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":""}`),
				Limits:  Limits{RPM: 60, TPM: 100000, MaxTokensPerReq: 4096},
			},
			"flaky": {
				Client:  "flaky",
				Options: json.RawMessage(`{"prefix":"","log_path":""}`),
			},
			"openai": {
				Client: "openai",
				// 覆盖全部 OpenAI 选项键，值可为空/默认
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			},
			"gemini": {
				Client: "gemini",
				// 覆盖全部 Gemini 选项键，值可为空/默认
				Options: json.RawMessage(`{
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "base_url": "",
  "timeout_seconds": 60,
  "temperature": null
}`),
				Limits: Limits{RPM: 15, TPM: 250000, MaxTokensPerReq: 0},
			},
		},
		Chunk:      Chunk{MaxChars: 1600, MaxParagraphs: 4},
		SettingsDB: "halo.db",
		Serve:      d.Serve,
	}
	// Options：包含所有键（值可为空/默认），确保键存在。
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"],
  "extensions": [".html", ".htm"],
  "timeout_seconds": 30,
  "user_agent": ""
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "suffix": ".halo",
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	// static 标签页没有配置项；切换为 browser 时可填 control_url/headless/bin/url。
	cfg.Options.Tab = json.RawMessage(`{}`)
	cfg.Options.Transcript = json.RawMessage(`{
  "api_key": "",
  "api_key_env": "RAPIDAPI_KEY",
  "host": "",
  "base_url": "",
  "timeout_seconds": 30
}`)
	return cfg
}
