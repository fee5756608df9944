package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix 为所有配置类环境变量的前缀。
const EnvPrefix = "HALO_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由文件/ENV/CLI 提供）；Level 留空以便学习者设置生效。
func Defaults() Config {
	return Config{
		MaxRetries: 0,
		CacheSize:  256,
		Logging:    Logging{Level: "info"},
		Components: Components{
			Reader: "source",
			Writer: "fs",
			Tab:    "static",
		},
		Serve: Serve{Addr: "127.0.0.1:8787"},
	}
}

// Load 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 扩展名为 .toml 的文件按 TOML 解析，其余按 JSON。
func Load(path string, raw []byte) (Config, error) {
	switch {
	case len(raw) > 0:
		return decodeJSON(raw)
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			return DecodeTOML(b)
		}
		return decodeJSON(b)
	default:
		return Config{}, errors.New("no config source provided")
	}
}

// DecodeTOML 将 TOML 文档转为 JSON 后走同一条严格解码路径，
// 以便 provider.options 等原样子树保持 json.RawMessage。
func DecodeTOML(b []byte) (Config, error) {
	var tree map[string]any
	if err := toml.Unmarshal(b, &tree); err != nil {
		return Config{}, fmt.Errorf("toml: %w", err)
	}
	js, err := json.Marshal(tree)
	if err != nil {
		return Config{}, err
	}
	return decodeJSON(js)
}

// EncodeTOML 将配置渲染为 TOML。
func EncodeTOML(c Config) ([]byte, error) {
	js, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return toml.Marshal(integers(tree))
}

// integers 将 json.Number 还原为 int64/float64，避免整数被写成 TOML 浮点。
func integers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = integers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = integers(e)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}

func decodeJSON(b []byte) (Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.Level); s != "" {
		out.Level = s
	}
	if over.SessionPoolSize != nil {
		n := *over.SessionPoolSize
		out.SessionPoolSize = &n
	}
	if over.HardwareConcurrency != 0 {
		out.HardwareConcurrency = over.HardwareConcurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）；约定 <0 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.RetryDelayMS != 0 {
		out.RetryDelayMS = over.RetryDelayMS
	}
	if over.CacheSize != 0 {
		out.CacheSize = over.CacheSize
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}

	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	if over.Components.Tab != "" {
		out.Components.Tab = over.Components.Tab
	}
	if over.Components.Transcript != "" {
		out.Components.Transcript = over.Components.Transcript
	}

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = v
		}
		out.Provider = prov
	}

	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	if len(over.Options.Tab) > 0 {
		out.Options.Tab = cloneRaw(over.Options.Tab)
	}
	if len(over.Options.Transcript) > 0 {
		out.Options.Transcript = cloneRaw(over.Options.Transcript)
	}

	if s := strings.TrimSpace(over.LLM); s != "" {
		out.LLM = s
	}
	if over.Chunk.MaxChars != 0 {
		out.Chunk.MaxChars = over.Chunk.MaxChars
	}
	if over.Chunk.MaxParagraphs != 0 {
		out.Chunk.MaxParagraphs = over.Chunk.MaxParagraphs
	}
	if s := strings.TrimSpace(over.SettingsDB); s != "" {
		out.SettingsDB = s
	}
	if s := strings.TrimSpace(over.Serve.Addr); s != "" {
		out.Serve.Addr = s
	}
	return out
}

// Unset 返回一个“全部未覆盖”的 Config，用作 ENV/CLI 覆盖层的起点。
func Unset() Config { return Config{MaxRetries: -1} }

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 支持：INPUTS, LEVEL, SESSION_POOL_SIZE, HARDWARE_CONCURRENCY, MAX_RETRIES,
// RETRY_DELAY_MS, CACHE_SIZE, LLM, LOG_LEVEL, SETTINGS_DB, SERVE_ADDR,
// CHUNK_MAX_CHARS, CHUNK_MAX_PARAGRAPHS, COMPONENTS_*, OPTIONS_*_JSON
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	prov := map[string]Provider{}
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) || len(key) == len(EnvPrefix) {
			continue
		}
		nk := strings.TrimPrefix(key, EnvPrefix)
		tv := strings.TrimSpace(val)
		setInt := func(dst *int) error {
			if tv == "" {
				return nil
			}
			v, err := atoi(tv)
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = v
			return nil
		}
		var err error
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "LEVEL":
			over.Level = tv
		case "SESSION_POOL_SIZE":
			if tv != "" {
				var n int
				if err = setInt(&n); err == nil {
					over.SessionPoolSize = &n
				}
			}
		case "HARDWARE_CONCURRENCY":
			err = setInt(&over.HardwareConcurrency)
		case "MAX_RETRIES":
			err = setInt(&over.MaxRetries)
		case "RETRY_DELAY_MS":
			err = setInt(&over.RetryDelayMS)
		case "CACHE_SIZE":
			err = setInt(&over.CacheSize)
		case "CHUNK_MAX_CHARS":
			err = setInt(&over.Chunk.MaxChars)
		case "CHUNK_MAX_PARAGRAPHS":
			err = setInt(&over.Chunk.MaxParagraphs)
		case "LLM":
			over.LLM = tv
		case "LOG_LEVEL":
			over.Logging.Level = tv
		case "SETTINGS_DB":
			over.SettingsDB = tv
		case "SERVE_ADDR":
			over.Serve.Addr = tv
		case "COMPONENTS_READER":
			over.Components.Reader = tv
		case "COMPONENTS_WRITER":
			over.Components.Writer = tv
		case "COMPONENTS_TAB":
			over.Components.Tab = tv
		case "COMPONENTS_TRANSCRIPT":
			over.Components.Transcript = tv
		case "OPTIONS_READER_JSON":
			over.Options.Reader = rawOrNil(tv)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = rawOrNil(tv)
		case "OPTIONS_TAB_JSON":
			over.Options.Tab = rawOrNil(tv)
		case "OPTIONS_TRANSCRIPT_JSON":
			over.Options.Transcript = rawOrNil(tv)
		default:
			if rest, ok := strings.CutPrefix(nk, "PROVIDER__"); ok {
				err = providerEnv(prov, rest, tv)
			}
		}
		if err != nil {
			return Config{}, err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// providerEnv 解析 PROVIDER__<name>__<FIELD>；空值不覆盖。
func providerEnv(prov map[string]Provider, rest, val string) error {
	name, field, ok := strings.Cut(rest, "__")
	if !ok || name == "" || val == "" {
		return nil
	}
	p := prov[name]
	var err error
	switch field {
	case "CLIENT":
		p.Client = val
	case "LIMITS_RPM":
		p.Limits.RPM, err = atoi(val)
	case "LIMITS_TPM":
		p.Limits.TPM, err = atoi(val)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		p.Limits.MaxTokensPerReq, err = atoi(val)
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("env provider %s options: invalid json", name)
		}
		p.Options = json.RawMessage(val)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("env provider %s %s: %w", name, field, err)
	}
	prov[name] = p
	return nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
