package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"halo/internal/bridge"
	"halo/internal/chunk"
	"halo/internal/content"
	"halo/internal/diag"
	"halo/internal/dispatch"
	"halo/internal/pipeline"
	"halo/internal/prompt"
	"halo/internal/rate"
	"halo/internal/settings"
	"halo/pkg/contract"
	"halo/pkg/registry"
	"halo/plugins/reader/source"
	"halo/plugins/tab/browser"
	"halo/plugins/tab/static"
)

// Validate 对最小必要边界做静态校验。inputs 可为空（serve 模式）。
func Validate(cfg Config) error {
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	level := prompt.DefaultLevel
	if cfg.Level != "" {
		l, err := prompt.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		level = l
	}
	if cfg.SessionPoolSize != nil && *cfg.SessionPoolSize < 1 {
		return errors.New("config: session_pool_size must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.RetryDelayMS < 0 {
		return errors.New("config: retry_delay_ms must be >= 0")
	}
	if cfg.Chunk.MaxChars < 0 || cfg.Chunk.MaxParagraphs < 0 {
		return errors.New("config: chunk limits must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.Session[prov.Client] == nil {
		return fmt.Errorf("config: session client %q not registered", prov.Client)
	}
	maxChars := cfg.Chunk.MaxChars
	if maxChars <= 0 {
		maxChars = chunk.DefaultMaxChars
	}
	if err := (prompt.Budget{MaxTokens: prov.Limits.MaxTokensPerReq}).Check(level, maxChars); err != nil {
		return fmt.Errorf("config: chunk.max_chars: %w", err)
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	if name := effName(cfg.Components.Tab, d.Components.Tab); registry.Tab[name] == nil {
		return fmt.Errorf("config: tab %q not registered", name)
	}
	if name := cfg.Components.Transcript; name != "" && registry.Transcript[name] == nil {
		return fmt.Errorf("config: transcript %q not registered", name)
	}
	return nil
}

// Runtime 为装配结果；Close 释放浏览器连接与设置库。
type Runtime struct {
	Components pipeline.Components
	Settings   pipeline.Settings
	Tabs       contract.TabProvider

	closers []func() error
}

// Close 逆序释放资源（幂等）。
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Assemble 构造组件、运行期设置与限流 Gate+Key。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(ctx context.Context, cfg Config, logger *diag.Logger) (_ *Runtime, err error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	d := Defaults()
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: reader options: %w", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](cfg.Options.Writer)
	if err != nil {
		return nil, fmt.Errorf("config: writer options: %w", err)
	}
	copts := content.Options{
		Chunk:  &chunk.Options{MaxChars: cfg.Chunk.MaxChars, MaxParagraphs: cfg.Chunk.MaxParagraphs},
		Logger: logger,
	}
	tabs, err := registry.Tab[effName(cfg.Components.Tab, d.Components.Tab)](ctx, cfg.Options.Tab, copts, logger)
	if err != nil {
		return nil, fmt.Errorf("config: tab: %w", err)
	}
	if c, ok := tabs.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, c.Close)
	}
	rt.Tabs = tabs

	var tr contract.TranscriptFetcher
	if name := cfg.Components.Transcript; name != "" {
		if tr, err = registry.Transcript[name](cfg.Options.Transcript); err != nil {
			return nil, fmt.Errorf("config: transcript options: %w", err)
		}
	}

	// 会话工厂
	prov := cfg.Provider[cfg.LLM]
	factory, err := registry.Session[prov.Client](ctx, prov.Options)
	if err != nil {
		return nil, fmt.Errorf("config: provider %s: %w", cfg.LLM, err)
	}

	var learner *settings.Store
	if p := strings.TrimSpace(cfg.SettingsDB); p != "" {
		if learner, err = settings.Open(ctx, p, logger); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, learner.Close)
	}

	cache, err := dispatch.NewCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	var (
		gate rate.Gate
		key  rate.LimitKey
	)
	lim := rate.Limits{RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq}
	if lim.Enabled() {
		// 默认使用 API Key 派生分组键（更稳定）；若失败则退化为 provider 名称。
		k, derr := rate.DeriveKey(prov.Client, prov.Options)
		if derr != nil {
			k = rate.LimitKey(cfg.LLM)
		}
		key = k
		gate = rate.NewGate(map[rate.LimitKey]rate.Limits{key: lim}, nil)
	}

	var level prompt.Level
	if cfg.Level != "" {
		level, _ = prompt.ParseLevel(cfg.Level)
	}
	var pool *int
	if cfg.SessionPoolSize != nil {
		n := *cfg.SessionPoolSize
		pool = &n
	}

	rt.Components = pipeline.Components{
		Bridge:      bridge.New(tabs, logger),
		Sessions:    factory,
		Transcripts: tr,
		Open:        opener(tabs, r),
		Writer:      w,
		Learner:     learner,
	}
	rt.Settings = pipeline.Settings{
		Inputs:       cloneStrings(cfg.Inputs),
		Level:        level,
		PoolLimit:    pool,
		HardwareHint: cfg.HardwareConcurrency,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		Cache:        cache,
		MaxTokens:    prov.Limits.MaxTokensPerReq,
		// BytesPerToken: 由估算器默认 4；此处保持 0 使用默认。
		BytesPerToken: 0,
		Gate:          gate,
		GateKey:       key,
		LLM:           cfg.LLM,
	}
	return rt, nil
}

// opener 按标签页提供方类型打开批处理输入：静态文档经 Reader 读取，
// 真实浏览器直接导航到 URL（本地路径转为 file:// 地址）。
func opener(tabs contract.TabProvider, r contract.Reader) func(ctx context.Context, roots []string) ([]contract.Tab, error) {
	switch p := tabs.(type) {
	case *static.Provider:
		return func(ctx context.Context, roots []string) ([]contract.Tab, error) {
			loaded, err := p.Load(ctx, r, roots, source.URLFor)
			out := make([]contract.Tab, 0, len(loaded))
			for _, t := range loaded {
				out = append(out, t)
			}
			return out, err
		}
	case *browser.Provider:
		return func(ctx context.Context, roots []string) ([]contract.Tab, error) {
			out := make([]contract.Tab, 0, len(roots))
			for _, root := range roots {
				url := root
				switch {
				case root == "-" || contract.FileID(root) == source.StdinID:
					return out, fmt.Errorf("browser tab cannot read stdin: %w", contract.ErrInvalidInput)
				case !source.IsURL(root):
					url = source.URLFor(contract.NormalizeFileID(root))
				}
				t, err := p.Open(ctx, url)
				if err != nil {
					return out, err
				}
				out = append(out, t)
			}
			return out, nil
		}
	default:
		return nil
	}
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
