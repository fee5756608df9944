package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"halo/internal/config"
	"halo/internal/diag"
)

func newRootCommand(app *appContext) *cobra.Command {
	root := &cobra.Command{
		Use:           "halo",
		Short:         "Rewrite web pages for English learners at a chosen CEFR level",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&app.configPath, "config", "c", "", "Config file (JSON or TOML); defaults to ./config.json or ./config.toml when present")
	f.StringVar(&app.llm, "llm", "", "Provider name (overrides config)")
	f.StringVar(&app.level, "level", "", "CEFR level A1..C2 (overrides config and learner settings)")
	f.IntVar(&app.poolSize, "pool-size", 0, "Session pool limit (overrides config and learner settings)")
	f.IntVar(&app.maxRetries, "max-retries", -1, "Retries per chunk for retryable failures; 0 disables retries")
	f.StringVar(&app.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.BoolVar(&app.status, "status", true, "Terminal status on stderr (live on a TTY, line by line otherwise)")

	root.AddCommand(newTransformCommand(app))
	root.AddCommand(newQuizCommand(app))
	root.AddCommand(newFocusCommand(app))
	root.AddCommand(newServeCommand(app))
	root.AddCommand(newSettingsCommand(app))
	root.AddCommand(newInitConfigCommand(app))
	return root
}

// loadConfig 按 文件/JSON < ENV < CLI 的优先级合并配置，不做校验。
func (a *appContext) loadConfig(cmd *cobra.Command, roots []string) (config.Config, error) {
	cfg := config.Defaults()
	var raw []byte
	if s := os.Getenv(config.EnvPrefix + "CONFIG_JSON"); s != "" {
		raw = []byte(s)
	}
	path := a.configPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, name := range []string{"config.json", "config.toml"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path != "" || len(raw) > 0 {
		base, err := config.Load(path, raw)
		if err != nil {
			return cfg, setupError("config parse failed", err)
		}
		cfg = config.Merge(cfg, base)
	}

	env, err := config.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, setupError("environment parse failed", err)
	}
	cfg = config.Merge(cfg, env)

	cli := config.Unset()
	flags := cmd.Flags()
	cli.LLM = a.llm
	if flags.Changed("level") {
		cli.Level = a.level
	}
	if flags.Changed("pool-size") {
		n := a.poolSize
		cli.SessionPoolSize = &n
	}
	if flags.Changed("max-retries") {
		cli.MaxRetries = a.maxRetries
	}
	if flags.Changed("log-level") {
		cli.Logging.Level = a.logLevel
	}
	if len(roots) > 0 {
		cli.Inputs = roots
	}
	cfg = config.Merge(cfg, cli)

	// 使用最终配置中的日志级别重建 logger
	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		a.logger = diag.NewLogger(a.corrID, lv)
	}
	return cfg, nil
}

// validate 校验配置；失败时将有效配置打印到 stderr 以便诊断。
func (a *appContext) validate(cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		a.dumpConfig(cfg)
		return setupError("config validation failed", err)
	}
	return nil
}

// assemble 校验并装配运行期组件；调用方负责 Close。
func (a *appContext) assemble(ctx context.Context, cfg config.Config) (*config.Runtime, error) {
	if err := a.validate(cfg); err != nil {
		return nil, err
	}
	if err := preflightCheckOutputDir(cfg); err != nil {
		return nil, setupError("output directory is not writable", err)
	}
	rt, err := config.Assemble(ctx, cfg, a.logger)
	if err != nil {
		return nil, setupError("assemble failed", err)
	}
	a.debugConfig(cfg)
	return rt, nil
}

func (a *appContext) dumpConfig(c config.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(a.stderr, "Effective config:\n%s\n", b)
}

// debugConfig 输出运行时配置摘要（不含密钥）。
func (a *appContext) debugConfig(cfg config.Config) {
	kv := map[string]string{
		"inputs_count": strconv.Itoa(len(cfg.Inputs)),
		"level":        cfg.Level,
		"max_retries":  strconv.Itoa(cfg.MaxRetries),
		"llm":          cfg.LLM,
		"reader":       cfg.Components.Reader,
		"writer":       cfg.Components.Writer,
		"tab":          cfg.Components.Tab,
		"transcript":   cfg.Components.Transcript,
	}
	if cfg.SessionPoolSize != nil {
		kv["session_pool_size"] = strconv.Itoa(*cfg.SessionPoolSize)
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL  string `json:"base_url"`
			Model    string `json:"model"`
			Endpoint string `json:"endpoint_path"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
		if s.Endpoint != "" {
			kv["endpoint_path"] = s.Endpoint
		}
	}
	a.logger.DebugStart("config", "effective", "", "", kv)
}

// preflightCheckOutputDir: Writer 为 fs 时，启动前检查输出目录可写性。
// 目录已存在则尝试创建并删除临时文件；不存在则检查父目录可写。
func preflightCheckOutputDir(cfg config.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = config.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 未指定时交给装配阶段按实现自行报错
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("cannot determine parent directory: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("parent path is not a directory: %s", parent)
	}
	tmp, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmp)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
