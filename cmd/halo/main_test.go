package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"halo/internal/config"
	"halo/internal/diag"
	"halo/internal/pipeline"
	"halo/internal/prompt"
)

func article(n int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Tides</title></head><body><main>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d describes how the tide moves along the coast.</p>", i)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

// workdir 切换到临时目录并以 ENV 提供模板配置。
func workdir(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	cfg := config.DefaultTemplateConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	t.Setenv(config.EnvPrefix+"CONFIG_JSON", string(b))
	return dir
}

func stubRun(t *testing.T, fn func(set pipeline.Settings) error) *bool {
	t.Helper()
	called := false
	orig := pipelineRun
	pipelineRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) ([]pipeline.Result, error) {
		called = true
		return nil, fn(set)
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &called
}

func run(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := execute(args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	outDir := filepath.Join(dir, "out")
	if code, _, errs := run("init-config", "--format", "both", outDir); code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	for _, name := range []string{"config.json", "config.toml", ".env"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("%s not generated: %v", name, err)
		}
	}
	for _, name := range []string{"config.json", "config.toml"} {
		cfg, err := config.Load(filepath.Join(outDir, name), nil)
		if err != nil {
			t.Fatalf("%s unreadable: %v", name, err)
		}
		if err := config.Validate(cfg); err != nil {
			t.Fatalf("%s invalid: %v", name, err)
		}
	}
	env, _ := os.ReadFile(filepath.Join(outDir, ".env"))
	if !strings.Contains(string(env), "HALO_PROVIDER__gemini__OPTIONS_JSON=") {
		t.Fatalf(".env template incomplete:\n%s", env)
	}
	// 已存在时不覆盖
	if code, _, _ := run("init-config", outDir); code != exitSetup {
		t.Fatalf("expect %d, got %d", exitSetup, code)
	}
	if code, _, _ := run("init-config", "--format", "yaml", outDir); code != exitSetup {
		t.Fatalf("unknown format should fail with %d", exitSetup)
	}
}

func TestInitConfigDefaultDir(t *testing.T) {
	t.Chdir(t.TempDir())
	if code, _, errs := run("init-config"); code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	if _, err := os.Stat("config.json"); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}

func TestTransformStubbed(t *testing.T) {
	workdir(t, nil)
	called := stubRun(t, func(set pipeline.Settings) error {
		if set.MaxRetries != 2 || set.Level != "" || set.PoolLimit != nil {
			t.Errorf("unexpected settings: %+v", set)
		}
		return nil
	})
	if code, _, errs := run("transform", "--status=false"); code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	if !*called {
		t.Fatal("pipelineRun not called")
	}
}

func TestTransformCLIOverrides(t *testing.T) {
	workdir(t, func(c *config.Config) { c.LLM = "" })
	stubRun(t, func(set pipeline.Settings) error {
		if set.LLM != "mock" || set.Level != prompt.C1 || set.PoolLimit == nil || *set.PoolLimit != 2 || set.MaxRetries != 0 {
			t.Errorf("cli overrides not applied: %+v", set)
		}
		if len(set.Inputs) != 1 || set.Inputs[0] != "-" {
			t.Errorf("inputs not applied: %v", set.Inputs)
		}
		return nil
	})
	code, _, errs := run("transform", "--status=false", "--llm", "mock", "--level", "c1", "--pool-size", "2", "--max-retries", "0", "-")
	if code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
}

func TestTransformEnvOverride(t *testing.T) {
	workdir(t, nil)
	t.Setenv(config.EnvPrefix+"MAX_RETRIES", "0")
	t.Setenv(config.EnvPrefix+"LEVEL", "A1")
	stubRun(t, func(set pipeline.Settings) error {
		if set.MaxRetries != 0 || set.Level != prompt.A1 {
			t.Errorf("env overrides not applied: %+v", set)
		}
		return nil
	})
	if code, _, errs := run("transform", "--status=false"); code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
}

func TestTransformConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	b, _ := json.Marshal(config.DefaultTemplateConfig())
	path := filepath.Join(dir, "cfg.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	called := stubRun(t, func(pipeline.Settings) error { return nil })
	if code, _, errs := run("transform", "--status=false", "--config", path); code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	if !*called {
		t.Fatal("pipelineRun not called")
	}

	// 工作目录下的 config.toml 作为默认配置
	tb, err := config.EncodeTOML(config.DefaultTemplateConfig())
	if err != nil {
		t.Fatalf("encode toml: %v", err)
	}
	if err := os.WriteFile("config.toml", tb, 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	*called = false
	if code, _, errs := run("transform", "--status=false"); code != 0 || !*called {
		t.Fatalf("default config.toml not used: %d %s", code, errs)
	}
}

func TestSetupFailures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if code, _, _ := run("transform", "--config", "missing.json", "-"); code != exitSetup {
			t.Fatalf("expect %d, got %d", exitSetup, code)
		}
	})
	t.Run("validation", func(t *testing.T) {
		workdir(t, func(c *config.Config) {
			c.LLM = ""
			c.Provider = map[string]config.Provider{}
		})
		code, _, errs := run("transform")
		if code != exitSetup || !strings.Contains(errs, "Effective config:") {
			t.Fatalf("expect %d with config dump, got %d: %s", exitSetup, code, errs)
		}
	})
	t.Run("assemble", func(t *testing.T) {
		workdir(t, func(c *config.Config) { c.Options.Reader = json.RawMessage(`{"unknown":1}`) })
		if code, _, _ := run("transform"); code != exitSetup {
			t.Fatalf("expect %d, got %d", exitSetup, code)
		}
	})
	t.Run("no inputs", func(t *testing.T) {
		workdir(t, func(c *config.Config) { c.Inputs = nil })
		if code, _, _ := run("transform"); code != exitSetup {
			t.Fatalf("expect %d, got %d", exitSetup, code)
		}
	})
	t.Run("output dir is a file", func(t *testing.T) {
		workdir(t, nil)
		if err := os.WriteFile("out", []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if code, _, _ := run("transform"); code != exitSetup {
			t.Fatalf("expect %d, got %d", exitSetup, code)
		}
	})
}

func TestTransformPipelineError(t *testing.T) {
	workdir(t, nil)
	stubRun(t, func(pipeline.Settings) error { return errors.New("boom") })
	code, _, errs := run("transform", "--status=false")
	if code != exitRuntime || !strings.Contains(errs, "boom") {
		t.Fatalf("expect %d with message, got %d: %s", exitRuntime, code, errs)
	}
}

// 端到端：mock 会话改写本地页面并经 fs writer 落盘
func TestTransformEndToEnd(t *testing.T) {
	workdir(t, nil)
	if err := os.WriteFile("page.html", []byte(article(5)), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, errs := run("transform", "--status=false", "--json", "page.html")
	if code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	var results []pipeline.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("results not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 || !results[0].Transformed || results[0].Replaced != 5 {
		t.Fatalf("unexpected results: %+v", results)
	}
	b, err := os.ReadFile(filepath.Join("out", "page.halo.html"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if strings.Count(string(b), "[MOCK] ") != 5 {
		t.Fatalf("output not rewritten:\n%s", b)
	}
}

func TestQuizCommand(t *testing.T) {
	workdir(t, nil)
	if err := os.WriteFile("page.html", []byte(article(4)), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, errs := run("quiz", "--status=false", "page.html")
	if code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	var q struct {
		Title     string            `json:"title"`
		Questions []json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(out), &q); err != nil {
		t.Fatalf("quiz not JSON: %v\n%s", err, out)
	}
	if q.Title == "" || len(q.Questions) == 0 {
		t.Fatalf("unexpected quiz: %s", out)
	}

	if err := os.WriteFile("empty.html", []byte("<html><body></body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, errs = run("quiz", "--status=false", "empty.html")
	if code != exitRuntime || !strings.HasPrefix(errs, "Quiz generation failed: ") {
		t.Fatalf("expect quiz failure text, got %d: %s", code, errs)
	}
}

func TestFocusCommand(t *testing.T) {
	workdir(t, nil)
	if err := os.WriteFile("page.html", []byte(article(3)), 0o644); err != nil {
		t.Fatal(err)
	}
	code, out, errs := run("focus", "--on", "page.html")
	if code != 0 {
		t.Fatalf("run return %d: %s", code, errs)
	}
	if !strings.Contains(out, `"enabled": true`) {
		t.Fatalf("focus not enabled: %s", out)
	}
	if _, err := os.Stat(filepath.Join("out", "page.halo.html")); err != nil {
		t.Fatalf("page not saved: %v", err)
	}
	if code, _, _ := run("focus", "--on", "--off", "page.html"); code != exitSetup {
		t.Fatalf("conflicting flags should fail with %d", exitSetup)
	}
}

func TestSettingsCommands(t *testing.T) {
	workdir(t, nil)
	code, out, errs := run("settings", "set", "--learner-level", "c2", "--native-language", "German", "--goals", "work,travel", "--session-pool-size", "3")
	if code != 0 {
		t.Fatalf("set return %d: %s", code, errs)
	}
	code, out, errs = run("settings", "get")
	if code != 0 {
		t.Fatalf("get return %d: %s", code, errs)
	}
	var v struct {
		Level           string   `json:"level"`
		NativeLanguage  string   `json:"nativeLanguage"`
		LearningGoals   []string `json:"learningGoals"`
		SessionPoolSize int      `json:"sessionPoolSize"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("settings not JSON: %v\n%s", err, out)
	}
	if v.Level != "C2" || v.NativeLanguage != "German" || len(v.LearningGoals) != 2 || v.SessionPoolSize != 3 {
		t.Fatalf("settings not persisted: %+v", v)
	}
	if code, _, _ := run("settings", "set", "--learner-level", "Z9"); code != exitSetup {
		t.Fatalf("invalid level should fail with %d", exitSetup)
	}

	workdir(t, func(c *config.Config) { c.SettingsDB = "" })
	if code, _, _ := run("settings", "get"); code != exitSetup {
		t.Fatalf("missing settings_db should fail with %d", exitSetup)
	}
}

func TestPreflightCheckOutputDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultTemplateConfig()
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(filepath.Join(dir, "new")) + `"}`)
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("missing dir with writable parent should pass: %v", err)
	}
	cfg.Options.Writer = json.RawMessage(`{"output_dir":"` + filepath.ToSlash(filepath.Join(dir, "a", "b")) + `"}`)
	if err := preflightCheckOutputDir(cfg); err == nil {
		t.Fatal("missing parent should fail")
	}
	cfg.Components.Writer = "other"
	if err := preflightCheckOutputDir(cfg); err != nil {
		t.Fatalf("non-fs writer should be skipped: %v", err)
	}
}
