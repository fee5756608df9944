package stress

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	cfgpkg "halo/internal/config"
	"halo/internal/pipeline"
)

// longArticle 构造含 n 个段落的页面。
func longArticle(n int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Stress</title></head><body><main>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %04d follows a river from the mountains down to the sea, noting every town.</p>", i)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

// baseConfig 构造可运行的最小配置（mock 会话，无限流）。
func baseConfig(input, outDir string, pool int) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Logging.Level = "error"
	cfg.SettingsDB = ""
	cfg.CacheSize = 0
	cfg.SessionPoolSize = &pool
	cfg.HardwareConcurrency = 64
	cfg.LLM = "mock"
	cfg.Provider = map[string]cfgpkg.Provider{
		"mock": {Client: "mock", Options: json.RawMessage(`{"prefix":"STRESS"}`)},
	}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":false,"flat":true,"perm_file":0,"perm_dir":0,"buf_size":65536}`, outDir))
	return cfg
}

// runPipeline 执行完整流水线。
func runPipeline(cfg cfgpkg.Config) ([]pipeline.Result, error) {
	rt, err := cfgpkg.Assemble(context.Background(), cfg, nil)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return pipeline.Run(context.Background(), rt.Components, rt.Settings, nil)
}

// TestStress 在不同会话池上限下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	const paragraphs = 2000
	dir := t.TempDir()
	in := filepath.Join(dir, "long.html")
	if err := os.WriteFile(in, []byte(longArticle(paragraphs)), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	for _, pool := range []int{1, 2, 4, 8, 16} {
		t.Run(fmt.Sprintf("pool_%d", pool), func(t *testing.T) {
			const runs = 5
			successes := 0
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := baseConfig(in, t.TempDir(), pool)
				start := time.Now()
				res, err := runPipeline(cfg)
				dur := time.Since(start)
				if err != nil {
					t.Errorf("run %d: %v", i, err)
					continue
				}
				if len(res) != 1 || res[0].Paragraphs != paragraphs || res[0].Replaced != paragraphs {
					t.Errorf("run %d: unexpected result %+v", i, res)
					continue
				}
				successes++
				latencies = append(latencies, dur)
			}
			if successes == 0 {
				t.Fatalf("全部运行失败")
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			p95 := latencies[idx]
			t.Logf("池上限%d 成功率%.2f 平均%v 95%%延迟%v", pool, float64(successes)/float64(runs), avg, p95)
		})
	}
}
