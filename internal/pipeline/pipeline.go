// Package pipeline 编排面板侧流程：抽取 → 建池 → 分派 → 回写。
//
// - 单点并发：并发只存在于 dispatch 的通道层，本层逐页串行。
// - 会话池在所有终止路径上关闭；同一页面的第二次变换使用新池。
// - 状态文本同时写入终端与 Settings.Status，形式与面板一致。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"halo/internal/bridge"
	"halo/internal/diag"
	"halo/internal/dispatch"
	"halo/internal/prompt"
	"halo/internal/rate"
	"halo/internal/session"
	"halo/internal/settings"
	"halo/pkg/contract"
)

// 面板状态文本。
const (
	MsgInit      = "Initializing transformation..."
	MsgExtract   = "Extracting content from page..."
	MsgSession   = "Initializing AI session..."
	MsgReady     = "AI session ready"
	MsgNoContent = "No content found to transform. Try a different page."
	MsgComplete  = "Transformation complete"
	MsgApply     = "Applying changes to page..."
	MsgSuccess   = "Page successfully transformed\n\nTip: Refresh to restore original content"
	MsgApplyFail = "Failed to apply transformation"
)

// Components 聚合运行所需的协作者。
type Components struct {
	Bridge   *bridge.Bridge
	Sessions contract.SessionFactory
	// Transcripts 仅测验使用，可为 nil。
	Transcripts contract.TranscriptFetcher
	// Open 将输入打开为标签页（批处理模式）；Reader 由其闭包持有。
	Open func(ctx context.Context, roots []string) ([]contract.Tab, error)
	// Writer 为 nil 时批处理不落盘。
	Writer contract.Writer
	// Learner 为 nil 时使用默认学习者设置。
	Learner *settings.Store
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	// Level 非空时覆盖学习者设置中的等级。
	Level prompt.Level
	// PoolLimit 非空时覆盖学习者设置中的池上限。
	PoolLimit    *int
	HardwareHint int
	MaxRetries   int
	RetryDelay   time.Duration
	Cache        *dispatch.Cache
	// 预算：单次请求最大 token 与估算参数；MaxTokens<=0 时关闭预算检查。
	MaxTokens     int
	BytesPerToken int
	// 限流闸门（可选）与分组键。
	Gate    rate.Gate
	GateKey rate.LimitKey
	// LLM 仅用于展示与日志。
	LLM string
	// Status/Progress 可为 nil；由调用方接收面板同款状态。
	Status   func(string)
	Progress contract.ProgressFunc
}

// Result 汇总一次页面变换。
type Result struct {
	TabID       string   `json:"tabId,omitempty"`
	URL         string   `json:"url,omitempty"`
	Level       string   `json:"level,omitempty"`
	Paragraphs  int      `json:"paragraphs"`
	Segments    int      `json:"segments"`
	Sessions    int      `json:"sessions"`
	Replaced    int      `json:"replaced"`
	Hidden      int      `json:"hidden"`
	Skipped     int      `json:"skipped"`
	Unchanged   int      `json:"unchanged"`
	Transformed bool     `json:"transformed"`
	Status      []string `json:"status"`
}

type run struct {
	set    Settings
	res    *Result
	term   *diag.Terminal
	logger *diag.Logger
}

func (r *run) status(msg string) {
	r.res.Status = append(r.res.Status, msg)
	r.term.Status(msg)
	if r.set.Status != nil {
		r.set.Status(msg)
	}
}

// fail 输出面板同款错误文案并原样返回 err。
func (r *run) fail(err error) error {
	r.status("Error: " + err.Error() + "\n\nPlease try again")
	return err
}

// TransformWebsite 对 tabID 指向的标签页（空表示活动标签页）执行一次完整变换。
// 页面没有可变换段落时返回 Transformed=false 与 nil 错误，且不创建会话。
func TransformWebsite(ctx context.Context, comp Components, set Settings, tabID string, logger *diag.Logger) (Result, error) {
	res := Result{TabID: tabID}
	if err := sanity(comp); err != nil {
		return res, fmt.Errorf("sanity: %w", err)
	}
	r := &run{set: set, res: &res, term: diag.GetTerminal(), logger: logger}
	t := logger.StartWithKV("pipeline", "transform", tabID, "", nil)
	start := time.Now()
	err := r.transform(ctx, comp)
	switch {
	case err != nil:
		code := diag.Classify(err)
		logger.ErrorWithKV("pipeline", string(code), err.Error(), t.Since(), tabID, "", map[string]string{"url": res.URL})
		diag.IncOp("pipeline", "transform", "error")
		diag.IncError("pipeline", string(code))
	case res.Transformed:
		t.Finish("page transformed", int64(res.Paragraphs))
		diag.IncOp("pipeline", "transform", "success")
	default:
		t.Finish("no content", 0)
		diag.IncOp("pipeline", "transform", "empty")
	}
	diag.ObserveDuration("pipeline", "transform", time.Since(start).Milliseconds())
	if res.Paragraphs > 0 {
		r.term.PageFinish(err == nil, time.Since(start))
	}
	return res, err
}

func (r *run) transform(ctx context.Context, comp Components) error {
	res := r.res
	r.status(MsgInit)
	if url, err := comp.Bridge.TabURL(ctx, res.TabID); err == nil {
		res.URL = url
	}
	r.status(MsgExtract)
	ext, err := comp.Bridge.Do(ctx, contract.Request{Action: contract.ActionTransformWebsite, TabID: res.TabID})
	if err == nil {
		err = ext.Err()
	}
	if errors.Is(err, contract.ErrNoContent) {
		r.status(MsgNoContent)
		return nil
	}
	if err != nil {
		return r.fail(err)
	}
	if len(ext.Segments) != len(ext.Mappings) {
		return r.fail(fmt.Errorf("Segment/mapping mismatch: %w", contract.ErrInvariantViolation))
	}
	chunks := make([]contract.Chunk, len(ext.Segments))
	for i := range ext.Segments {
		if len(ext.Segments[i]) != len(ext.Mappings[i]) {
			return r.fail(fmt.Errorf("Segment/mapping mismatch: %w", contract.ErrInvariantViolation))
		}
		chunks[i] = contract.Chunk{Indexes: ext.Mappings[i], Texts: ext.Segments[i]}
	}
	res.Paragraphs, res.Segments = ext.ParagraphCount, len(chunks)
	r.status(fmt.Sprintf("Found %d paragraphs across %d segments", res.Paragraphs, res.Segments))
	if res.Paragraphs == 0 || len(chunks) == 0 {
		r.status(MsgNoContent)
		return nil
	}

	learner, lerr := comp.Learner.Load(ctx)
	if lerr != nil {
		r.logger.Warn("pipeline", "learner settings unavailable, using defaults", map[string]string{"error": lerr.Error()})
	}
	level, limit := learner.Level, learner.SessionPoolSize
	if r.set.Level != "" {
		level = r.set.Level
	}
	if r.set.PoolLimit != nil {
		limit = r.set.PoolLimit
	}
	res.Level = string(level)
	budget := prompt.Budget{MaxTokens: r.set.MaxTokens, BytesPerToken: r.set.BytesPerToken}
	if err := budget.Check(level, 0); err != nil {
		return r.fail(err)
	}

	r.status(MsgSession)
	pool, err := session.Open(ctx, comp.Sessions, session.Size(len(chunks), r.set.HardwareHint, limit), session.Config{
		Options:   contract.TextSessionOptions(),
		Gate:      r.set.Gate,
		GateKey:   r.set.GateKey,
		Estimator: budget.Estimator(),
		Logger:    r.logger,
	})
	if err != nil {
		return r.fail(err)
	}
	defer pool.Close()
	res.Sessions = pool.Size()
	r.status(MsgReady)
	r.status(fmt.Sprintf("Processing %d paragraphs using %d %s...", res.Paragraphs, res.Sessions, plural(res.Sessions, "session")))

	r.term.PageStart(pageName(res), res.Paragraphs)
	out := dispatch.Dispatch(ctx, chunks, pool, dispatch.Options{
		Level:      level,
		MaxRetries: r.set.MaxRetries,
		RetryDelay: r.set.RetryDelay,
		Cache:      r.set.Cache,
		Logger:     r.logger,
		Progress: func(p contract.Progress) {
			r.term.Progress(p)
			if r.set.Progress != nil {
				r.set.Progress(p)
			}
		},
	})
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	r.status(MsgComplete)
	r.status(MsgApply)

	show, err := comp.Bridge.Do(ctx, contract.Request{
		Action:              contract.ActionShowTransformed,
		TabID:               res.TabID,
		TransformedSegments: out,
		Delimiter:           ext.Delimiter,
	})
	if err == nil && !show.Success {
		if show.Error == "" {
			show.Error = MsgApplyFail
		}
		err = show.Err()
	}
	if err != nil {
		return r.fail(err)
	}
	res.Replaced, res.Hidden, res.Skipped, res.Unchanged = show.Replaced, show.Hidden, show.Skipped, show.Unchanged
	res.Transformed = true
	r.status(MsgSuccess)
	return nil
}

// RemoveTransform 还原页面上全部已改写段落。
func RemoveTransform(ctx context.Context, comp Components, tabID string) (contract.Response, error) {
	if err := sanity(comp); err != nil {
		return contract.Fail(err), err
	}
	resp, err := comp.Bridge.Do(ctx, contract.Request{Action: contract.ActionRemoveTransform, TabID: tabID})
	if err == nil {
		err = resp.Err()
	}
	return resp, err
}

// ToggleFocus 切换专注模式（enabled 为 nil 时翻转），成功后记入学习者设置。
func ToggleFocus(ctx context.Context, comp Components, tabID string, enabled *bool, logger *diag.Logger) (contract.Response, error) {
	if err := sanity(comp); err != nil {
		return contract.Fail(err), err
	}
	resp, err := comp.Bridge.Do(ctx, contract.Request{Action: contract.ActionToggleFocusMode, TabID: tabID, Enabled: enabled})
	if err == nil {
		err = resp.Err()
	}
	if err != nil || resp.Focus == nil || comp.Learner == nil {
		return resp, err
	}
	s, lerr := comp.Learner.Load(ctx)
	if lerr != nil {
		logger.Warn("pipeline", "focus mode not persisted", map[string]string{"error": lerr.Error()})
		return resp, nil
	}
	if s.FocusMode != resp.Focus.Enabled {
		s.FocusMode = resp.Focus.Enabled
		if serr := comp.Learner.Save(ctx, s); serr != nil {
			logger.Warn("pipeline", "focus mode not persisted", map[string]string{"error": serr.Error()})
		}
	}
	return resp, nil
}

func sanity(c Components) error {
	var miss []string
	if c.Bridge == nil {
		miss = append(miss, "bridge")
	}
	if c.Sessions == nil {
		miss = append(miss, "sessions")
	}
	if len(miss) > 0 {
		return fmt.Errorf("missing components: %s: %w", strings.Join(miss, ", "), contract.ErrInvalidInput)
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func pageName(res *Result) string {
	if res.URL != "" {
		return res.URL
	}
	if res.TabID != "" {
		return res.TabID
	}
	return "active tab"
}
