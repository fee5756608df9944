package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"halo/internal/diag"
	"halo/internal/session"
	"halo/pkg/contract"
)

// Saver 为可将当前文档写出的标签页。
type Saver interface {
	Save(ctx context.Context, w contract.Writer) error
}

// Run 批处理 set.Inputs：逐页变换，成功且已改写的页面经 Writer 落盘。
// 单页失败记录后继续；取消立即返回。返回各页结果与合并后的错误。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]Result, error) {
	if err := sanity(comp); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if comp.Open == nil {
		return nil, fmt.Errorf("sanity: missing components: open: %w", contract.ErrInvalidInput)
	}
	if len(set.Inputs) == 0 {
		return nil, fmt.Errorf("no inputs: %w", contract.ErrInvalidInput)
	}
	term := diag.GetTerminal()
	start := time.Now()
	limit := session.DefaultLimit
	if set.PoolLimit != nil {
		limit = *set.PoolLimit
	}
	term.RunStart(limit, set.LLM)

	tabs, err := comp.Open(ctx, set.Inputs)
	if err != nil {
		term.RunFinish(false, time.Since(start))
		return nil, fmt.Errorf("open inputs: %w", err)
	}
	logger.Start("pipeline", "inputs opened").Finish("open", int64(len(tabs)))

	var (
		out  []Result
		errs []error
	)
	for _, tab := range tabs {
		res, err := TransformWebsite(ctx, comp, set, tab.ID(), logger)
		out = append(out, res)
		if err != nil {
			if ctx.Err() != nil {
				term.RunFinish(false, time.Since(start))
				return out, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", tab.ID(), err))
			continue
		}
		if !res.Transformed || comp.Writer == nil {
			continue
		}
		sv, ok := tab.(Saver)
		if !ok {
			continue
		}
		if err := sv.Save(ctx, comp.Writer); err != nil {
			code := diag.Classify(err)
			logger.ErrorWith("pipeline", string(code), "save failed", nil, tab.ID(), "")
			diag.IncError("pipeline", string(code))
			errs = append(errs, fmt.Errorf("save %s: %w", tab.ID(), err))
		}
	}
	err = errors.Join(errs...)
	term.RunFinish(err == nil, time.Since(start))
	return out, err
}
