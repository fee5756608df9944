// Package dispatch 将块分派到会话池并收集改写结果。
//
// - 块 i 固定分配给通道 i mod size；通道内按块序 FIFO，通道之间并发。
// - 结果写入块自身的槽位，按索引回收；整体永不失败：失败块回退为原文拼接。
// - 进度在互斥锁内累计并上报，Done 单调不减（块完成顺序可能乱序）。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"halo/internal/diag"
	"halo/internal/prompt"
	"halo/internal/session"
	"halo/pkg/contract"
)

// DefaultRetryDelay 为重试间隔的默认值。
const DefaultRetryDelay = 200 * time.Millisecond

// Cache: 提示词 → 响应的进程内缓存。
type Cache = lru.Cache[string, string]

// NewCache 构造容量为 size 的缓存；size<=0 返回 nil（关闭缓存）。
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("dispatch cache: %w: %v", contract.ErrInvalidInput, err)
	}
	return c, nil
}

// Options: 分派参数。
type Options struct {
	Level prompt.Level
	// MaxRetries: 可重试错误的最大重试次数；0 表示不重试。
	MaxRetries int
	RetryDelay time.Duration
	Cache      *Cache
	Progress   contract.ProgressFunc
	Logger     *diag.Logger
}

// Dispatch 返回与 chunks 平行的改写文本。
func Dispatch(ctx context.Context, chunks []contract.Chunk, pool *session.Pool, opts Options) []string {
	out := make([]string, len(chunks))
	total := 0
	for _, c := range chunks {
		total += c.Len()
	}
	var (
		mu   sync.Mutex
		done int
	)
	report := func(n int) {
		mu.Lock()
		defer mu.Unlock()
		done += n
		if opts.Progress != nil {
			opts.Progress(contract.NewProgress(done, total))
		}
	}
	report(0)
	if len(chunks) == 0 {
		return out
	}
	level := opts.Level
	if level == "" {
		level = prompt.DefaultLevel
	}
	size := 0
	if pool != nil {
		size = pool.Size()
	}
	if size == 0 {
		// 无可用会话：全部回退
		opts.Logger.Warn("dispatch", "no sessions; all chunks fall back to original text", map[string]string{
			"chunks": strconv.Itoa(len(chunks)),
		})
		for i, c := range chunks {
			out[i] = prompt.Join(c.Texts)
			report(c.Len())
		}
		return out
	}

	t := opts.Logger.StartWithKV("dispatch", "run", "", "", map[string]string{
		"chunks": strconv.Itoa(len(chunks)), "lanes": strconv.Itoa(size), "level": string(level),
	})
	var g errgroup.Group
	for lane := 0; lane < size && lane < len(chunks); lane++ {
		l := pool.Lane(lane)
		g.Go(func() error {
			for i := lane; i < len(chunks); i += size {
				out[i] = run(ctx, l, i, chunks[i], level, opts)
				report(chunks[i].Len())
			}
			return nil
		})
	}
	_ = g.Wait()
	t.Finish("run", int64(len(chunks)))
	return out
}

// run 处理单个块；任何失败都回退为原文拼接。
func run(ctx context.Context, l *session.Lane, idx int, c contract.Chunk, level prompt.Level, opts Options) string {
	fallback := prompt.Join(c.Texts)
	batch := strconv.Itoa(idx)
	text := prompt.Adapt(level, c.Texts)
	if opts.Cache != nil {
		if v, ok := opts.Cache.Get(text); ok {
			diag.IncOp("dispatch", "cache", "hit")
			return v
		}
	}
	t := opts.Logger.StartWithKV("dispatch", "prompt", "", batch, map[string]string{
		"lane": strconv.Itoa(l.Index()), "paragraphs": strconv.Itoa(c.Len()),
	})
	resp, err := prompted(ctx, l, text, opts)
	if err == nil && resp == "" {
		err = fmt.Errorf("empty response: %w", contract.ErrResponseInvalid)
	}
	if err != nil {
		code := diag.Classify(err)
		kv := map[string]string{"lane": strconv.Itoa(l.Index()), "err": err.Error()}
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv["http_status"] = strconv.Itoa(ue.UpstreamStatus())
		}
		opts.Logger.ErrorWithKV("dispatch", string(code), "chunk failed; using original text", t.Since(), "", batch, kv)
		diag.IncOp("dispatch", "chunk", "fallback")
		diag.IncError("dispatch", string(code))
		return fallback
	}
	t.Finish("prompt", int64(c.Len()))
	diag.IncOp("dispatch", "chunk", "success")
	diag.ObserveDuration("dispatch", "prompt", time.Since(*t.Since()).Milliseconds())
	if opts.Cache != nil {
		opts.Cache.Add(text, resp)
	}
	return resp
}

func prompted(ctx context.Context, l *session.Lane, text string, opts Options) (string, error) {
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	retries := max(opts.MaxRetries, 0)
	b := retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
	return retry.DoValue(ctx, b, func(ctx context.Context) (string, error) {
		s, err := l.Prompt(ctx, text, nil)
		if err != nil && retryable(err) {
			return "", retry.RetryableError(err)
		}
		return s, err
	})
}

// retryable: 限流与网络类错误可重试；取消、协议与会话关闭不重试。
func retryable(err error) bool {
	if errors.Is(err, contract.ErrRateLimited) {
		return true
	}
	return diag.Classify(err) == diag.CodeNetwork
}
