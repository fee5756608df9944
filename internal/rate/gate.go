// Package rate 提供按分组键的令牌桶闸门：每次发往生成会话的提示词先在此申请额度。
package rate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"halo/pkg/contract"
)

// LimitKey: 限流分组键（通常为 provider+key 指纹，见 DeriveKey）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int `json:"rpm"`                // 每分钟提示次数
	TPM             int `json:"tpm"`                // 每分钟 token
	MaxTokensPerReq int `json:"max_tokens_per_req"` // 单次提示 token 上限
}

// Enabled 报告是否配置了任一维度。
func (l Limits) Enabled() bool { return l.RPM > 0 || l.TPM > 0 || l.MaxTokensPerReq > 0 }

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait 阻塞直到额度可用或 ctx 取消；超过单次上限时快速失败（ErrBudgetExceeded）。
	Wait(ctx context.Context, a Ask) error
	// Try 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。未配置的分组不限额。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newEntry(lim, now)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.RWMutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req bucket
	tok bucket
}

// bucket 以每分钟 cap 的速率线性回填，cap<=0 表示该维度关闭。
type bucket struct {
	cap   float64
	level float64
	last  time.Time
}

func newEntry(lim Limits, now time.Time) *entry {
	return &entry{
		lim: lim,
		req: bucket{cap: float64(max(lim.RPM, 0)), level: float64(max(lim.RPM, 0)), last: now},
		tok: bucket{cap: float64(max(lim.TPM, 0)), level: float64(max(lim.TPM, 0)), last: now},
	}
}

func (b *bucket) refill(now time.Time) {
	if b.cap <= 0 || !now.After(b.last) {
		// 时钟回拨视为无时间流逝
		return
	}
	b.level = math.Min(b.cap, b.level+now.Sub(b.last).Minutes()*b.cap)
	b.last = now
}

// wait 返回凑够 n 还需等待的时长；0 表示可立即消费。
func (b *bucket) wait(n int) time.Duration {
	if b.cap <= 0 || n <= 0 {
		return 0
	}
	deficit := float64(n) - b.level
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit / b.cap * float64(time.Minute))
}

func (b *bucket) take(n int) {
	if b.cap <= 0 || n <= 0 {
		return
	}
	b.level = math.Max(0, b.level-float64(n))
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.RLock()
	e := g.m[key]
	g.mu.RUnlock()
	if e != nil {
		return e
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if e = g.m[key]; e == nil {
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, fmt.Errorf("rate: bad ask %+v: %w", a, contract.ErrInvalidInput)
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("rate: %d tokens over per-request limit %d: %w", a.Tokens, e.lim.MaxTokensPerReq, contract.ErrBudgetExceeded)
	}
	return e, nil
}

// reserve 在锁内回填并尝试扣减；失败时返回需等待的时长。
func (e *entry) reserve(now time.Time, a Ask) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	d := max(e.req.wait(a.Requests), e.tok.wait(a.Tokens))
	if d > 0 {
		return d, false
	}
	e.req.take(a.Requests)
	e.tok.take(a.Tokens)
	return 0, true
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	_, ok := e.reserve(g.clk(), a)
	return ok
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, ok := e.reserve(g.clk(), a)
		if ok {
			return nil
		}
		if err := sleepCtx(ctx, max(d+minSleep, minSleep)); err != nil {
			return err
		}
	}
}

// sleepCtx 分片睡眠（每片最多 200ms）以及时响应取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	const step = 200 * time.Millisecond
	for d > 0 {
		s := min(d, step)
		t := time.NewTimer(s)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		d -= s
	}
	return nil
}

// Snapshot 返回当前可用次数/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.req.refill(now)
	e.tok.refill(now)
	return int(e.req.level), int(e.tok.level)
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
