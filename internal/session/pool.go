// Package session 管理一次页面变换所用的生成会话池。
//
// - 会话逐个创建：首个失败即整体失败（无可降级对象）；之后的失败仅停止扩容。
// - 每个槽位一条串行通道（Lane）：同一会话同一时刻最多一个提示在途。
// - Close 幂等，且每个会话恰好销毁一次；调用方在所有终止路径上 defer Close。
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"halo/internal/diag"
	"halo/internal/rate"
	"halo/pkg/contract"
)

const (
	// DefaultLimit 用户未配置时的池上限。
	DefaultLimit = 4
	// HardMax 池大小的绝对上限。
	HardMax = 6
)

// Size 计算池大小：min(max(n,1), hardwareHint, userLimit, HardMax)，至少为 1。
// hardwareHint<=0 时取 runtime.NumCPU()；userLimit 为 nil 或 <=0 时取 DefaultLimit。
func Size(n, hardwareHint int, userLimit *int) int {
	if n < 1 {
		n = 1
	}
	hw := hardwareHint
	if hw <= 0 {
		hw = runtime.NumCPU()
	}
	limit := DefaultLimit
	if userLimit != nil && *userLimit > 0 {
		limit = *userLimit
	}
	return max(1, min(n, hw, limit, HardMax))
}

// Config: 池级可选项。
type Config struct {
	Options contract.SessionOptions
	// Gate 非空时每次提示前等待额度。
	Gate      rate.Gate
	GateKey   rate.LimitKey
	Estimator contract.TokenEstimator
	Logger    *diag.Logger
}

// Pool: 有序会话集合。
type Pool struct {
	lanes []*Lane
	once  sync.Once
	log   *diag.Logger
}

// Lane: 绑定单个会话的串行通道。
type Lane struct {
	idx  int
	s    contract.Session
	cfg  *Config
	mu   sync.Mutex
	once sync.Once
	dead atomic.Bool
}

// Open 依次创建至多 size 个会话。
func Open(ctx context.Context, factory contract.SessionFactory, size int, cfg Config) (*Pool, error) {
	if factory == nil {
		return nil, fmt.Errorf("session: nil factory: %w", contract.ErrInvalidInput)
	}
	if size < 1 {
		size = 1
	}
	p := &Pool{log: cfg.Logger}
	shared := &cfg
	t := cfg.Logger.StartWithKV("session", "open", "", "", map[string]string{"want": strconv.Itoa(size)})
	for i := 0; i < size; i++ {
		if err := ctx.Err(); err != nil {
			p.Close()
			return nil, err
		}
		s, err := factory.Create(ctx, cfg.Options)
		if err == nil && s == nil {
			err = errors.New("factory returned nil session")
		}
		if err != nil {
			code := diag.Classify(err)
			diag.IncOp("session", "create", "error")
			if i == 0 {
				cfg.Logger.ErrorWith("session", string(code), "create failed", t.Since(), "", "0")
				diag.IncError("session", string(diag.CodeSession))
				return nil, fmt.Errorf("create session: %w: %w", contract.ErrSessionCreation, err)
			}
			cfg.Logger.Warn("session", "create failed; pool stops growing", map[string]string{
				"slot": strconv.Itoa(i), "err": err.Error(),
			})
			break
		}
		diag.IncOp("session", "create", "success")
		p.lanes = append(p.lanes, &Lane{idx: i, s: s, cfg: shared})
	}
	t.Finish("open", int64(len(p.lanes)))
	return p, nil
}

// Size 返回实际会话数。
func (p *Pool) Size() int { return len(p.lanes) }

// Lane 返回第 i mod Size 个通道。
func (p *Pool) Lane(i int) *Lane {
	n := len(p.lanes)
	if n == 0 {
		return nil
	}
	if i < 0 {
		i = -i
	}
	return p.lanes[i%n]
}

// Close 销毁全部会话（幂等）。
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		for _, l := range p.lanes {
			l.destroy()
		}
		p.log.Start("session", "pool closed").Finish("close", int64(len(p.lanes)))
	})
}

// Index 返回通道在池中的序号。
func (l *Lane) Index() int { return l.idx }

// Prompt 在本通道内串行发送一次提示。
func (l *Lane) Prompt(ctx context.Context, text string, pc *contract.PromptConfig) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dead.Load() {
		return "", contract.ErrSessionClosed
	}
	if g := l.cfg.Gate; g != nil {
		if err := g.Wait(ctx, rate.AskFor(l.cfg.GateKey, text, l.cfg.Estimator)); err != nil {
			return "", err
		}
	}
	return l.s.Prompt(ctx, text, pc)
}

// destroy 不获取串行锁：卡住的提示不应阻塞关闭。
func (l *Lane) destroy() {
	l.once.Do(func() {
		l.dead.Store(true)
		l.s.Destroy()
	})
}
