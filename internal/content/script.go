package content

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"halo/internal/chunk"
	"halo/internal/diag"
	"halo/internal/focus"
	"halo/internal/page"
	"halo/pkg/contract"
)

type handler func(ctx context.Context, msg contract.Message) (contract.Response, error)

// Script 是注入到单个文档中的内容脚本：持有页面状态，按命令分派请求。
// 同一 Script 的请求串行执行。
type Script struct {
	mu        sync.Mutex
	doc       *page.Document
	state     *State
	extractor *Extractor
	rewriter  *Rewriter
	focus     *focus.Mode
	logger    *diag.Logger
	handlers  map[contract.Command]handler
}

// Options 为内容脚本的可选配置。
type Options struct {
	Chunk  *chunk.Options
	Logger *diag.Logger
}

// loaded 为每个文档记录已注入的脚本，重复注入返回同一实例。
var loaded sync.Map // *page.Document -> *Script

// Inject 将内容脚本注入文档；已注入时返回既有实例与 false。
func Inject(doc *page.Document, opts Options) (*Script, bool) {
	if v, ok := loaded.Load(doc); ok {
		return v.(*Script), false
	}
	s := newScript(doc, opts)
	v, existed := loaded.LoadOrStore(doc, s)
	return v.(*Script), !existed
}

// Detach 移除文档的注入记录（文档被替换或标签页关闭时调用）。
func Detach(doc *page.Document) { loaded.Delete(doc) }

// Loaded 报告文档是否已注入。
func Loaded(doc *page.Document) bool {
	_, ok := loaded.Load(doc)
	return ok
}

func newScript(doc *page.Document, opts Options) *Script {
	s := &Script{
		doc:       doc,
		state:     NewState(),
		extractor: NewExtractor(doc, chunk.New(opts.Chunk), opts.Logger),
		rewriter:  NewRewriter(doc, opts.Logger),
		focus:     focus.New(doc),
		logger:    opts.Logger,
	}
	s.handlers = map[contract.Command]handler{
		contract.CmdExtractContent:     s.extractContent,
		contract.CmdExtractQuizContent: s.extractQuizContent,
		contract.CmdShowTransformed:    s.showTransformed,
		contract.CmdRemoveTransform:    s.removeTransform,
		contract.CmdToggleFocusMode:    s.toggleFocus,
		contract.CmdGetFocusModeState:  s.focusState,
	}
	s.state.Begin(uuid.NewString())
	return s
}

// Document 返回脚本绑定的文档。
func (s *Script) Document() *page.Document { return s.doc }

// State 返回页面状态（只读用途）。
func (s *Script) State() *State { return s.state }

// Handle 处理一条消息。任何失败都转成 {success:false, error}，不会 panic 到调用方。
func (s *Script) Handle(ctx context.Context, msg contract.Message) (resp contract.Response) {
	h, ok := s.handlers[msg.Type]
	if !ok {
		return contract.Fail(fmt.Errorf("unknown message type %q: %w", msg.Type, contract.ErrInvalidInput))
	}
	if err := ctx.Err(); err != nil {
		return contract.Fail(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("content script %s: %v: %w", msg.Type, r, contract.ErrInvariantViolation)
			s.logger.Error("content.script", string(diag.CodeInvariant), err.Error(), nil)
			resp = contract.Fail(err)
		}
	}()
	out, err := h(ctx, msg)
	if err != nil {
		diag.IncError("content.script", string(diag.Classify(err)))
		return contract.Fail(err)
	}
	diag.IncOp("content.script", string(msg.Type), "success")
	return out
}

func (s *Script) extractContent(_ context.Context, _ contract.Message) (contract.Response, error) {
	ex, err := s.extractor.Extract(s.state)
	if err != nil {
		return contract.Response{}, err
	}
	return contract.Response{
		Success:        true,
		Segments:       ex.Segments,
		SegmentCount:   ex.SegmentCount,
		ParagraphCount: ex.ParagraphCount,
		Mappings:       ex.Mappings,
		Delimiter:      ex.Delimiter,
	}, nil
}

func (s *Script) extractQuizContent(_ context.Context, _ contract.Message) (contract.Response, error) {
	q, err := s.extractor.Quiz(s.state)
	if err != nil {
		return contract.Response{}, err
	}
	return contract.Response{
		Success:        true,
		Title:          q.Title,
		Paragraphs:     q.Paragraphs,
		ParagraphCount: q.ParagraphCount,
		SegmentCount:   q.SegmentCount,
		URL:            s.doc.URL(),
	}, nil
}

// showTransformed 在无抽取结果时记录并忽略（成功响应、零替换）。
func (s *Script) showTransformed(_ context.Context, msg contract.Message) (contract.Response, error) {
	rep, err := s.rewriter.Replace(s.state, msg.TransformedSegments)
	if err != nil && !errors.Is(err, contract.ErrNoActiveExtraction) {
		return contract.Response{}, err
	}
	return contract.Response{Success: true, Replaced: rep.Replaced, Hidden: rep.Hidden, Skipped: rep.Skipped, Unchanged: rep.Unchanged}, nil
}

func (s *Script) removeTransform(_ context.Context, _ contract.Message) (contract.Response, error) {
	n := s.rewriter.Restore(s.state)
	return contract.Response{Success: true, Replaced: n}, nil
}

func (s *Script) toggleFocus(_ context.Context, msg contract.Message) (contract.Response, error) {
	st := s.focus.Toggle(msg.Enabled)
	return contract.Response{Success: true, Focus: &st}, nil
}

func (s *Script) focusState(_ context.Context, _ contract.Message) (contract.Response, error) {
	st := s.focus.State()
	return contract.Response{Success: true, Focus: &st}, nil
}
