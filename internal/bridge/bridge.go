// Package bridge 是面板与页面之间的编排中继：解析活动标签页、校验页面资格、
// 幂等注入内容脚本并原样转发消息。任何传输层失败都变成结构化失败响应。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"halo/internal/diag"
	"halo/pkg/contract"
)

// IneligibleMessage 为特权页面上展示给用户的说明。
const IneligibleMessage = "Halo can't run on this page. Please open a regular webpage (not chrome:// or extension pages) and try again."

// privilegedSchemes 为拒绝注入的 URL 前缀（小写比较）。
var privilegedSchemes = []string{
	"chrome://",
	"chrome-extension://",
	"extension://",
	"moz-extension://",
	"about:",
	"edge://",
}

// Eligible 校验页面是否允许注入。
func Eligible(url string) error {
	u := strings.ToLower(strings.TrimSpace(url))
	for _, p := range privilegedSchemes {
		if strings.HasPrefix(u, p) {
			return fmt.Errorf("%s: %w", IneligibleMessage, contract.ErrIneligiblePage)
		}
	}
	return nil
}

var commands = map[contract.Action]contract.Command{
	contract.ActionTransformWebsite:   contract.CmdExtractContent,
	contract.ActionExtractQuizContent: contract.CmdExtractQuizContent,
	contract.ActionShowTransformed:    contract.CmdShowTransformed,
	contract.ActionRemoveTransform:    contract.CmdRemoveTransform,
	contract.ActionToggleFocusMode:    contract.CmdToggleFocusMode,
	contract.ActionGetFocusModeState:  contract.CmdGetFocusModeState,
}

// CommandFor 返回动作对应的内容脚本命令。
func CommandFor(a contract.Action) (contract.Command, bool) {
	c, ok := commands[a]
	return c, ok
}

// Message 将动作信封转换为内容脚本消息。
func Message(req contract.Request) (contract.Message, error) {
	cmd, ok := CommandFor(req.Action)
	if !ok {
		return contract.Message{}, fmt.Errorf("unknown action %q: %w", req.Action, contract.ErrInvalidInput)
	}
	msg := contract.Message{Type: cmd}
	switch cmd {
	case contract.CmdShowTransformed:
		msg.TransformedSegments = req.TransformedSegments
		msg.Delimiter = req.Delimiter
		if msg.Delimiter == "" {
			msg.Delimiter = contract.DefaultDelimiter
		}
	case contract.CmdToggleFocusMode:
		msg.Enabled = req.Enabled
	}
	return msg, nil
}

// Bridge 绑定一个标签页提供方。
type Bridge struct {
	tabs   contract.TabProvider
	logger *diag.Logger
}

// New 构造 Bridge。
func New(tabs contract.TabProvider, logger *diag.Logger) *Bridge {
	return &Bridge{tabs: tabs, logger: logger}
}

// Handle 处理动作信封，始终返回可序列化的响应。
func (b *Bridge) Handle(ctx context.Context, req contract.Request) contract.Response {
	resp, _ := b.Do(ctx, req)
	return resp
}

// Do 与 Handle 相同，另外返回桥接层错误（资格、标签页、传输）。
// 内容脚本自身报告的失败以 resp.Success=false 返回，err 为 nil。
func (b *Bridge) Do(ctx context.Context, req contract.Request) (resp contract.Response, err error) {
	t := b.logger.StartWithKV("bridge", "relay", "", "", map[string]string{"action": string(req.Action)})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge %s: %v: %w", req.Action, r, contract.ErrTransport)
		}
		if err != nil {
			code := diag.Classify(err)
			b.logger.ErrorWithKV("bridge", string(code), err.Error(), t.Since(), "", "", map[string]string{"action": string(req.Action)})
			diag.IncOp("bridge", "relay", "error")
			diag.IncError("bridge", string(code))
			resp = contract.Fail(err)
			return
		}
		t.Finish("relay", 0)
		diag.IncOp("bridge", "relay", "success")
	}()

	msg, err := Message(req)
	if err != nil {
		return resp, err
	}
	if b.tabs == nil {
		return resp, contract.ErrNoActiveTab
	}
	tab, err := b.tabs.Active(ctx, req.TabID)
	if err != nil {
		if !errors.Is(err, contract.ErrNoActiveTab) && !errors.Is(err, contract.ErrTransport) {
			err = fmt.Errorf("%w: %w", contract.ErrNoActiveTab, err)
		}
		return resp, err
	}
	if err := Eligible(tab.URL()); err != nil {
		return resp, err
	}
	if err := tab.Inject(ctx); err != nil {
		return resp, transport("inject", err)
	}
	out, err := tab.Send(ctx, msg)
	if err != nil {
		return resp, transport("send", err)
	}
	return out, nil
}

// transport 将通道失败统一包裹为 ErrTransport（取消错误保留原样以便分类）。
func transport(op string, err error) error {
	if errors.Is(err, contract.ErrTransport) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, contract.ErrTransport, err)
}

// TabURL 返回将被处理的标签页地址（不注入、不校验资格）。
func (b *Bridge) TabURL(ctx context.Context, tabID string) (string, error) {
	if b.tabs == nil {
		return "", contract.ErrNoActiveTab
	}
	tab, err := b.tabs.Active(ctx, tabID)
	if err != nil {
		return "", err
	}
	return tab.URL(), nil
}
