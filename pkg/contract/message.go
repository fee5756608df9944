package contract

import (
	"errors"
	"strings"
)

// Command: 内容脚本接受的消息类型。
type Command string

const (
	CmdExtractContent     Command = "EXTRACT_CONTENT"
	CmdExtractQuizContent Command = "EXTRACT_QUIZ_CONTENT"
	CmdShowTransformed    Command = "SHOW_TRANSFORMED_CONTENT"
	CmdRemoveTransform    Command = "REMOVE_TRANSFORM"
	CmdToggleFocusMode    Command = "TOGGLE_FOCUS_MODE"
	CmdGetFocusModeState  Command = "GET_FOCUS_MODE_STATE"
)

// Mutates 报告该命令是否会修改文档。
func (c Command) Mutates() bool {
	switch c {
	case CmdShowTransformed, CmdRemoveTransform, CmdToggleFocusMode:
		return true
	default:
		return false
	}
}

// DefaultDelimiter: 段落分隔标记（保留在消息中，但不参与回写逻辑）。
const DefaultDelimiter = "<<HALO_BREAK>>"

// Message: 发往内容脚本的消息。
type Message struct {
	Type                Command  `json:"type"`
	TransformedSegments []string `json:"transformedSegments,omitempty"`
	Delimiter           string   `json:"delimiter,omitempty"`
	// Enabled 仅用于 TOGGLE_FOCUS_MODE；nil 表示翻转当前状态。
	Enabled *bool `json:"enabled,omitempty"`
}

// FocusState: 专注模式状态。
type FocusState struct {
	Enabled bool `json:"enabled"`
	Hidden  int  `json:"hidden"`
}

// Response: 内容脚本的响应，必须可 JSON 序列化。
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// EXTRACT_CONTENT
	Segments       [][]string `json:"segments,omitempty"`
	SegmentCount   int        `json:"segmentCount"`
	ParagraphCount int        `json:"paragraphCount"`
	Mappings       [][]int    `json:"mappings,omitempty"`
	Delimiter      string     `json:"delimiter,omitempty"`

	// EXTRACT_QUIZ_CONTENT
	Title      string   `json:"title,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	URL        string   `json:"url,omitempty"`

	// SHOW_TRANSFORMED_CONTENT
	Replaced  int `json:"replaced,omitempty"`
	Hidden    int `json:"hidden,omitempty"`
	Skipped   int `json:"skipped,omitempty"`
	Unchanged int `json:"unchanged,omitempty"`

	// 专注模式
	Focus *FocusState `json:"focus,omitempty"`
}

// Fail 构造失败响应。
func Fail(err error) Response {
	if err == nil {
		return Response{Success: false, Error: "unknown error"}
	}
	return Response{Success: false, Error: err.Error()}
}

// scriptErrors 为内容脚本可能报告的哨兵；响应跨越 JSON 边界后按消息后缀还原。
var scriptErrors = []error{ErrNoContent, ErrNoActiveExtraction, ErrInvariantViolation, ErrInvalidInput}

// Err 将失败响应还原为错误；成功响应返回 nil。
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = "unknown error"
	}
	for _, s := range scriptErrors {
		if strings.HasSuffix(msg, s.Error()) {
			return &scriptError{msg: msg, err: s}
		}
	}
	return errors.New(msg)
}

type scriptError struct {
	msg string
	err error
}

func (e *scriptError) Error() string { return e.msg }
func (e *scriptError) Unwrap() error { return e.err }

// Action: 面板 → 后台的动作名。
type Action string

const (
	ActionTransformWebsite   Action = "transformWebsite"
	ActionExtractQuizContent Action = "extractQuizContent"
	ActionShowTransformed    Action = "showTransformedContent"
	ActionRemoveTransform    Action = "removeTransform"
	ActionToggleFocusMode    Action = "toggleFocusMode"
	ActionGetFocusModeState  Action = "getFocusModeState"
)

// Request: 动作信封。
type Request struct {
	Action              Action   `json:"action"`
	TabID               string   `json:"tabId,omitempty"`
	TransformedSegments []string `json:"transformedSegments,omitempty"`
	Delimiter           string   `json:"delimiter,omitempty"`
	Enabled             *bool    `json:"enabled,omitempty"`
}
