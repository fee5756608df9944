package contract

import "errors"

// 页面/内容相关错误。
var (
	// ErrNoContent: 页面找不到正文根节点，或根节点下没有可用段落。
	ErrNoContent = errors.New("no content found")
	// ErrNoActiveExtraction: 回写或还原前页面状态为空（未抽取或已被清空）。
	ErrNoActiveExtraction = errors.New("no active extraction")
	// ErrIneligiblePage: 活动标签页为浏览器内部页面，不允许注入内容脚本。
	ErrIneligiblePage = errors.New("page not eligible")
	// ErrNoActiveTab: 无法解析唯一的活动标签页。
	ErrNoActiveTab = errors.New("no active tab")
	// ErrTransport: 与内容脚本的消息通道失败（标签页已关闭、无监听者等）。
	ErrTransport = errors.New("transport failed")
)

// 生成会话相关错误。
var (
	// ErrSessionCreation: 无法创建任何生成会话。
	ErrSessionCreation = errors.New("session creation failed")
	// ErrGeneration: 单次生成失败；分发层吸收为原文回退。
	ErrGeneration = errors.New("generation failed")
	// ErrSessionClosed: 会话已销毁后再次调用。
	ErrSessionClosed = errors.New("session closed")
	// ErrRateLimited: 上游限流（HTTP 429 等）。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应无法按约定解码。
	ErrResponseInvalid = errors.New("response invalid")
)

// 通用错误分类。
var (
	// ErrInvalidInput: 参数或配置不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
