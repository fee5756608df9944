package contract

import "context"

// Tab: 一个可注入内容脚本的页面。
// 约束：
//  1. Inject 幂等，重复调用不得重复初始化；
//  2. Send 仅在 Inject 成功后可用，通道失败返回包裹 ErrTransport 的错误；
//  3. 响应原样返回，不做改写。
type Tab interface {
	ID() string
	URL() string
	Inject(ctx context.Context) error
	Send(ctx context.Context, msg Message) (Response, error)
}

// TabProvider: 解析当前活动标签页（或按 ID 查找）。
// 无法解析唯一标签页时返回 ErrNoActiveTab。
type TabProvider interface {
	Active(ctx context.Context, id string) (Tab, error)
}

// TranscriptFetcher: 拉取视频字幕纯文本。
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID string) (string, error)
}
