package registry

import (
	"bytes"
	"context"
	"encoding/json"

	"halo/internal/content"
	"halo/internal/diag"
	"halo/pkg/contract"
	"halo/plugins/reader/source"
	"halo/plugins/session/flaky"
	gmi "halo/plugins/session/gemini"
	"halo/plugins/session/mock"
	oai "halo/plugins/session/openai"
	"halo/plugins/tab/browser"
	"halo/plugins/tab/static"
	"halo/plugins/transcript/rapidapi"
	wfs "halo/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSession 会话工厂的工厂：接收原样 JSON Options。
type NewSession func(ctx context.Context, raw json.RawMessage) (contract.SessionFactory, error)

// NewTab 标签页提供方工厂；copts 传给注入的内容脚本。
type NewTab func(ctx context.Context, raw json.RawMessage, copts content.Options, logger *diag.Logger) (contract.TabProvider, error)

// NewTranscript 字幕拉取器工厂。
type NewTranscript func(raw json.RawMessage) (contract.TranscriptFetcher, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// source: 本地文件/目录、URL 与 STDIN
	"source": func(raw json.RawMessage) (contract.Reader, error) {
		var opts source.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return source.New(&opts), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Session 工厂注册表。
var Session = map[string]NewSession{
	"gemini": func(ctx context.Context, raw json.RawMessage) (contract.SessionFactory, error) { return gmi.New(ctx, raw) },
	"openai": func(_ context.Context, raw json.RawMessage) (contract.SessionFactory, error) { return oai.New(raw) },
	"mock":   func(_ context.Context, raw json.RawMessage) (contract.SessionFactory, error) { return mock.New(raw) },
	"flaky":  func(_ context.Context, raw json.RawMessage) (contract.SessionFactory, error) { return flaky.New(raw) },
}

// Tab 工厂注册表。
var Tab = map[string]NewTab{
	// static: 进程内解析的文档，由调用方经 Reader 载入
	"static": func(_ context.Context, raw json.RawMessage, copts content.Options, _ *diag.Logger) (contract.TabProvider, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return static.NewProvider(copts), nil
	},
	// browser: 经 DevTools 协议连接的真实浏览器
	"browser": func(ctx context.Context, raw json.RawMessage, copts content.Options, logger *diag.Logger) (contract.TabProvider, error) {
		return browser.New(ctx, raw, copts, logger)
	},
}

// Transcript 工厂注册表。
var Transcript = map[string]NewTranscript{
	"rapidapi": func(raw json.RawMessage) (contract.TranscriptFetcher, error) { return rapidapi.New(raw) },
}
