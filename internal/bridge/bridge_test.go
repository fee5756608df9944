package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/internal/content"
	"halo/plugins/tab/static"
	"halo/pkg/contract"
)

const article = `<html><head><title>Bridge</title></head><body><main>
<p>Rivers carry sediment from the mountains down to the sea.</p>
<p>Over centuries the sediment builds wide and fertile river deltas.</p>
</main></body></html>`

func provider(t *testing.T, url string) (*static.Provider, *static.Tab) {
	t.Helper()
	p := static.NewProvider(content.Options{})
	tab, err := p.Open("page", url, strings.NewReader(article))
	require.NoError(t, err)
	t.Cleanup(tab.Close)
	return p, tab
}

// UT-BRG-01: 资格校验
func TestEligible(t *testing.T) {
	for _, u := range []string{"chrome://settings", "CHROME-EXTENSION://abc/x.html", "extension://x", "moz-extension://y", "about:blank", "edge://flags"} {
		assert.ErrorIs(t, Eligible(u), contract.ErrIneligiblePage, u)
	}
	for _, u := range []string{"https://example.com", "http://a/chrome://", "file:///tmp/a.html"} {
		assert.NoError(t, Eligible(u), u)
	}
}

// UT-BRG-02: 动作 → 消息
func TestMessage(t *testing.T) {
	on := true
	m, err := Message(contract.Request{Action: contract.ActionToggleFocusMode, Enabled: &on})
	require.NoError(t, err)
	assert.Equal(t, contract.CmdToggleFocusMode, m.Type)
	assert.Same(t, &on, m.Enabled)

	m, err = Message(contract.Request{Action: contract.ActionShowTransformed, TransformedSegments: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, contract.DefaultDelimiter, m.Delimiter)
	assert.Equal(t, []string{"x"}, m.TransformedSegments)

	_, err = Message(contract.Request{Action: "summarize"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	c, ok := CommandFor(contract.ActionTransformWebsite)
	assert.True(t, ok)
	assert.Equal(t, contract.CmdExtractContent, c)
}

// UT-BRG-03: 正常转发，原样返回内容脚本响应
func TestRelay(t *testing.T) {
	p, _ := provider(t, "https://example.com/rivers")
	b := New(p, nil)
	resp, err := b.Do(context.Background(), contract.Request{Action: contract.ActionTransformWebsite})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, 2, resp.ParagraphCount)
	assert.Equal(t, [][]int{{0, 1}}, resp.Mappings)

	resp = b.Handle(context.Background(), contract.Request{Action: contract.ActionGetFocusModeState})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Focus)
	assert.False(t, resp.Focus.Enabled)

	u, err := b.TabURL(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/rivers", u)
	_, err = New(nil, nil).TabURL(context.Background(), "")
	assert.ErrorIs(t, err, contract.ErrNoActiveTab)
}

// UT-BRG-04: 特权页面不注入
func TestIneligibleNoInjection(t *testing.T) {
	p, tab := provider(t, "chrome://newtab")
	resp, err := New(p, nil).Do(context.Background(), contract.Request{Action: contract.ActionTransformWebsite})
	assert.ErrorIs(t, err, contract.ErrIneligiblePage)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, IneligibleMessage)
	assert.False(t, content.Loaded(tab.Document()))
}

// UT-BRG-05: 无活动标签页 / 未知动作
func TestSetupFailures(t *testing.T) {
	empty := static.NewProvider(content.Options{})
	resp, err := New(empty, nil).Do(context.Background(), contract.Request{Action: contract.ActionRemoveTransform})
	assert.ErrorIs(t, err, contract.ErrNoActiveTab)
	assert.False(t, resp.Success)

	resp = New(nil, nil).Handle(context.Background(), contract.Request{Action: contract.ActionRemoveTransform})
	assert.False(t, resp.Success)

	p, _ := provider(t, "https://example.com")
	resp, err = New(p, nil).Do(context.Background(), contract.Request{Action: "bogus"})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	assert.False(t, resp.Success)
}

// UT-BRG-06: 传输失败变为结构化失败响应
func TestTransportFailures(t *testing.T) {
	p, tab := provider(t, "https://example.com")
	tab.Close()
	resp, err := New(p, nil).Do(context.Background(), contract.Request{Action: contract.ActionTransformWebsite})
	assert.ErrorIs(t, err, contract.ErrTransport)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	cases := []fakeTab{
		{sendErr: errors.New("Could not establish connection. Receiving end does not exist.")},
		{panics: true},
	}
	for _, ft := range cases {
		resp, err := New(fakeProvider{tab: ft}, nil).Do(context.Background(), contract.Request{Action: contract.ActionTransformWebsite})
		assert.ErrorIs(t, err, contract.ErrTransport)
		assert.False(t, resp.Success)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err = New(fakeProvider{tab: fakeTab{sendErr: context.Canceled}}, nil).Do(ctx, contract.Request{Action: contract.ActionTransformWebsite})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, resp.Success)
}

type fakeTab struct {
	sendErr error
	panics  bool
}

func (fakeTab) ID() string                       { return "fake" }
func (fakeTab) URL() string                      { return "https://example.com" }
func (fakeTab) Inject(context.Context) error     { return nil }
func (f fakeTab) Send(context.Context, contract.Message) (contract.Response, error) {
	if f.panics {
		panic("listener crashed")
	}
	return contract.Response{}, f.sendErr
}

type fakeProvider struct{ tab fakeTab }

func (p fakeProvider) Active(context.Context, string) (contract.Tab, error) { return p.tab, nil }
