// Package rapidapi 通过 RapidAPI 字幕服务拉取 YouTube 视频字幕，并清洗为纯文本。
package rapidapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"halo/pkg/contract"
)

// DefaultHost 为字幕服务的 RapidAPI 主机名。
const DefaultHost = "youtube-captions-transcript-subtitles-video-combiner.p.rapidapi.com"

// Options: 字幕拉取配置。
type Options struct {
	APIKey         string `json:"api_key,omitempty"`
	APIKeyEnv      string `json:"api_key_env,omitempty"`
	Host           string `json:"host,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// Fetcher 实现 contract.TranscriptFetcher。
type Fetcher struct {
	client *resty.Client
}

// New 解析配置并构造 Fetcher；缺少 API Key 时返回 ErrInvalidInput。
func New(raw json.RawMessage) (*Fetcher, error) {
	var o Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("transcript options: %v: %w", err, contract.ErrInvalidInput)
		}
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "RAPIDAPI_KEY"
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv(o.APIKeyEnv)
	}
	if o.APIKey == "" {
		return nil, fmt.Errorf("transcript: api key missing (set %s): %w", o.APIKeyEnv, contract.ErrInvalidInput)
	}
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.BaseURL == "" {
		o.BaseURL = "https://" + o.Host
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 30
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(o.BaseURL, "/")).
		SetTimeout(time.Duration(o.TimeoutSeconds) * time.Second).
		SetHeaders(map[string]string{
			"x-rapidapi-key":  o.APIKey,
			"x-rapidapi-host": o.Host,
		})
	return &Fetcher{client: c}, nil
}

var (
	errNotFound     = errors.New("Video not found or transcript not available")
	errNoTranscript = errors.New("This video has no available transcripts")
)

// Fetch 拉取 videoID 的字幕纯文本；优先英文轨道。
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", fmt.Errorf("empty video id: %w", contract.ErrInvalidInput)
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetPathParam("id", videoID).
		SetQueryParams(map[string]string{"format_subtitle": "srt", "format_answer": "json"}).
		Get("/download-all/{id}")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("Failed to get transcript: %v: %w", err, contract.ErrTransport)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusForbidden || code == http.StatusNotFound:
		return "", fmt.Errorf("%w: %w", errNotFound, contract.ErrNoContent)
	case code < 200 || code > 299:
		return "", fmt.Errorf("Failed to get transcript: Failed to fetch transcript: %d %s: %w", code, http.StatusText(code), contract.ErrTransport)
	}
	tracks := gjson.ParseBytes(resp.Body())
	if !tracks.IsArray() || len(tracks.Array()) == 0 {
		return "", fmt.Errorf("%w: %w", errNoTranscript, contract.ErrNoContent)
	}
	sub := pickTrack(tracks.Array()).Get("subtitle").String()
	if sub == "" {
		return "", fmt.Errorf("Failed to get transcript: No transcript content found: %w", contract.ErrNoContent)
	}
	text := Clean(sub)
	if text == "" {
		return "", fmt.Errorf("Failed to get transcript: Unable to parse transcript content: %w", contract.ErrNoContent)
	}
	return text, nil
}

// pickTrack: languageCode 以 en 开头者优先，其次包含 en，否则取第一条。
func pickTrack(ts []gjson.Result) gjson.Result {
	for _, t := range ts {
		if strings.HasPrefix(t.Get("languageCode").String(), "en") {
			return t
		}
	}
	for _, t := range ts {
		if strings.Contains(strings.ToLower(t.Get("languageCode").String()), "en") {
			return t
		}
	}
	return ts[0]
}

var (
	seqLineRe  = regexp.MustCompile(`^\d+$`)
	timeLineRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}`)
)

// Clean 将 SRT 字幕清洗为单行纯文本：丢弃序号行、时间轴行与空行，合并空白。
func Clean(srt string) string {
	var texts []string
	for _, line := range strings.Split(srt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seqLineRe.MatchString(line) || timeLineRe.MatchString(line) {
			continue
		}
		texts = append(texts, line)
	}
	return strings.Join(strings.Fields(strings.Join(texts, " ")), " ")
}

var _ contract.TranscriptFetcher = (*Fetcher)(nil)
