// Package quiz 根据页面正文或 YouTube 字幕生成阅读理解测验。
package quiz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"halo/internal/bridge"
	"halo/internal/diag"
	"halo/internal/prompt"
	"halo/pkg/contract"
	"halo/plugins/transcript/rapidapi"
)

const (
	// DefaultTitle: 页面没有标题时的测验来源名。
	DefaultTitle = "Reading Comprehension Challenge"
	// VideoTitle: 字幕来源的测验来源名。
	VideoTitle = "YouTube Video Quiz"
)

// Failure 为面向用户的失败：Error() 即展示文本，Unwrap 保留分类哨兵。
type Failure struct {
	Msg string
	Err error
}

func (f *Failure) Error() string { return f.Msg }
func (f *Failure) Unwrap() error { return f.Err }

// FailureText 返回失败时展示给用户的完整提示。
func FailureText(err error) string {
	msg := "Unknown error occurred"
	if err != nil {
		msg = err.Error()
	}
	return "Quiz generation failed: " + msg + "\n\nTry refreshing or choosing a different article"
}

// Generator 绑定出题所需的协作者。
type Generator struct {
	Bridge *bridge.Bridge
	// Transcripts 为 nil 时 YouTube 页面直接走页面抽取。
	Transcripts contract.TranscriptFetcher
	Factory     contract.SessionFactory
	Logger      *diag.Logger
	// Status 接收逐步的状态文本；可为 nil。
	Status func(string)
}

func (g *Generator) status(s string) {
	if g.Status != nil {
		g.Status(s)
	}
}

// Generate 为 tabID 指向的标签页（空表示活动标签页）生成测验。会话总在返回前销毁。
func (g *Generator) Generate(ctx context.Context, tabID string, level prompt.Level) (*Quiz, error) {
	t := g.Logger.StartWithKV("quiz", "generate", tabID, "", map[string]string{"level": string(level)})
	q, err := g.generate(ctx, tabID, level)
	if err != nil {
		code := diag.Classify(err)
		g.Logger.ErrorWithKV("quiz", string(code), err.Error(), t.Since(), tabID, "", nil)
		diag.IncOp("quiz", "generate", "error")
		diag.IncError("quiz", string(code))
		return nil, err
	}
	t.Finish("quiz generated", int64(len(q.Questions)))
	diag.IncOp("quiz", "generate", "success")
	return q, nil
}

func (g *Generator) generate(ctx context.Context, tabID string, level prompt.Level) (*Quiz, error) {
	if g.Bridge == nil || g.Factory == nil {
		return nil, fmt.Errorf("quiz: bridge and session factory required: %w", contract.ErrInvalidInput)
	}
	g.status("Gathering article content...")
	url, err := g.Bridge.TabURL(ctx, tabID)
	if err != nil {
		return nil, err
	}
	video := rapidapi.IsYouTubeURL(url)

	var paras []string
	title := DefaultTitle
	if video {
		g.status("Detected YouTube video, fetching transcript...")
		id, ok := rapidapi.VideoID(url)
		if !ok {
			return nil, &Failure{Msg: "Could not extract video ID from YouTube URL", Err: contract.ErrInvalidInput}
		}
		text, terr := g.transcript(ctx, id)
		if terr == nil {
			paras, title = rapidapi.Sentences(text), VideoTitle
			g.status("Successfully extracted YouTube transcript")
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.Logger.Warn("quiz", "transcript unavailable", map[string]string{"video": id, "error": terr.Error()})
			g.status("Could not get YouTube transcript. Trying to extract page content...")
			if paras, title, err = g.extract(ctx, tabID, title); err != nil {
				return nil, err
			}
		}
	} else {
		g.status("Analyzing webpage content...")
		if paras, title, err = g.extract(ctx, tabID, title); err != nil {
			return nil, err
		}
	}
	if len(paras) == 0 {
		return nil, &Failure{Msg: "No content found. Try a different page with more text.", Err: contract.ErrNoContent}
	}
	if video {
		g.status(fmt.Sprintf("Analyzed %d transcript segments from video", len(paras)))
	} else {
		g.status(fmt.Sprintf("Analyzed %d paragraphs from page", len(paras)))
	}

	desired, short := Counts(len(paras))
	s, err := g.Factory.Create(ctx, contract.TextSessionOptions())
	if err != nil {
		return nil, fmt.Errorf("create session: %w: %w", contract.ErrSessionCreation, err)
	}
	defer s.Destroy()

	p := Prompt(level, Excerpt(paras), desired, short)
	start := time.Now()
	out, err := s.Prompt(ctx, p, &contract.PromptConfig{ResponseSchema: Schema(desired)})
	diag.ObserveDuration("quiz", "prompt", time.Since(start).Milliseconds())
	if err != nil {
		return nil, err
	}
	q, err := Decode(out, desired, title)
	if err != nil {
		return nil, err
	}
	g.status("Quiz generated successfully")
	return q, nil
}

func (g *Generator) transcript(ctx context.Context, videoID string) (string, error) {
	if g.Transcripts == nil {
		return "", errors.New("transcript fetcher not configured")
	}
	return g.Transcripts.Fetch(ctx, videoID)
}

// extract 经桥接请求 EXTRACT_QUIZ_CONTENT；title 为页面无标题时的回退值。
func (g *Generator) extract(ctx context.Context, tabID, title string) ([]string, string, error) {
	resp, err := g.Bridge.Do(ctx, contract.Request{Action: contract.ActionExtractQuizContent, TabID: tabID})
	if err == nil && !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "Failed to extract content"
		}
		err = &Failure{Msg: msg, Err: contract.ErrNoContent}
	}
	if err != nil {
		return nil, "", err
	}
	if resp.Title != "" {
		title = resp.Title
	}
	return resp.Paragraphs, title, nil
}
