package quiz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/internal/bridge"
	"halo/internal/content"
	"halo/internal/prompt"
	"halo/pkg/contract"
	"halo/plugins/session/mock"
	"halo/plugins/tab/static"
)

func article(n int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Lighthouses</title></head><body><main>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d explains how lighthouse keepers lived.</p>", i)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

type fetcher struct {
	text string
	err  error
}

func (f fetcher) Fetch(context.Context, string) (string, error) { return f.text, f.err }

func setup(t *testing.T, url, html string, tr contract.TranscriptFetcher, mockOpts string) (*Generator, *mock.Factory, *[]string) {
	t.Helper()
	p := static.NewProvider(content.Options{})
	_, err := p.Open("tab", url, strings.NewReader(html))
	require.NoError(t, err)
	f, err := mock.New([]byte(mockOpts))
	require.NoError(t, err)
	var st []string
	g := &Generator{
		Bridge:      bridge.New(p, nil),
		Transcripts: tr,
		Factory:     f,
		Status:      func(s string) { st = append(st, s) },
	}
	return g, f, &st
}

// UT-QZ-01: 题量与简答题数量
func TestCounts(t *testing.T) {
	cases := []struct{ n, desired, short int }{
		{1, 6, 3}, {30, 6, 3}, {33, 7, 4}, {35, 7, 4}, {38, 8, 4}, {200, 8, 4},
	}
	for _, c := range cases {
		d, s := Counts(c.n)
		assert.Equal(t, c.desired, d, c.n)
		assert.Equal(t, c.short, s, c.n)
	}
}

// UT-QZ-02: 正文截断与提示词
func TestExcerptAndPrompt(t *testing.T) {
	long := strings.Repeat("é", MaxContextChars+10)
	assert.Len(t, []rune(Excerpt([]string{long})), MaxContextChars)
	assert.Equal(t, "a\n\nb", Excerpt([]string{"a", "b"}))

	p := Prompt(prompt.B2, "EXCERPT", 7, 4)
	assert.True(t, strings.HasPrefix(p, "You are an encouraging language tutor. Create EXACTLY 7 comprehension-focused questions for B2 - Upper Intermediate (B2) English learners"))
	assert.Contains(t, p, "EXACTLY 4 short-answer questions and EXACTLY 3 multiple-choice questions")
	assert.Contains(t, p, "ARTICLE EXCERPT:\nEXCERPT\n")
	assert.True(t, strings.HasSuffix(p, "tailored to B2 learners"))
	assert.Contains(t, string(Schema(7)), `"minItems": 7`)
}

// UT-QZ-03: 规范化规则
func TestDecodeNormalizes(t *testing.T) {
	raw := `{"title":"  ","questions":[
	 {"type":"multiple-choice","question":" Q1 ","options":["a"," ","b",3,"c","d","e","f"],"answerIndex":4},
	 {"type":"multiple-choice","question":"","options":["only"],"answerIndex":1},
	 {"type":"short-answer","question":"Q3","explanation":" why "},
	 {"type":"short-answer","question":"Q4","answerText":"kept"}]}`
	q, err := Decode(raw, 3, "Lighthouses")
	require.NoError(t, err)
	assert.Equal(t, "Lighthouses — Language Check", q.Title)
	require.Len(t, q.Questions, 3)

	q1 := q.Questions[0]
	assert.Equal(t, "Q1", q1.Question)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, q1.Options)
	assert.Equal(t, 4, *q1.AnswerIndex)

	q2 := q.Questions[1]
	assert.Equal(t, "Question 2", q2.Question)
	assert.Equal(t, []string{"Yes", "No"}, q2.Options)
	assert.Equal(t, 1, *q2.AnswerIndex)

	q3 := q.Questions[2]
	assert.Equal(t, TypeShortAnswer, q3.Type)
	assert.Equal(t, DefaultAnswerText, q3.AnswerText)
	assert.Equal(t, "why", q3.Explanation)
	assert.Nil(t, q3.AnswerIndex)

	q, err = Decode(`{"title":"T","questions":[{"type":"multiple-choice","question":"x","options":["a","b"],"answerIndex":9}]}`, 6, "P")
	require.NoError(t, err)
	assert.Equal(t, "T", q.Title)
	assert.Equal(t, 0, *q.Questions[0].AnswerIndex)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode("not json", 6, "P")
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
	_, err = Decode(`{"title":"T","questions":[]}`, 6, "P")
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
	assert.Equal(t, "Quiz generation failed: The model did not return any quiz questions.\n\nTry refreshing or choosing a different article", FailureText(err))
}

// UT-QZ-04: 页面出题全流程，会话总被销毁
func TestGenerateFromPage(t *testing.T) {
	g, f, st := setup(t, "https://example.com/lighthouses", article(3), nil, `{}`)
	q, err := g.Generate(context.Background(), "", prompt.B1)
	require.NoError(t, err)
	assert.Equal(t, "Mock Quiz", q.Title)
	assert.Len(t, q.Questions, 2)
	assert.Equal(t, []string{
		"Gathering article content...",
		"Analyzing webpage content...",
		"Analyzed 3 paragraphs from page",
		"Quiz generated successfully",
	}, *st)
	require.Len(t, f.Sessions(), 1)
	assert.Equal(t, 1, f.Sessions()[0].Destroyed())
}

// UT-QZ-05: YouTube 字幕优先，失败时回退到页面抽取
func TestGenerateFromVideo(t *testing.T) {
	url := "https://www.youtube.com/watch?v=abc123"
	g, _, st := setup(t, url, article(2), fetcher{text: "First point. Second point! Third?"}, `{}`)
	_, err := g.Generate(context.Background(), "", prompt.A2)
	require.NoError(t, err)
	assert.Contains(t, *st, "Successfully extracted YouTube transcript")
	assert.Contains(t, *st, "Analyzed 3 transcript segments from video")

	g, _, st = setup(t, url, article(2), fetcher{err: errors.New("boom")}, `{}`)
	_, err = g.Generate(context.Background(), "", prompt.A2)
	require.NoError(t, err)
	assert.Contains(t, *st, "Could not get YouTube transcript. Trying to extract page content...")
	assert.Contains(t, *st, "Analyzed 2 transcript segments from video")
}

// UT-QZ-06: 失败路径
func TestGenerateFailures(t *testing.T) {
	g, f, _ := setup(t, "https://example.com", "<html><body><main><p>short</p></main></body></html>", nil, `{}`)
	_, err := g.Generate(context.Background(), "", prompt.B1)
	assert.ErrorIs(t, err, contract.ErrNoContent)
	assert.Empty(t, f.Sessions(), "无正文时不创建会话")

	g, _, _ = setup(t, "chrome://settings", article(3), nil, `{}`)
	_, err = g.Generate(context.Background(), "", prompt.B1)
	assert.ErrorIs(t, err, contract.ErrIneligiblePage)
	assert.Contains(t, err.Error(), bridge.IneligibleMessage)

	g, _, _ = setup(t, "https://example.com", article(3), nil, `{}`)
	g.Factory = contract.SessionFactoryFunc(func(context.Context, contract.SessionOptions) (contract.Session, error) {
		return nil, errors.New("model unavailable")
	})
	_, err = g.Generate(context.Background(), "", prompt.B1)
	assert.ErrorIs(t, err, contract.ErrSessionCreation)

	g, f, _ = setup(t, "https://example.com", article(3), nil, `{"quiz":{"title":"x","questions":[]}}`)
	_, err = g.Generate(context.Background(), "", prompt.B1)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
	require.Len(t, f.Sessions(), 1)
	assert.Equal(t, 1, f.Sessions()[0].Destroyed())

	_, err = (&Generator{}).Generate(context.Background(), "", prompt.B1)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
