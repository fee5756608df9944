package quiz

import (
	"encoding/json"
	"fmt"
	"strings"

	"halo/pkg/contract"
)

const (
	TypeMultipleChoice = "multiple-choice"
	TypeShortAnswer    = "short-answer"

	// DefaultAnswerText: 简答题缺少参考答案时的占位文本。
	DefaultAnswerText = "Please provide your interpretation based on the article content."
)

// Question 为规范化后的题目。
type Question struct {
	Type        string   `json:"type"`
	Question    string   `json:"question"`
	Options     []string `json:"options,omitempty"`
	AnswerIndex *int     `json:"answerIndex,omitempty"`
	AnswerText  string   `json:"answerText,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz 为生成结果。
type Quiz struct {
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

type rawQuestion struct {
	Question    string   `json:"question"`
	Type        string   `json:"type"`
	Options     []any    `json:"options"`
	AnswerIndex *float64 `json:"answerIndex"`
	AnswerText  string   `json:"answerText"`
	Explanation string   `json:"explanation"`
}

type rawQuiz struct {
	Title     string        `json:"title"`
	Questions []rawQuestion `json:"questions"`
}

// Decode 严格解析模型输出并规范化：截取前 desired 道题，
// 选择题选项去空并最多保留 5 个（不足 2 个回退为 Yes/No），答案下标越界归零，
// 简答题缺答案时填充占位文本，标题为空时使用 "<pageTitle> — Language Check"。
func Decode(text string, desired int, pageTitle string) (*Quiz, error) {
	var rq rawQuiz
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &rq); err != nil {
		return nil, fmt.Errorf("decode quiz json: %v: %w", err, contract.ErrResponseInvalid)
	}
	if len(rq.Questions) == 0 {
		return nil, &Failure{Msg: "The model did not return any quiz questions.", Err: contract.ErrResponseInvalid}
	}
	if len(rq.Questions) > desired {
		rq.Questions = rq.Questions[:desired]
	}
	q := &Quiz{Title: strings.TrimSpace(rq.Title)}
	if q.Title == "" {
		q.Title = pageTitle + " — Language Check"
	}
	for i, r := range rq.Questions {
		q.Questions = append(q.Questions, normalize(i, r))
	}
	return q, nil
}

func normalize(i int, r rawQuestion) Question {
	out := Question{
		Question:    strings.TrimSpace(r.Question),
		Explanation: strings.TrimSpace(r.Explanation),
	}
	if out.Question == "" {
		out.Question = fmt.Sprintf("Question %d", i+1)
	}
	if r.Type != TypeMultipleChoice {
		out.Type = TypeShortAnswer
		out.AnswerText = strings.TrimSpace(r.AnswerText)
		if out.AnswerText == "" {
			out.AnswerText = DefaultAnswerText
		}
		return out
	}
	out.Type = TypeMultipleChoice
	for _, o := range r.Options {
		if s, ok := o.(string); ok && strings.TrimSpace(s) != "" && len(out.Options) < 5 {
			out.Options = append(out.Options, s)
		}
	}
	if len(out.Options) < 2 {
		out.Options = []string{"Yes", "No"}
	}
	idx := 0
	if r.AnswerIndex != nil {
		if f := *r.AnswerIndex; f >= 0 && f < float64(len(out.Options)) && f == float64(int(f)) {
			idx = int(f)
		}
	}
	out.AnswerIndex = &idx
	return out
}
