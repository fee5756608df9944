package quiz

import (
	"fmt"
	"math"
	"strings"

	"halo/internal/prompt"
)

// MaxContextChars: 送入模型的正文字符上限。
const MaxContextChars = 14000

// Counts 根据段落数计算题目总数与简答题数量。
func Counts(paragraphs int) (desired, short int) {
	desired = int(math.Round(float64(paragraphs) / 5))
	desired = min(8, max(6, desired))
	short = (desired + 1) / 2
	return desired, short
}

// Excerpt 以空行拼接段落并截断至 MaxContextChars 个字符。
func Excerpt(paragraphs []string) string {
	s := strings.Join(paragraphs, prompt.ParagraphSeparator)
	if r := []rune(s); len(r) > MaxContextChars {
		s = string(r[:MaxContextChars])
	}
	return s
}

// Prompt 构造出题提示词。
func Prompt(level prompt.Level, excerpt string, desired, short int) string {
	mcq := desired - short
	l := string(level)
	var b strings.Builder
	fmt.Fprintf(&b, "You are an encouraging language tutor. Create EXACTLY %d comprehension-focused questions for %s (%s) English learners based on the provided article excerpt. \n\n", desired, level.Label(), l)
	b.WriteString("CRITICAL REQUIREMENTS:\n")
	fmt.Fprintf(&b, "- Create EXACTLY %d short-answer questions and EXACTLY %d multiple-choice questions\n", short, mcq)
	fmt.Fprintf(&b, "- Adapt question complexity, vocabulary, and expected answer depth to match %s proficiency level\n", l)
	fmt.Fprintf(&b, "- Focus on reading comprehension, vocabulary in context, inference, tone, and summarizing ability appropriate for %s learners\n", l)
	fmt.Fprintf(&b, "- For short-answer questions: Provide a complete model answer in the \"answerText\" field (2-3 sentences, using %s-appropriate language)\n", l)
	fmt.Fprintf(&b, "- For multiple-choice questions: Provide 3-4 options with the correct answer indicated by \"answerIndex\" (0-based), using %s-appropriate vocabulary\n", l)
	fmt.Fprintf(&b, "- Every question MUST have a helpful \"explanation\" field that supports learning at the %s level\n\n", l)
	b.WriteString("ARTICLE EXCERPT:\n")
	b.WriteString(excerpt)
	b.WriteString("\n\n\n\nReturn a JSON object with:\n")
	b.WriteString("- title: A descriptive quiz title\n")
	fmt.Fprintf(&b, "- questions: Array of EXACTLY %d question objects, each with:\n", desired)
	fmt.Fprintf(&b, "  - question: The question text (%s-appropriate)\n", l)
	b.WriteString("  - type: Either \"multiple-choice\" or \"short-answer\"\n")
	b.WriteString("  - For multiple-choice: options (array), answerIndex (number)\n")
	b.WriteString("  - For short-answer: answerText (complete model answer)\n")
	fmt.Fprintf(&b, "  - explanation: Learning context or tip tailored to %s learners", l)
	return b.String()
}

// Schema 返回题目数量固定为 desired 的响应 JSON Schema。
func Schema(desired int) []byte {
	return []byte(fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "questions": {
      "type": "array",
      "minItems": %d,
      "maxItems": %d,
      "items": {
        "type": "object",
        "properties": {
          "question": {"type": "string"},
          "type": {"type": "string", "enum": ["multiple-choice", "short-answer"]},
          "options": {"type": "array", "items": {"type": "string"}},
          "answerIndex": {"type": "number"},
          "answerText": {"type": "string"},
          "explanation": {"type": "string"}
        },
        "required": ["question", "type"]
      }
    }
  },
  "required": ["title", "questions"]
}`, desired, desired))
}
