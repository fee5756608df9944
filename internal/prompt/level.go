package prompt

import (
	"fmt"
	"strings"

	"halo/pkg/contract"
)

// Level 为 CEFR 熟练度等级代码（A1..C2）。
type Level string

const (
	A1 Level = "A1"
	A2 Level = "A2"
	B1 Level = "B1"
	B2 Level = "B2"
	C1 Level = "C1"
	C2 Level = "C2"
)

// DefaultLevel 为未配置时使用的等级。
const DefaultLevel = B1

// LevelInfo 描述一个等级。
type LevelInfo struct {
	Label       string
	Description string
}

// Levels 为全部等级的展示信息。
var Levels = map[Level]LevelInfo{
	A1: {"A1 - Beginner", "Can understand and use familiar everyday expressions and basic phrases"},
	A2: {"A2 - Elementary", "Can understand sentences and frequently used expressions"},
	B1: {"B1 - Intermediate", "Can understand the main points of clear standard input"},
	B2: {"B2 - Upper Intermediate", "Can understand the main ideas of complex text"},
	C1: {"C1 - Advanced", "Can understand a wide range of demanding, longer texts"},
	C2: {"C2 - Proficient", "Can understand virtually everything heard or read with ease"},
}

// AllLevels 按由低到高的顺序列出等级。
var AllLevels = []Level{A1, A2, B1, B2, C1, C2}

// ParseLevel 解析等级代码（大小写不敏感）；空串返回默认等级。
func ParseLevel(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultLevel, nil
	}
	l := Level(s)
	if _, ok := Levels[l]; !ok {
		return "", fmt.Errorf("unknown CEFR level %q: %w", s, contract.ErrInvalidInput)
	}
	return l, nil
}

// Label 返回等级展示名；未知等级回退为代码本身。
func (l Level) Label() string {
	if info, ok := Levels[l]; ok {
		return info.Label
	}
	return string(l)
}
