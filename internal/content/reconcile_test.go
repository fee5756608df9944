package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// UT-REC-01: 拆分规则
func TestReconcile(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		expected int
		want     []string
	}{
		{"空行分隔", "one\n\ntwo\n\n\nthree", 3, []string{"one", "two", "three"}},
		{"裁剪与丢弃空段", "  one  \n\n \n\n two ", 2, []string{"one", "two"}},
		{"单段多元素二次拆分", "one\ntwo\nthree", 3, []string{"one", "two", "three"}},
		{"单段单元素不二次拆分", "one\ntwo", 1, []string{"one\ntwo"}},
		{"二次拆分后仍为一段", "a single sentence without breaks", 3, []string{"a single sentence without breaks"}},
		{"多出的段原样返回", "a\n\nb\n\nc", 2, []string{"a", "b", "c"}},
		{"CRLF", "one\r\n\r\ntwo", 2, []string{"one", "two"}},
		{"全空", "\n\n  \n", 2, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Reconcile(c.in, c.expected))
		})
	}
}

// UT-REC-02: 已有空行分隔时不因单换行再拆
func TestReconcileKeepsInnerNewlines(t *testing.T) {
	got := Reconcile("line a\nline b\n\nline c", 2)
	assert.Equal(t, []string{"line a\nline b", "line c"}, got)
}
