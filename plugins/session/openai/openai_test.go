package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/internal/diag"
	"halo/pkg/contract"
)

type stub struct {
	reqs   []request
	auth   []string
	status int
	reply  string
}

func (s *stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.reqs = append(s.reqs, req)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	if r.URL.Path != "/v1/chat/completions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": s.reply}}},
	})
}

func newFactory(t *testing.T, s *stub) *Factory {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	raw, _ := json.Marshal(map[string]any{"api_key": "sk-test", "base_url": srv.URL + "/v1", "model": "m"})
	f, err := New(raw)
	require.NoError(t, err)
	return f
}

// UT-OAI-01: 历史累积与鉴权头
func TestPromptHistory(t *testing.T) {
	s := &stub{reply: "ok"}
	f := newFactory(t, s)
	sess, err := f.Create(context.Background(), contract.SessionOptions{SystemPrompt: "sys"})
	require.NoError(t, err)
	out, err := sess.Prompt(context.Background(), "one", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	_, err = sess.Prompt(context.Background(), "two", nil)
	require.NoError(t, err)

	require.Len(t, s.reqs, 2)
	assert.Equal(t, "Bearer sk-test", s.auth[0])
	assert.Equal(t, "m", s.reqs[0].Model)
	assert.Len(t, s.reqs[0].Messages, 2)
	assert.Equal(t, []message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "two"},
	}, s.reqs[1].Messages)
	assert.Nil(t, s.reqs[0].ResponseFormat)
}

// UT-OAI-02: Schema 映射为 json_schema 响应格式
func TestPromptSchema(t *testing.T) {
	s := &stub{reply: "{}"}
	f := newFactory(t, s)
	sess, _ := f.Create(context.Background(), contract.SessionOptions{})
	_, err := sess.Prompt(context.Background(), "q", &contract.PromptConfig{ResponseSchema: json.RawMessage(`{"type":"object"}`)})
	require.NoError(t, err)
	require.NotNil(t, s.reqs[0].ResponseFormat)
	assert.Equal(t, "json_schema", s.reqs[0].ResponseFormat.Type)
}

// UT-OAI-03: 状态码分类
func TestStatusMapping(t *testing.T) {
	s := &stub{status: http.StatusTooManyRequests}
	f := newFactory(t, s)
	sess, _ := f.Create(context.Background(), contract.SessionOptions{})
	_, err := sess.Prompt(context.Background(), "x", nil)
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	s.status = http.StatusBadGateway
	_, err = sess.Prompt(context.Background(), "x", nil)
	assert.Equal(t, diag.CodeNetwork, diag.Classify(err))
	var ue contract.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "slow down", ue.UpstreamMessage())

	s.status = http.StatusBadRequest
	_, err = sess.Prompt(context.Background(), "x", nil)
	assert.ErrorIs(t, err, contract.ErrGeneration)

	s.status = 0
	s.reply = ""
	_, err = sess.Prompt(context.Background(), "x", nil)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	sess.Destroy()
	_, err = sess.Prompt(context.Background(), "x", nil)
	assert.ErrorIs(t, err, contract.ErrSessionClosed)
}

func TestMissingKey(t *testing.T) {
	t.Setenv("HALO_TEST_EMPTY", "")
	_, err := New(json.RawMessage(`{"api_key_env":"HALO_TEST_EMPTY"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
