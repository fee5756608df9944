package rapidapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halo/pkg/contract"
)

const srtBody = "1\n00:00:01,000 --> 00:00:03,000\nHello  there.\n\n2\n00:00:03,500 --> 00:00:05,000\nHow are\nyou today?\n"

func stub(t *testing.T, status int, body string) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download-all/abc123", r.URL.Path)
		assert.Equal(t, "srt", r.URL.Query().Get("format_subtitle"))
		assert.Equal(t, "k", r.Header.Get("x-rapidapi-key"))
		assert.Equal(t, DefaultHost, r.Header.Get("x-rapidapi-host"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	f, err := New([]byte(`{"api_key":"k","base_url":"` + srv.URL + `"}`))
	require.NoError(t, err)
	return f
}

// UT-TRN-01: SRT 清洗
func TestClean(t *testing.T) {
	assert.Equal(t, "Hello there. How are you today?", Clean(srtBody))
	assert.Equal(t, "", Clean("1\n00:00:01,000 --> 00:00:02,000\n\n"))
}

// UT-TRN-02: 优先英文轨道
func TestFetchPrefersEnglish(t *testing.T) {
	body := `[{"languageCode":"de","subtitle":"1\n00:00:01,000 --> 00:00:02,000\nHallo."},` +
		`{"languageCode":"en-US","subtitle":"1\n00:00:01,000 --> 00:00:02,000\nHello."}]`
	text, err := stub(t, 200, body).Fetch(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Hello.", text)

	text, err = stub(t, 200, `[{"languageCode":"fr","subtitle":"Bonjour."}]`).Fetch(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Bonjour.", text)
}

// UT-TRN-03: 错误映射
func TestFetchErrors(t *testing.T) {
	_, err := stub(t, 404, "").Fetch(context.Background(), "abc123")
	assert.ErrorIs(t, err, contract.ErrNoContent)
	assert.Contains(t, err.Error(), "Video not found")

	_, err = stub(t, 500, "").Fetch(context.Background(), "abc123")
	assert.ErrorIs(t, err, contract.ErrTransport)

	_, err = stub(t, 200, `[]`).Fetch(context.Background(), "abc123")
	assert.Contains(t, err.Error(), "no available transcripts")

	_, err = stub(t, 200, `[{"languageCode":"en"}]`).Fetch(context.Background(), "abc123")
	assert.ErrorIs(t, err, contract.ErrNoContent)

	t.Setenv("RAPIDAPI_KEY", "")
	_, err = New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestVideoID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=1": "dQw4w9WgXcQ",
		"https://youtu.be/abc?si=x":                     "abc",
		"https://www.youtube.com/embed/xyz":             "xyz",
		"https://youtube.com/shorts/s1":                 "s1",
		"https://m.example.com/play?v=q9":               "q9",
	}
	for u, want := range cases {
		got, ok := VideoID(u)
		assert.True(t, ok, u)
		assert.Equal(t, want, got, u)
	}
	_, ok := VideoID("https://example.com/")
	assert.False(t, ok)
	assert.True(t, IsYouTubeURL("https://www.youtube.com/watch?v=1"))
	assert.False(t, IsYouTubeURL("https://example.com/watch"))
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two?", "Three!"}, Sentences("One. Two? Three!"))
	assert.Equal(t, []string{"no punctuation"}, Sentences("no punctuation"))
}
