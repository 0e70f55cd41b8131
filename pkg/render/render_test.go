package render

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

func plainRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(Options{})
	require.NoError(t, err)
	return r
}

func TestPlainMessage(t *testing.T) {
	r := plainRenderer(t)
	out := r.Message(chat.Message{Role: chat.RoleUser, Content: "recommend a movie"})
	require.Equal(t, "you\nrecommend a movie\n", out)
}

func TestPlainPayload(t *testing.T) {
	r := plainRenderer(t)
	out := r.Message(chat.Message{
		Role:    chat.RoleAssistant,
		Content: "Try this.",
		Payload: &chat.Payload{
			MediaItems: []chat.MediaItem{{
				Title:       "Inception",
				ReleaseYear: 2010,
				Genre:       chat.Genres{"Sci-Fi", "Thriller"},
				Rating:      8.8,
				Duration:    "148 min",
				Director:    "Christopher Nolan",
				Overview:    "Dreams within dreams.",
			}},
			RecommendationReason: "Complex and visual.",
			Suggestions: []chat.Suggestion{
				{Icon: "🎬", Text: "Similar", Query: "more"},
				{Text: "Nolan", Query: "nolan"},
			},
		},
	})

	require.True(t, strings.HasPrefix(out, "assistant\nTry this.\n"))
	require.Contains(t, out, "Inception (2010)  Sci-Fi, Thriller · ★ 8.8 · 148 min · dir. Christopher Nolan")
	require.Contains(t, out, "    Dreams within dreams.\n")
	require.Contains(t, out, "Complex and visual.\n")
	require.Contains(t, out, "[1. 🎬 Similar] [2. Nolan]")
	require.NotContains(t, out, "\x1b[")
}

func TestTranscriptJoinsMessages(t *testing.T) {
	r := plainRenderer(t)
	out := r.Transcript([]chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello\n"},
	})
	require.Equal(t, "you\nhi\n\nassistant\nhello\n", out)
}

func TestEmptyPayloadRendersNothing(t *testing.T) {
	r := plainRenderer(t)
	require.Empty(t, r.Payload(nil))
	require.Empty(t, r.Payload(&chat.Payload{}))
}

func TestStyledMarkdown(t *testing.T) {
	r, err := New(Options{Styled: true, Width: 60})
	require.NoError(t, err)
	out := r.Message(chat.Message{Role: chat.RoleAssistant, Content: "Watch **Inception** tonight."})
	require.Contains(t, out, "Inception")
	require.Contains(t, out, "tonight")
}

func TestDelta(t *testing.T) {
	require.Equal(t, " world", Delta("hello", "hello world"))
	require.Equal(t, "hello", Delta("", "hello"))
	require.Equal(t, "", Delta("same", "same"))
	require.Equal(t, "\nother", Delta("hello", "other"))
}

func TestIsTerminalOnRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.False(t, IsTerminal(f))
}
