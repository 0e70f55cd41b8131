package cmds

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reelchat/pkg/mockbackend"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

const testCredential = "sk-test-credential-0000000"

func mockServer(t *testing.T, opts ...mockbackend.Option) (*mockbackend.Server, string) {
	t.Helper()
	backend := mockbackend.New(settings.Default().Channels, opts...)
	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(ts.Close)
	return backend, ts.URL
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestAskStreamsAnswer(t *testing.T) {
	backend, url := mockServer(t)
	out, err := run(t, "", "ask", "--base-url", url, "--credential", testCredential, "recommend", "a", "movie")
	require.NoError(t, err)
	require.Contains(t, out, "I recommend checking out 'Inception'")
	require.Contains(t, out, "Inception (2010)")
	require.Contains(t, out, "[1. 🎬 Similar sci-fi movies]")

	inits, streams := backend.Stats()
	require.Equal(t, 1, inits)
	require.Equal(t, 1, streams)
}

func TestAskWithoutCredentialUsesReplyEndpoint(t *testing.T) {
	backend, url := mockServer(t)
	out, err := run(t, "", "ask", "--base-url", url, "--no-stream", "what is trending")
	require.NoError(t, err)
	require.Contains(t, out, "Here are the most trending movies and shows right now:")
	require.Contains(t, out, "Dune (2021)")

	inits, streams := backend.Stats()
	require.Zero(t, inits)
	require.Zero(t, streams)
}

func TestAskInteractiveSuggestionShortcut(t *testing.T) {
	_, url := mockServer(t)
	out, err := run(t, "recommend a movie\n2\n/history\n/quit\n",
		"ask", "--base-url", url, "--credential", testCredential)
	require.NoError(t, err)
	require.Contains(t, out, "What other Christopher Nolan movies do you recommend?")
	require.Equal(t, 2, strings.Count(out, "you\n"))
}

func TestAskPrimingFailureReportsOnce(t *testing.T) {
	_, url := mockServer(t, mockbackend.WithFailingPriming())
	out, err := run(t, "", "ask", "--base-url", url, "--credential", testCredential, "hi")
	require.Error(t, err)
	require.Equal(t, 1, strings.Count(out, "Could not start the conversation. Please try again."))
}

func TestHistoryListsRecordedConversations(t *testing.T) {
	_, url := mockServer(t)
	db := filepath.Join(t.TempDir(), "history", "reelchat.db")

	_, err := run(t, "", "ask", "--base-url", url, "--credential", testCredential,
		"--sqlite", db, "--conversation", "movie-night", "recommend a movie")
	require.NoError(t, err)

	out, err := run(t, "", "history", "--sqlite", db)
	require.NoError(t, err)
	require.Contains(t, out, "movie-night")

	out, err = run(t, "", "history", "--sqlite", db, "movie-night")
	require.NoError(t, err)
	require.Contains(t, out, "you\nrecommend a movie\n")
	require.Contains(t, out, "Inception (2010)")

	out, err = run(t, "", "history", "--sqlite", db, "unknown")
	require.NoError(t, err)
	require.Contains(t, out, "no messages recorded for unknown")
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, err := run(t, "", "history")
	require.Error(t, err)
}

func TestReplyCommand(t *testing.T) {
	_, url := mockServer(t)
	out, err := run(t, "", "reply", "--base-url", url, "hello")
	require.NoError(t, err)
	require.Contains(t, out, "assistant\n")
	require.Contains(t, out, "I'm here to help you discover amazing movies and TV shows!")
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitLogger("info", "json", &buf))
	require.Error(t, InitLogger("loud", "json", &buf))
	require.Error(t, InitLogger("info", "xml", &buf))
	require.NoError(t, InitLogger("warn", "console", &buf))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", truncate("short", 10))
	require.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
