package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendCopies(t *testing.T) {
	base := make([]Message, 1, 4)
	base[0] = Message{ID: "u1", Role: RoleUser}
	a := Append(base, Message{ID: "a1"})
	b := Append(base, Message{ID: "b1"})
	require.Equal(t, "a1", a[1].ID)
	require.Equal(t, "b1", b[1].ID)
	require.Len(t, base, 1)
}

func TestReplaceTailOnlyTouchesOwnedAssistant(t *testing.T) {
	msgs := []Message{{ID: "u1", Role: RoleUser, Content: "hi"}}

	out, ok := ReplaceTail(msgs, "u1", func(m Message) Message { m.Content = "x"; return m })
	require.False(t, ok)
	require.Equal(t, "hi", out[0].Content)

	msgs = Append(msgs, Message{ID: "a1", Role: RoleAssistant, Content: "The"})
	_, ok = ReplaceTail(msgs, "other", func(m Message) Message { return m })
	require.False(t, ok)

	out, ok = ReplaceTail(msgs, "a1", func(m Message) Message {
		m.Content = "The movie"
		m.Role = RoleUser
		return m
	})
	require.True(t, ok)
	require.Equal(t, "The movie", out[1].Content)
	require.Equal(t, RoleAssistant, out[1].Role)
	require.Equal(t, "The", msgs[1].Content)
}

func TestTailEmpty(t *testing.T) {
	_, ok := Tail(nil)
	require.False(t, ok)
}
