package stream

import (
	"time"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

// TokenBuffer accumulates answer text together with delimiter counts. It is a
// value: Append returns a new buffer and leaves the receiver untouched.
type TokenBuffer struct {
	content       string
	openParens    int
	closeParens   int
	openBrackets  int
	closeBrackets int
}

func (b TokenBuffer) Append(delta string) TokenBuffer {
	for _, r := range delta {
		switch r {
		case '(':
			b.openParens++
		case ')':
			b.closeParens++
		case '[':
			b.openBrackets++
		case ']':
			b.closeBrackets++
		}
	}
	b.content += delta
	return b
}

// Balanced reports equal counts of ( and ) and of [ and ].
func (b TokenBuffer) Balanced() bool {
	return b.openParens == b.closeParens && b.openBrackets == b.closeBrackets
}

func (b TokenBuffer) String() string { return b.content }

func (b TokenBuffer) Len() int { return len(b.content) }

// TokenAssembler applies answer deltas and publishes the buffer only at
// balanced points.
type TokenAssembler struct {
	newID func() string
	now   func() time.Time
}

func (a TokenAssembler) Assemble(st State, msgs []chat.Message, tok AnswerToken) (State, []chat.Message, Outcome) {
	if tok.Text == "" {
		return st, msgs, OutcomeMalformed
	}
	st.Buffer = st.Buffer.Append(tok.Text)
	if !st.Buffer.Balanced() {
		return st, msgs, OutcomeDeferred
	}
	content := st.Buffer.String()

	if st.AssistantID != "" {
		if out, ok := chat.ReplaceTail(msgs, st.AssistantID, func(m chat.Message) chat.Message {
			m.Content = content
			return m
		}); ok {
			return st, out, OutcomePublished
		}
	}

	msg := chat.Message{
		ID:        a.newID(),
		Role:      chat.RoleAssistant,
		Content:   content,
		CreatedAt: a.now(),
	}
	st.AssistantID = msg.ID
	return st, chat.Append(msgs, msg), OutcomePublished
}
