package chat

// The helpers below never modify their input slice. Callers hold the only
// reference to the returned slice and publish it as the new message list.

// Append returns msgs with m added at the end.
func Append(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

// Tail returns the last message, if any.
func Tail(msgs []Message) (Message, bool) {
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// ReplaceTail swaps the last message for the result of fn. It refuses to touch
// anything but an assistant message with the given id.
func ReplaceTail(msgs []Message, id string, fn func(Message) Message) ([]Message, bool) {
	tail, ok := Tail(msgs)
	if !ok || !tail.IsAssistant() || tail.ID != id {
		return msgs, false
	}
	next := fn(tail)
	next.ID = tail.ID
	next.Role = tail.Role
	out := make([]Message, len(msgs))
	copy(out, msgs)
	out[len(out)-1] = next
	return out, true
}

// Clone returns a copy that shares no backing array with msgs.
func Clone(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
