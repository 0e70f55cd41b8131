package chat

import (
	"slices"
	"sync"
)

// Transcript is the shared conversation message list. Update is the only
// writer path; observers receive every new snapshot in order.
type Transcript struct {
	ConvID string

	mu        sync.Mutex
	msgs      []Message
	version   uint64
	observers []func(Snapshot)
}

// Snapshot is an immutable view of the transcript at one version.
type Snapshot struct {
	ConvID   string    `json:"convId"`
	Version  uint64    `json:"version"`
	Messages []Message `json:"messages"`
	Loading  bool      `json:"loading"`
}

func NewTranscript(convID string) *Transcript {
	return &Transcript{ConvID: convID}
}

// Observe registers fn for every subsequent snapshot.
func (t *Transcript) Observe(fn func(Snapshot)) {
	if t == nil || fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Transcript) Messages() []Message {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Clone(t.msgs)
}

func (t *Transcript) Version() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Update runs fn against the current list and stores its result. fn must treat
// its argument as read-only, which the helpers in this package do.
func (t *Transcript) Update(loading bool, fn func([]Message) []Message) Snapshot {
	t.mu.Lock()
	t.msgs = fn(t.msgs)
	t.version++
	snap := Snapshot{ConvID: t.ConvID, Version: t.version, Messages: Clone(t.msgs), Loading: loading}
	observers := slices.Clone(t.observers)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return snap
}

// Clear drops every message. Used when the user starts over.
func (t *Transcript) Clear() Snapshot {
	return t.Update(false, func([]Message) []Message { return nil })
}
