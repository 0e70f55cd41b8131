package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

// InMemoryTranscriptStore is a size-limited, in-memory TranscriptStore implementation.
// It mirrors the ordering semantics of the SQLite store so commands behave the
// same with and without a database file.
type InMemoryTranscriptStore struct {
	mu                 sync.Mutex
	maxMessagesPerConv int
	convs              map[string]*inMemTranscript
}

type inMemTranscript struct {
	record ConversationRecord
	msgs   []storedMessage
	index  map[string]int
}

type storedMessage struct {
	msg  chat.Message
	hash string
}

var _ TranscriptStore = &InMemoryTranscriptStore{}

func NewInMemoryTranscriptStore(maxMessagesPerConv int) *InMemoryTranscriptStore {
	if maxMessagesPerConv <= 0 {
		maxMessagesPerConv = 5000
	}
	return &InMemoryTranscriptStore{
		maxMessagesPerConv: maxMessagesPerConv,
		convs:              map[string]*inMemTranscript{},
	}
}

func (s *InMemoryTranscriptStore) Close() error { return nil }

func (s *InMemoryTranscriptStore) RecordMessages(_ context.Context, convID string, msgs []chat.Message) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return errors.New("in-memory transcript store: convID is empty")
	}
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	conv := s.convs[convID]
	if conv == nil {
		conv = &inMemTranscript{
			record: ConversationRecord{ConvID: convID, CreatedAtMs: now},
			index:  map[string]int{},
		}
	}

	changed := false
	for _, m := range msgs {
		if m.ID == "" {
			return errors.New("in-memory transcript store: message id is empty")
		}
		hash, err := ComputeMessageContentHash(m)
		if err != nil {
			return errors.Wrap(err, "in-memory transcript store: hash message")
		}
		if i, ok := conv.index[m.ID]; ok {
			if conv.msgs[i].hash == hash {
				continue
			}
			created := conv.msgs[i].msg.CreatedAt
			conv.msgs[i] = storedMessage{msg: cloneMessage(m), hash: hash}
			conv.msgs[i].msg.CreatedAt = created
			changed = true
			continue
		}
		stored := storedMessage{msg: cloneMessage(m), hash: hash}
		if stored.msg.CreatedAt.IsZero() {
			stored.msg.CreatedAt = time.UnixMilli(now).UTC()
		}
		conv.index[m.ID] = len(conv.msgs)
		conv.msgs = append(conv.msgs, stored)
		changed = true
	}
	if !changed {
		return nil
	}

	// Enforce the per-conversation size limit by evicting the oldest messages.
	if drop := len(conv.msgs) - s.maxMessagesPerConv; drop > 0 {
		conv.msgs = append([]storedMessage(nil), conv.msgs[drop:]...)
		conv.index = make(map[string]int, len(conv.msgs))
		for i, sm := range conv.msgs {
			conv.index[sm.msg.ID] = i
		}
	}

	if now > conv.record.LastActivityMs {
		conv.record.LastActivityMs = now
	}
	s.convs[convID] = conv
	return nil
}

func (s *InMemoryTranscriptStore) ListMessages(_ context.Context, convID string, limit int) ([]chat.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	convID = strings.TrimSpace(convID)
	if convID == "" {
		return nil, errors.New("in-memory transcript store: convID is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convs[convID]
	if conv == nil {
		return nil, nil
	}
	stored := conv.msgs
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}
	out := make([]chat.Message, 0, len(stored))
	for _, sm := range stored {
		out = append(out, cloneMessage(sm.msg))
	}
	return out, nil
}

func (s *InMemoryTranscriptStore) ListConversations(_ context.Context, limit int, sinceMs int64) ([]ConversationRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	if limit <= 0 {
		limit = 200
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]ConversationRecord, 0, len(s.convs))
	for _, conv := range s.convs {
		record := conv.record
		if sinceMs > 0 && record.LastActivityMs < sinceMs {
			continue
		}
		record.MessageCount = len(conv.msgs)
		if n := len(conv.msgs); n > 0 {
			record.LastMessage = conv.msgs[n-1].msg.Content
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].ConvID < records[j].ConvID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func cloneMessage(m chat.Message) chat.Message {
	if m.Payload != nil {
		p := *m.Payload
		p.MediaItems = append([]chat.MediaItem(nil), p.MediaItems...)
		p.Suggestions = append([]chat.Suggestion(nil), p.Suggestions...)
		m.Payload = &p
	}
	return m
}
