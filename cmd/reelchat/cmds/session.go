package cmds

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/reelchat/pkg/reply"
	"github.com/go-go-golems/reelchat/pkg/settings"
	"github.com/go-go-golems/reelchat/pkg/stream"
)

// session runs one exchange at a time against the backend and reports the
// resulting messages through its transcript.
type session interface {
	Exchange(ctx context.Context, text string, extra map[string]any) error
	Transcript() *chat.Transcript
	Close()
}

// newSession picks the streaming flow when a valid credential is configured
// and the plain reply endpoint otherwise.
func newSession(s settings.Settings, store chatstore.TranscriptStore, forceReply bool) (session, error) {
	if !forceReply && s.StreamingEnabled() {
		f, err := stream.NewFlow(s, stream.WithRecorder(store))
		if err != nil {
			return nil, err
		}
		return &streamingSession{flow: f}, nil
	}
	return &replySession{
		client:     reply.NewClient(s),
		transcript: chat.NewTranscript(s.ConversationID),
		store:      store,
		convID:     s.ConversationID,
	}, nil
}

type streamingSession struct {
	flow *stream.Flow
}

func (s *streamingSession) Exchange(ctx context.Context, text string, extra map[string]any) error {
	if err := s.flow.Submit(ctx, text, extra); err != nil {
		return err
	}
	return s.flow.Wait(ctx)
}

func (s *streamingSession) Transcript() *chat.Transcript { return s.flow.Transcript() }

func (s *streamingSession) Close() { s.flow.Dispose() }

type replySession struct {
	client     *reply.Client
	transcript *chat.Transcript
	store      chatstore.TranscriptStore
	convID     string
}

func (s *replySession) Exchange(ctx context.Context, text string, extra map[string]any) error {
	start := len(s.transcript.Messages())
	err := s.client.Exchange(ctx, s.transcript, text, extra)
	msgs := s.transcript.Messages()
	if s.store != nil && start < len(msgs) {
		recCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := s.store.RecordMessages(recCtx, s.convID, msgs[start:]); rerr != nil {
			log.Warn().Err(rerr).Str("conv_id", s.convID).Msg("recording exchange failed")
		}
	}
	return err
}

func (s *replySession) Transcript() *chat.Transcript { return s.transcript }

func (s *replySession) Close() {}
