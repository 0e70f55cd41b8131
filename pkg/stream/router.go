package stream

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

const (
	ConnectionErrorText = "Connection error. Please try again."
	PrimingErrorText    = "Could not start the conversation. Please try again."
)

// State is everything a stream accumulates between events. It is owned by the
// caller and threaded through Route.
type State struct {
	Buffer TokenBuffer
	// AssistantID is the message this stream created on its first balanced publish.
	AssistantID string
	Closed      bool
}

type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeMalformed
	OutcomeDeferred
	OutcomePublished
	OutcomeMerged
	OutcomeLostUpdate
	OutcomeTerminal
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomePublished:
		return "published"
	case OutcomeMerged:
		return "merged"
	case OutcomeLostUpdate:
		return "lost-update"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeTransportError:
		return "transport-error"
	}
	return "unknown"
}

// Changed reports whether the outcome produced a new message list.
func (o Outcome) Changed() bool {
	return o == OutcomePublished || o == OutcomeMerged || o == OutcomeTransportError
}

type ChannelRouter struct {
	channels  settings.Channels
	assembler TokenAssembler
	newID     func() string
	now       func() time.Time
}

type RouterOption func(*ChannelRouter)

func WithIDs(newID func() string) RouterOption {
	return func(r *ChannelRouter) { r.newID = newID }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *ChannelRouter) { r.now = now }
}

func NewChannelRouter(channels settings.Channels, opts ...RouterOption) *ChannelRouter {
	r := &ChannelRouter{
		channels: channels,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.assembler = TokenAssembler{newID: r.newID, now: r.now}
	return r
}

// RouteFrame decodes a raw frame and routes the result. Decode failures are
// logged and reported as OutcomeMalformed or OutcomeIgnored.
func (r *ChannelRouter) RouteFrame(st State, msgs []chat.Message, f Frame) (State, []chat.Message, Outcome) {
	if st.Closed {
		return st, msgs, OutcomeIgnored
	}
	ev, err := Decode(r.channels, f.Event, f.Data)
	if err != nil {
		logger := log.With().Str("component", "stream").Str("channel", f.Event).Logger()
		switch {
		case errors.Is(err, ErrUnknownChannel):
			logger.Debug().Msg("ignoring frame on unknown channel")
			return st, msgs, OutcomeIgnored
		case errors.Is(err, ErrEmptyDelta):
			logger.Debug().Msg("dropping answer envelope without delta")
		default:
			logger.Warn().Err(err).Str("data", f.Data).Msg("dropping malformed frame")
		}
		return st, msgs, OutcomeMalformed
	}
	return r.Route(st, msgs, ev)
}

// Route applies one event. It never modifies msgs in place.
func (r *ChannelRouter) Route(st State, msgs []chat.Message, ev ChannelEvent) (State, []chat.Message, Outcome) {
	if st.Closed {
		return st, msgs, OutcomeIgnored
	}
	switch e := ev.(type) {
	case AnswerToken:
		return r.assembler.Assemble(st, msgs, e)

	case Suggestions:
		return r.mergeTail(st, msgs, "suggestions", func(p *chat.Payload) *chat.Payload {
			return p.WithSuggestions(e.Items)
		})

	case Media:
		return r.mergeTail(st, msgs, "media", func(p *chat.Payload) *chat.Payload {
			return p.WithMedia(e.Items, e.Reason)
		})

	case Terminal:
		st.Closed = true
		return st, msgs, OutcomeTerminal

	case TransportError:
		st.Closed = true
		log.Warn().Err(e.Err).Str("component", "stream").Msg("stream transport error")
		return st, chat.Append(msgs, r.ErrorMessage(ConnectionErrorText)), OutcomeTransportError
	}
	return st, msgs, OutcomeIgnored
}

func (r *ChannelRouter) mergeTail(st State, msgs []chat.Message, channel string, merge func(*chat.Payload) *chat.Payload) (State, []chat.Message, Outcome) {
	if st.AssistantID == "" {
		log.Debug().Str("component", "stream").Str("channel", channel).Msg("no assistant message yet, dropping update")
		return st, msgs, OutcomeLostUpdate
	}
	out, ok := chat.ReplaceTail(msgs, st.AssistantID, func(m chat.Message) chat.Message {
		m.Payload = merge(m.Payload)
		return m
	})
	if !ok {
		log.Debug().Str("component", "stream").Str("channel", channel).Msg("tail is not the streamed assistant message, dropping update")
		return st, msgs, OutcomeLostUpdate
	}
	return st, out, OutcomeMerged
}

// ErrorMessage builds the assistant message shown when a flow fails.
func (r *ChannelRouter) ErrorMessage(text string) chat.Message {
	return chat.Message{
		ID:        r.newID(),
		Role:      chat.RoleAssistant,
		Content:   text,
		CreatedAt: r.now(),
	}
}
