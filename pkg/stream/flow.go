package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

type SessionState int

const (
	SessionUninitiated SessionState = iota
	SessionPrimed
	SessionStreaming
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionUninitiated:
		return "uninitiated"
	case SessionPrimed:
		return "primed"
	case SessionStreaming:
		return "streaming"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

// Recorder stores the messages of a settled exchange.
type Recorder interface {
	RecordMessages(ctx context.Context, convID string, msgs []chat.Message) error
}

// Flow owns one conversation's streaming lifecycle. Every transcript write
// happens under its mutex, so stream callbacks never run concurrently with
// each other or with Submit and Dispose.
type Flow struct {
	settings   settings.Settings
	primer     Primer
	dialer     Dialer
	router     *ChannelRouter
	transcript *chat.Transcript
	recorder   Recorder
	onLoading  func(bool)
	newID      func() string
	now        func() time.Time
	logger     zerolog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu            sync.Mutex
	gen           uint64
	state         State
	stream        Stream
	session       SessionState
	loading       bool
	disposed      bool
	settled       chan struct{}
	exchangeStart int
}

type FlowOption func(*Flow)

func WithPrimer(p Primer) FlowOption { return func(f *Flow) { f.primer = p } }

func WithDialer(d Dialer) FlowOption { return func(f *Flow) { f.dialer = d } }

func WithTranscript(t *chat.Transcript) FlowOption { return func(f *Flow) { f.transcript = t } }

func WithRecorder(r Recorder) FlowOption { return func(f *Flow) { f.recorder = r } }

// WithLoadingObserver registers fn for loading flag transitions. fn runs under
// the flow lock and must not call back into the Flow.
func WithLoadingObserver(fn func(bool)) FlowOption { return func(f *Flow) { f.onLoading = fn } }

func WithFlowIDs(newID func() string) FlowOption { return func(f *Flow) { f.newID = newID } }

func WithFlowClock(now func() time.Time) FlowOption { return func(f *Flow) { f.now = now } }

func NewFlow(s settings.Settings, opts ...FlowOption) (*Flow, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}
	f := &Flow{
		settings: s,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.primer == nil || f.dialer == nil {
		client := NewHTTPClient()
		if f.primer == nil {
			f.primer = NewSessionInitiator(s, client)
		}
		if f.dialer == nil {
			f.dialer = NewHTTPDialer(s, client)
		}
	}
	if f.transcript == nil {
		f.transcript = chat.NewTranscript(s.ConversationID)
	}
	f.router = NewChannelRouter(s.Channels, WithIDs(f.newID), WithClock(f.now))
	f.logger = log.With().Str("component", "flow").Str("conv_id", s.ConversationID).Logger()
	f.baseCtx, f.cancelBase = context.WithCancel(context.Background())
	return f, nil
}

func (f *Flow) Transcript() *chat.Transcript { return f.transcript }

func (f *Flow) Messages() []chat.Message { return f.transcript.Messages() }

func (f *Flow) Loading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loading
}

func (f *Flow) Session() SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Submit starts a new exchange for text. Any stream still open from an earlier
// exchange is closed first. The returned error is informational: failures are
// already reflected in the transcript as an assistant message.
func (f *Flow) Submit(ctx context.Context, text string, extra map[string]any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrDisposed
	}
	f.closeStreamLocked()
	f.endExchangeLocked()

	f.gen++
	gen := f.gen
	f.state = State{}
	f.session = SessionUninitiated
	f.settled = make(chan struct{})
	f.exchangeStart = len(f.transcript.Messages())
	f.setLoadingLocked(true)
	user := chat.Message{ID: f.newID(), Role: chat.RoleUser, Content: text, CreatedAt: f.now()}
	f.transcript.Update(true, func(msgs []chat.Message) []chat.Message { return chat.Append(msgs, user) })
	f.mu.Unlock()

	primeCtx := ctx
	if f.settings.PrimingTimeout > 0 {
		var cancel context.CancelFunc
		primeCtx, cancel = context.WithTimeout(ctx, f.settings.PrimingTimeout)
		defer cancel()
	}
	err := f.primer.Prime(primeCtx, PrimeRequest{
		Message:    text,
		Credential: f.settings.Credential,
		Context:    f.settings.PrimingContext(extra),
	})

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || f.disposed {
		f.logger.Debug().Uint64("gen", gen).Msg("discarding superseded priming result")
		return nil
	}
	if err != nil {
		if !errors.Is(err, ErrPrimingFailed) {
			err = errors.Wrap(ErrPrimingFailed, err.Error())
		}
		f.logger.Warn().Err(err).Msg("priming failed")
		f.failLocked(PrimingErrorText)
		return err
	}
	f.session = SessionPrimed

	// Frames may arrive before Dial returns; apply accepts them once the
	// session is primed for this generation.
	f.mu.Unlock()
	stream, err := f.dialer.Dial(f.baseCtx, &flowHandler{f: f, gen: gen})
	f.mu.Lock()

	if gen != f.gen || f.disposed {
		if stream != nil {
			_ = stream.Close()
		}
		if f.disposed {
			return ErrDisposed
		}
		f.logger.Debug().Uint64("gen", gen).Msg("discarding superseded stream")
		return nil
	}
	if err != nil {
		if f.session == SessionClosed {
			return err
		}
		f.logger.Warn().Err(err).Msg("could not open stream")
		f.failLocked(ConnectionErrorText)
		return err
	}
	if f.session == SessionClosed {
		// The exchange already settled from a frame delivered during Dial.
		_ = stream.Close()
		return nil
	}
	f.stream = stream
	f.session = SessionStreaming
	f.logger.Debug().Uint64("gen", gen).Msg("stream open")
	return nil
}

// Wait blocks until the current exchange settles or ctx is done.
func (f *Flow) Wait(ctx context.Context) error {
	f.mu.Lock()
	ch := f.settled
	f.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose closes any open stream and clears the loading flag. It is safe to
// call at any time, any number of times. Submit fails with ErrDisposed afterwards.
func (f *Flow) Dispose() {
	f.cancelBase()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return
	}
	f.disposed = true
	f.closeStreamLocked()
	f.endExchangeLocked()
	f.setLoadingLocked(false)
	f.logger.Debug().Msg("flow disposed")
}

func (f *Flow) closeStreamLocked() {
	if f.stream == nil {
		return
	}
	if err := f.stream.Close(); err != nil {
		f.logger.Debug().Err(err).Msg("closing stream")
	}
	f.stream = nil
}

// endExchangeLocked marks the session closed, records the exchange and
// releases waiters. Repeated calls are no-ops.
func (f *Flow) endExchangeLocked() {
	if f.settled == nil {
		return
	}
	select {
	case <-f.settled:
		return
	default:
	}
	f.session = SessionClosed
	f.state.Closed = true
	if f.recorder != nil {
		msgs := f.transcript.Messages()
		if f.exchangeStart <= len(msgs) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := f.recorder.RecordMessages(ctx, f.settings.ConversationID, msgs[f.exchangeStart:]); err != nil {
				f.logger.Warn().Err(err).Msg("recording exchange failed")
			}
			cancel()
		}
	}
	close(f.settled)
}

func (f *Flow) setLoadingLocked(v bool) {
	if f.loading == v {
		return
	}
	f.loading = v
	if f.onLoading != nil {
		f.onLoading(v)
	}
}

func (f *Flow) failLocked(text string) {
	msg := f.router.ErrorMessage(text)
	f.transcript.Update(false, func(msgs []chat.Message) []chat.Message { return chat.Append(msgs, msg) })
	f.settleLocked()
}

// settleLocked publishes the final non-loading snapshot before releasing
// waiters, so Wait never returns ahead of it.
func (f *Flow) settleLocked() {
	f.closeStreamLocked()
	f.setLoadingLocked(false)
	f.transcript.Update(false, func(msgs []chat.Message) []chat.Message { return msgs })
	f.endExchangeLocked()
}

// apply routes ev for generation gen. Events from superseded streams and
// events after the session closed are dropped.
func (f *Flow) apply(gen uint64, route func(State, []chat.Message) (State, []chat.Message, Outcome)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen != f.gen || (f.session != SessionStreaming && f.session != SessionPrimed) {
		return
	}
	st, msgs, outcome := route(f.state, f.transcript.Messages())
	f.state = st
	if outcome.Changed() {
		f.transcript.Update(f.loading && !st.Closed, func([]chat.Message) []chat.Message { return msgs })
	}
	switch outcome {
	case OutcomeTerminal, OutcomeTransportError:
		f.settleLocked()
	}
}

type flowHandler struct {
	f   *Flow
	gen uint64
}

func (h *flowHandler) OnFrame(fr Frame) {
	h.f.apply(h.gen, func(st State, msgs []chat.Message) (State, []chat.Message, Outcome) {
		return h.f.router.RouteFrame(st, msgs, fr)
	})
}

func (h *flowHandler) OnTerminal() {
	h.f.apply(h.gen, func(st State, msgs []chat.Message) (State, []chat.Message, Outcome) {
		return h.f.router.Route(st, msgs, Terminal{})
	})
}

func (h *flowHandler) OnTransportError(err error) {
	h.f.apply(h.gen, func(st State, msgs []chat.Message) (State, []chat.Message, Outcome) {
		return h.f.router.Route(st, msgs, TransportError{Err: err})
	})
}
