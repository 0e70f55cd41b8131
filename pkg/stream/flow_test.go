package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/mockbackend"
	"github.com/go-go-golems/reelchat/pkg/reply"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

type fakeStream struct {
	id     int
	d      *fakeDialer
	h      Handler
	closes int
	done   chan struct{}
}

func (s *fakeStream) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		s.d.log = append(s.d.log, fmt.Sprintf("close-%d", s.id))
		close(s.done)
	}
	return nil
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) token(text string) {
	s.h.OnFrame(Frame{Event: "assistant", Data: fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)})
}

type fakeDialer struct {
	mu      sync.Mutex
	streams []*fakeStream
	log     []string
	err     error
}

func (d *fakeDialer) Dial(_ context.Context, h Handler) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{id: len(d.streams) + 1, d: d, h: h, done: make(chan struct{})}
	d.streams = append(d.streams, s)
	d.log = append(d.log, fmt.Sprintf("open-%d", s.id))
	return s, nil
}

func (d *fakeDialer) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

type fakePrimer struct {
	mu    sync.Mutex
	err   error
	calls []PrimeRequest
	gates map[string]chan struct{}
	seen  chan string
}

func (p *fakePrimer) Prime(ctx context.Context, req PrimeRequest) error {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	gate := p.gates[req.Message]
	err := p.err
	p.mu.Unlock()
	if p.seen != nil {
		p.seen <- req.Message
	}
	if gate != nil {
		<-gate
	}
	return err
}

type fakeRecorder struct {
	mu   sync.Mutex
	msgs [][]chat.Message
}

func (r *fakeRecorder) RecordMessages(_ context.Context, _ string, msgs []chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs)
	return nil
}

type flowFixture struct {
	flow     *Flow
	dialer   *fakeDialer
	primer   *fakePrimer
	recorder *fakeRecorder
	loading  []bool
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()
	fx := &flowFixture{dialer: &fakeDialer{}, primer: &fakePrimer{}, recorder: &fakeRecorder{}}
	s := settings.Default()
	s.Credential = "sk-test-credential-0000000"
	f, err := NewFlow(s,
		WithDialer(fx.dialer),
		WithPrimer(fx.primer),
		WithRecorder(fx.recorder),
		WithFlowIDs(seqIDs()),
		WithFlowClock(fixedClock),
		WithLoadingObserver(func(v bool) { fx.loading = append(fx.loading, v) }),
	)
	require.NoError(t, err)
	fx.flow = f
	t.Cleanup(f.Dispose)
	return fx
}

func (fx *flowFixture) stream(i int) *fakeStream {
	fx.dialer.mu.Lock()
	defer fx.dialer.mu.Unlock()
	return fx.dialer.streams[i]
}

func TestFlowStreamsAnswerUntilTerminal(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "  recommend something  ", map[string]any{"source": "chip"}))
	require.True(t, fx.flow.Loading())
	require.Equal(t, SessionStreaming, fx.flow.Session())
	require.Equal(t, "recommend something", fx.primer.calls[0].Message)
	require.Equal(t, "sk-test-credential-0000000", fx.primer.calls[0].Credential)
	require.Equal(t, "chip", fx.primer.calls[0].Context["source"])

	var published []string
	fx.flow.Transcript().Observe(func(s chat.Snapshot) {
		if tail, ok := chat.Tail(s.Messages); ok && tail.IsAssistant() {
			published = append(published, tail.Content)
		}
	})

	s := fx.stream(0)
	s.token("The mo")
	s.token("vie (")
	s.token("great)")
	require.Equal(t, []string{"The mo", "The movie (great)"}, published)

	s.h.OnTerminal()
	require.False(t, fx.flow.Loading())
	require.Equal(t, SessionClosed, fx.flow.Session())
	require.Equal(t, []bool{true, false}, fx.loading)
	require.Equal(t, 1, s.closes)

	s.token(" more")
	s.h.OnTerminal()
	require.Equal(t, []bool{true, false}, fx.loading)

	msgs := fx.flow.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, chat.RoleUser, msgs[0].Role)
	require.Equal(t, "The movie (great)", msgs[1].Content)

	require.Len(t, fx.recorder.msgs, 1)
	require.Len(t, fx.recorder.msgs[0], 2)
	require.NoError(t, fx.flow.Wait(context.Background()))
}

func TestFlowTerminalWhileUnbalanced(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "hi", nil))
	s := fx.stream(0)
	s.token("ok")
	s.token(" (dangling")
	s.h.OnTerminal()

	require.False(t, fx.flow.Loading())
	require.Equal(t, 1, s.closes)
	require.Equal(t, "ok", fx.flow.Messages()[1].Content)
}

func TestFlowPrimingFailure(t *testing.T) {
	fx := newFlowFixture(t)
	fx.primer.err = errors.New("network down")

	err := fx.flow.Submit(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrPrimingFailed)
	require.Empty(t, fx.dialer.snapshot())
	require.False(t, fx.flow.Loading())
	require.Equal(t, []bool{true, false}, fx.loading)

	msgs := fx.flow.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, chat.RoleAssistant, msgs[1].Role)
	require.Equal(t, PrimingErrorText, msgs[1].Content)
}

func TestFlowDialFailureAppendsConnectionError(t *testing.T) {
	fx := newFlowFixture(t)
	fx.dialer.err = errors.New("refused")

	require.Error(t, fx.flow.Submit(context.Background(), "hi", nil))
	msgs := fx.flow.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, ConnectionErrorText, msgs[1].Content)
	require.False(t, fx.flow.Loading())
}

func TestFlowTransportError(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "hi", nil))
	s := fx.stream(0)
	s.token("partial")
	s.h.OnTransportError(ErrStreamClosedByServer)

	msgs := fx.flow.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, "partial", msgs[1].Content)
	require.Equal(t, ConnectionErrorText, msgs[2].Content)
	require.False(t, fx.flow.Loading())
	require.Equal(t, 1, s.closes)
}

func TestFlowMalformedFrameKeepsStreaming(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "hi", nil))
	s := fx.stream(0)
	s.token("Hello")
	before := fx.flow.Transcript().Version()
	s.h.OnFrame(Frame{Event: "suggestions", Data: "{broken"})
	s.h.OnFrame(Frame{Event: "assistant", Data: "{broken"})
	require.Equal(t, before, fx.flow.Transcript().Version())
	require.True(t, fx.flow.Loading())
	require.Equal(t, SessionStreaming, fx.flow.Session())

	s.token(" there")
	require.Equal(t, "Hello there", fx.flow.Messages()[1].Content)
}

func TestFlowSuggestionsBeforeTokensAreLost(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "hi", nil))
	s := fx.stream(0)
	s.h.OnFrame(Frame{Event: "suggestions", Data: `{"suggestions":[{"icon":"x","text":"t","query":"q"}]}`})

	msgs := fx.flow.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestFlowNewSubmissionClosesPreviousStreamFirst(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "first", nil))
	first := fx.stream(0)
	first.token("one")

	require.NoError(t, fx.flow.Submit(context.Background(), "second", nil))
	require.Equal(t, []string{"open-1", "close-1", "open-2"}, fx.dialer.snapshot())

	first.token(" stale")
	first.h.OnTerminal()
	require.True(t, fx.flow.Loading())

	second := fx.stream(1)
	second.token("two")
	msgs := fx.flow.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "one", msgs[1].Content)
	require.Equal(t, "second", msgs[2].Content)
	require.Equal(t, "two", msgs[3].Content)
}

func TestFlowDiscardsSupersededPriming(t *testing.T) {
	fx := newFlowFixture(t)
	gate := make(chan struct{})
	fx.primer.gates = map[string]chan struct{}{"slow": gate}
	fx.primer.seen = make(chan string, 4)

	errCh := make(chan error, 1)
	go func() { errCh <- fx.flow.Submit(context.Background(), "slow", nil) }()
	require.Equal(t, "slow", <-fx.primer.seen)

	require.NoError(t, fx.flow.Submit(context.Background(), "fast", nil))
	<-fx.primer.seen
	close(gate)
	require.NoError(t, <-errCh)

	require.Equal(t, []string{"open-1"}, fx.dialer.snapshot())
	msgs := fx.flow.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "slow", msgs[0].Content)
	require.Equal(t, "fast", msgs[1].Content)
	require.True(t, fx.flow.Loading())
}

func TestFlowDispose(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), "hi", nil))
	s := fx.stream(0)

	fx.flow.Dispose()
	fx.flow.Dispose()
	require.Equal(t, 1, s.closes)
	require.False(t, fx.flow.Loading())
	require.Equal(t, SessionClosed, fx.flow.Session())
	require.ErrorIs(t, fx.flow.Submit(context.Background(), "again", nil), ErrDisposed)

	s.token("late")
	require.Len(t, fx.flow.Messages(), 1)
}

type blockingDialer struct {
	*fakeDialer
	entered chan struct{}
	release chan struct{}
}

func (d *blockingDialer) Dial(ctx context.Context, h Handler) (Stream, error) {
	d.entered <- struct{}{}
	<-d.release
	return d.fakeDialer.Dial(ctx, h)
}

func newDialBlockedFlow(t *testing.T) (*Flow, *blockingDialer) {
	t.Helper()
	d := &blockingDialer{fakeDialer: &fakeDialer{}, entered: make(chan struct{}), release: make(chan struct{})}
	s := settings.Default()
	s.Credential = "sk-test-credential-0000000"
	f, err := NewFlow(s,
		WithDialer(d),
		WithPrimer(&fakePrimer{}),
		WithFlowIDs(seqIDs()),
		WithFlowClock(fixedClock),
	)
	require.NoError(t, err)
	t.Cleanup(f.Dispose)
	return f, d
}

func waitDialing(t *testing.T, d *blockingDialer) {
	t.Helper()
	select {
	case <-d.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("dial never started")
	}
}

func TestFlowStaysResponsiveWhileDialing(t *testing.T) {
	f, d := newDialBlockedFlow(t)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Submit(context.Background(), "recommend a movie", nil) }()
	waitDialing(t, d)

	state := make(chan SessionState, 1)
	go func() { state <- f.Session() }()
	select {
	case st := <-state:
		require.Equal(t, SessionPrimed, st)
	case <-time.After(time.Second):
		t.Fatal("flow lock held while dialing")
	}
	require.True(t, f.Loading())

	close(d.release)
	require.NoError(t, <-errCh)
	require.Equal(t, SessionStreaming, f.Session())
	require.Equal(t, []string{"open-1"}, d.snapshot())
}

func TestFlowDisposeWhileDialing(t *testing.T) {
	f, d := newDialBlockedFlow(t)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Submit(context.Background(), "hi", nil) }()
	waitDialing(t, d)

	disposed := make(chan struct{})
	go func() {
		f.Dispose()
		close(disposed)
	}()
	select {
	case <-disposed:
	case <-time.After(time.Second):
		t.Fatal("Dispose blocked behind Dial")
	}
	require.False(t, f.Loading())

	close(d.release)
	require.ErrorIs(t, <-errCh, ErrDisposed)
	require.Equal(t, []string{"open-1", "close-1"}, d.snapshot())
}

func TestFlowSubmitWhileDialingDropsOlderStream(t *testing.T) {
	f, d := newDialBlockedFlow(t)
	first := make(chan error, 1)
	go func() { first <- f.Submit(context.Background(), "first", nil) }()
	waitDialing(t, d)

	second := make(chan error, 1)
	go func() { second <- f.Submit(context.Background(), "second", nil) }()
	waitDialing(t, d)

	close(d.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	d.mu.Lock()
	closes := 0
	for _, s := range d.streams {
		closes += s.closes
	}
	require.Len(t, d.streams, 2)
	d.mu.Unlock()
	require.Equal(t, 1, closes)
	require.Equal(t, SessionStreaming, f.Session())
	require.Len(t, f.Messages(), 2)
}

func TestFlowDisposeWithoutStream(t *testing.T) {
	fx := newFlowFixture(t)
	require.NotPanics(t, fx.flow.Dispose)
	require.NoError(t, fx.flow.Wait(context.Background()))
}

func TestFlowIgnoresBlankInput(t *testing.T) {
	fx := newFlowFixture(t)
	require.NoError(t, fx.flow.Submit(context.Background(), " \t ", nil))
	require.Empty(t, fx.flow.Messages())
	require.Empty(t, fx.primer.calls)
}

func e2eSettings(url string) settings.Settings {
	s := settings.Default()
	s.BaseURL = url
	s.Credential = "sk-test-credential-0000000"
	s.IdleTimeout = 5 * time.Second
	return s
}

func TestFlowAgainstMockBackend(t *testing.T) {
	backend := mockbackend.New(settings.Default().Channels, mockbackend.WithTokenDelay(time.Millisecond))
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	f, err := NewFlow(e2eSettings(ts.URL))
	require.NoError(t, err)
	defer f.Dispose()

	require.NoError(t, f.Submit(context.Background(), "recommend a movie", nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))

	want := reply.Fallback("recommend a movie").Reply
	msgs := f.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, want.Message, msgs[1].Content)
	require.NotNil(t, msgs[1].Payload)
	require.Len(t, msgs[1].Payload.MediaItems, 1)
	require.Len(t, msgs[1].Payload.Suggestions, 2)
	require.Equal(t, want.Data.RecommendationReason, msgs[1].Payload.RecommendationReason)
	require.False(t, f.Loading())

	inits, streams := backend.Stats()
	require.Equal(t, 1, inits)
	require.Equal(t, 1, streams)
}

func TestFlowAgainstFailingBackend(t *testing.T) {
	backend := mockbackend.New(settings.Default().Channels, mockbackend.WithFailingPriming())
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	f, err := NewFlow(e2eSettings(ts.URL))
	require.NoError(t, err)
	defer f.Dispose()

	require.ErrorIs(t, f.Submit(context.Background(), "hi", nil), ErrPrimingFailed)
	_, streams := backend.Stats()
	require.Zero(t, streams)
	require.Len(t, f.Messages(), 2)
	require.False(t, f.Loading())
}

func TestFlowAgainstSilentStreamEndpoint(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/assistant/sse-init" {
			w.WriteHeader(http.StatusOK)
			return
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	s := e2eSettings(ts.URL)
	s.IdleTimeout = 200 * time.Millisecond
	f, err := NewFlow(s)
	require.NoError(t, err)
	defer f.Dispose()

	errCh := make(chan error, 1)
	go func() { errCh <- f.Submit(context.Background(), "recommend a movie", nil) }()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamIdle)
	case <-time.After(5 * time.Second):
		t.Fatal("Submit hung on a stream endpoint that never answers")
	}

	msgs := f.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, ConnectionErrorText, msgs[1].Content)
	require.False(t, f.Loading())
	require.Equal(t, SessionClosed, f.Session())
}
