package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/settings"
)

// Handler receives everything a Connection reads. Calls come from a single
// goroutine, in arrival order.
type Handler interface {
	OnFrame(Frame)
	// OnTerminal is called once when the terminal sentinel arrives. The
	// connection is already closed.
	OnTerminal()
	// OnTransportError is called once when the stream fails. The connection is
	// already closed.
	OnTransportError(error)
}

// Stream is a live event stream.
type Stream interface {
	Close() error
	Done() <-chan struct{}
}

type Dialer interface {
	Dial(ctx context.Context, h Handler) (Stream, error)
}

// NewHTTPClient returns a client whose cookie jar carries the session token
// from the priming call to the stream request. It has no overall timeout
// because streams are long lived.
func NewHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

type HTTPDialer struct {
	client        *http.Client
	url           string
	answerChannel string
	idleTimeout   time.Duration
}

var _ Dialer = (*HTTPDialer)(nil)

func NewHTTPDialer(s settings.Settings, client *http.Client) *HTTPDialer {
	if client == nil {
		client = NewHTTPClient()
	}
	return &HTTPDialer{
		client:        client,
		url:           s.Endpoint("/assistant/sse"),
		answerChannel: s.Channels.Answer,
		idleTimeout:   s.IdleTimeout,
	}
}

func (d *HTTPDialer) Dial(ctx context.Context, h Handler) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The idle timeout also bounds the wait for response headers.
	var headerTimer *time.Timer
	if d.idleTimeout > 0 {
		headerTimer = time.AfterFunc(d.idleTimeout, cancel)
	}
	resp, err := d.client.Do(req)
	if headerTimer != nil && !headerTimer.Stop() {
		if err == nil {
			_ = resp.Body.Close()
		}
		cancel()
		return nil, errors.Wrap(ErrStreamIdle, "waiting for stream headers")
	}
	if err != nil {
		cancel()
		return nil, errors.Wrap(ErrTransport, err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, errors.Wrapf(ErrTransport, "open stream: status %d", resp.StatusCode)
	}

	c := &Connection{
		body:          resp.Body,
		cancel:        cancel,
		handler:       h,
		answerChannel: d.answerChannel,
		idleTimeout:   d.idleTimeout,
		done:          make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// Connection is one open event stream.
type Connection struct {
	body          io.ReadCloser
	cancel        context.CancelFunc
	handler       Handler
	answerChannel string
	idleTimeout   time.Duration

	mu     sync.Mutex
	closed bool

	idleExpired atomic.Bool
	done        chan struct{}
}

var _ Stream = (*Connection)(nil)

// Close stops the stream. It is idempotent and may be called from inside a
// Handler callback.
func (c *Connection) Close() error {
	c.markClosed()
	return nil
}

// Done is closed once the reader goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed tears the transport down and reports whether this call did it.
func (c *Connection) markClosed() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	_ = c.body.Close()
	return true
}

func (c *Connection) run() {
	defer close(c.done)

	var r io.Reader = c.body
	if c.idleTimeout > 0 {
		timer := time.AfterFunc(c.idleTimeout, func() {
			c.idleExpired.Store(true)
			_ = c.body.Close()
		})
		defer timer.Stop()
		r = &activityReader{r: c.body, onRead: func() { timer.Reset(c.idleTimeout) }}
	}

	terminal := false
	err := readFrames(r, func(f Frame) bool {
		if c.isClosed() {
			return false
		}
		if f.Event == c.answerChannel && isTerminal(f.Data) {
			terminal = true
			return false
		}
		c.handler.OnFrame(f)
		return true
	})

	switch {
	case terminal:
		if c.markClosed() {
			log.Debug().Str("component", "stream").Msg("terminal sentinel received")
			c.handler.OnTerminal()
		}
	case c.idleExpired.Load():
		c.fail(ErrStreamIdle)
	case err != nil:
		c.fail(errors.Wrap(ErrTransport, err.Error()))
	default:
		c.fail(ErrStreamClosedByServer)
	}
}

func (c *Connection) fail(err error) {
	if c.markClosed() {
		c.handler.OnTransportError(err)
	}
}

func isTerminal(data string) bool {
	return strings.TrimSpace(data) == TerminalSentinel
}

type activityReader struct {
	r      io.Reader
	onRead func()
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.onRead()
	}
	return n, err
}
