package stream

import "github.com/pkg/errors"

var (
	// ErrPrimingFailed wraps any failure of the priming call. The flow aborts
	// and no stream is opened.
	ErrPrimingFailed = errors.New("priming call failed")
	// ErrMalformedPayload marks a frame whose payload does not decode into the
	// channel's shape. The frame is dropped and the stream continues.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptyDelta marks an answer envelope that decodes but carries no text.
	ErrEmptyDelta = errors.New("answer envelope has no delta")
	// ErrUnknownChannel marks a frame on an event type nobody subscribed to.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrTransport wraps failures of the event stream itself.
	ErrTransport = errors.New("stream transport error")
	// ErrStreamClosedByServer is reported when the body ends before the terminal sentinel.
	ErrStreamClosedByServer = errors.New("stream closed before terminal sentinel")
	// ErrStreamIdle is reported when no bytes arrive within the idle timeout.
	ErrStreamIdle = errors.New("stream idle timeout")
	// ErrDisposed is returned by Submit after Dispose.
	ErrDisposed = errors.New("flow disposed")
)
