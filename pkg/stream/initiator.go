package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/go-go-golems/reelchat/pkg/settings"
)

// PrimeRequest is the body of the priming call.
type PrimeRequest struct {
	Message    string         `json:"message"`
	Credential string         `json:"openaiApiKey,omitempty"`
	Context    map[string]any `json:"context"`
}

// Primer establishes server-side conversation state before a stream opens.
type Primer interface {
	Prime(ctx context.Context, req PrimeRequest) error
}

type SessionInitiator struct {
	client *http.Client
	url    string
}

var _ Primer = (*SessionInitiator)(nil)

// NewSessionInitiator must share client with the dialer so the session cookie
// set by the priming call reaches the stream request.
func NewSessionInitiator(s settings.Settings, client *http.Client) *SessionInitiator {
	if client == nil {
		client = NewHTTPClient()
	}
	return &SessionInitiator{client: client, url: s.Endpoint("/assistant/sse-init")}
}

func (i *SessionInitiator) Prime(ctx context.Context, req PrimeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(ErrPrimingFailed, err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(ErrPrimingFailed, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return errors.Wrap(ErrPrimingFailed, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Wrapf(ErrPrimingFailed, "status %d", resp.StatusCode)
	}
	return nil
}
