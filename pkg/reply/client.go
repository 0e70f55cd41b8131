package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

// ApologyText is appended when a reply cannot be obtained at all.
const ApologyText = "I'm sorry, I'm having trouble connecting right now. Please try again in a moment."

// Client talks to the request/response endpoint.
type Client struct {
	http     *http.Client
	url      string
	settings settings.Settings
	fallback bool
	newID    func() string
	now      func() time.Time
}

type Option func(*Client)

// WithFallback controls whether transport failures are answered from the
// built-in catalogue instead of returning an error.
func WithFallback(v bool) Option { return func(c *Client) { c.fallback = v } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithIDs(newID func() string) Option { return func(c *Client) { c.newID = newID } }

func NewClient(s settings.Settings, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 60 * time.Second},
		url:      s.Endpoint("/assistant/reply"),
		settings: s,
		fallback: true,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send returns the assistant reply to text.
func (c *Client) Send(ctx context.Context, text string, extra map[string]any) (Response, error) {
	resp, err := c.post(ctx, Request{
		Message:    text,
		Context:    c.settings.PrimingContext(extra),
		Credential: c.settings.Credential,
	})
	if err != nil {
		if !c.fallback {
			return Response{}, err
		}
		log.Warn().Err(err).Str("component", "reply").Msg("reply request failed, answering from fallback catalogue")
		return Fallback(text), nil
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "encode reply request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, errors.Wrap(err, "build reply request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "*/*")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, errors.Wrap(err, "reply request")
	}
	defer func() { _ = httpResp.Body.Close() }()
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return Response{}, errors.Errorf("reply request: status %d", httpResp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return Response{}, errors.Wrap(err, "decode reply")
	}
	return out, nil
}

// Exchange appends the user message and the assistant reply to tr. On failure
// the reply is an apology and the error is returned.
func (c *Client) Exchange(ctx context.Context, tr *chat.Transcript, text string, extra map[string]any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	user := chat.Message{ID: c.newID(), Role: chat.RoleUser, Content: text, CreatedAt: c.now()}
	tr.Update(true, func(msgs []chat.Message) []chat.Message { return chat.Append(msgs, user) })

	resp, err := c.Send(ctx, text, extra)
	answer := chat.Message{ID: c.newID(), Role: chat.RoleAssistant, CreatedAt: c.now()}
	if err != nil {
		answer.Content = ApologyText
	} else {
		answer.Content = resp.Reply.Message
		answer.Payload = resp.Reply.Data.Payload()
	}
	tr.Update(false, func(msgs []chat.Message) []chat.Message { return chat.Append(msgs, answer) })
	return err
}
