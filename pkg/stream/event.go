package stream

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

// TerminalSentinel is the literal answer-channel payload that ends a stream.
const TerminalSentinel = "[DONE]"

// ChannelEvent is one decoded stream event. The concrete types below are the
// only implementations.
type ChannelEvent interface {
	channelEvent()
}

type AnswerToken struct {
	Text string
}

type Suggestions struct {
	Items []chat.Suggestion
}

type Media struct {
	Items  []chat.MediaItem
	Reason string
}

type Terminal struct{}

type TransportError struct {
	Err error
}

func (AnswerToken) channelEvent()    {}
func (Suggestions) channelEvent()    {}
func (Media) channelEvent()          {}
func (Terminal) channelEvent()       {}
func (TransportError) channelEvent() {}

// Decode turns a raw frame into its channel's event. Errors wrap
// ErrMalformedPayload, ErrEmptyDelta or ErrUnknownChannel.
func Decode(channels settings.Channels, name string, data string) (ChannelEvent, error) {
	switch name {
	case channels.Answer:
		if strings.TrimSpace(data) == TerminalSentinel {
			return Terminal{}, nil
		}
		return decodeAnswer(data)
	case channels.Suggestions:
		return decodeSuggestions(data)
	case channels.Media:
		return decodeMedia(data)
	default:
		return nil, errors.Wrapf(ErrUnknownChannel, "event %q", name)
	}
}

func decodeAnswer(data string) (ChannelEvent, error) {
	var env openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if len(env.Choices) == 0 || env.Choices[0].Delta.Content == "" {
		return nil, ErrEmptyDelta
	}
	return AnswerToken{Text: env.Choices[0].Delta.Content}, nil
}

func decodeSuggestions(data string) (ChannelEvent, error) {
	var env struct {
		Suggestions *[]chat.Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	if env.Suggestions == nil {
		return nil, errors.Wrap(ErrMalformedPayload, "missing suggestions")
	}
	return Suggestions{Items: *env.Suggestions}, nil
}

func decodeMedia(data string) (ChannelEvent, error) {
	var env struct {
		MediaItems           *[]json.RawMessage `json:"mediaItems"`
		Movies               *[]json.RawMessage `json:"movies"`
		RecommendationReason string             `json:"recommendationReason"`
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	raw := env.MediaItems
	if raw == nil {
		raw = env.Movies
	}
	if raw == nil {
		return nil, errors.Wrap(ErrMalformedPayload, "missing mediaItems")
	}
	items := make([]chat.MediaItem, 0, len(*raw))
	for i, r := range *raw {
		if string(r) == "null" {
			continue
		}
		var item chat.MediaItem
		if err := json.Unmarshal(r, &item); err != nil {
			log.Debug().Err(err).Str("component", "router").Int("index", i).Msg("dropping unreadable media item")
			continue
		}
		items = append(items, item)
	}
	return Media{Items: items, Reason: env.RecommendationReason}, nil
}
