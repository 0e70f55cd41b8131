package reply

import (
	"github.com/go-go-golems/reelchat/pkg/chat"
)

// Request is the body of POST /assistant/reply.
type Request struct {
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Credential string         `json:"openaiApiKey,omitempty"`
}

type Response struct {
	Reply Reply `json:"reply"`
}

type Reply struct {
	Message string `json:"message"`
	Data    *Data  `json:"data,omitempty"`
}

// Data is the structured part of a reply as the backend sends it. Older
// backends use "movies", newer ones "mediaItems".
type Data struct {
	Movies               []chat.MediaItem  `json:"movies,omitempty"`
	MediaItems           []chat.MediaItem  `json:"mediaItems,omitempty"`
	Suggestions          []chat.Suggestion `json:"suggestions,omitempty"`
	RecommendationReason string            `json:"recommendationReason,omitempty"`
}

// Payload converts d into the chat payload, or nil when d carries nothing.
func (d *Data) Payload() *chat.Payload {
	if d == nil {
		return nil
	}
	items := d.MediaItems
	if len(items) == 0 {
		items = d.Movies
	}
	p := &chat.Payload{
		MediaItems:           items,
		Suggestions:          d.Suggestions,
		RecommendationReason: d.RecommendationReason,
	}
	if p.IsEmpty() {
		return nil
	}
	return p
}
