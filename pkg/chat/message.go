package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Suggestion is a follow-up chip the user can click to send Query.
type Suggestion struct {
	Icon  string `json:"icon" yaml:"icon"`
	Text  string `json:"text" yaml:"text"`
	Query string `json:"query" yaml:"query"`
}

// Prompt is the text sent when the chip is picked: the query, or the label
// when the backend sent no query.
func (s Suggestion) Prompt() string {
	if s.Query != "" {
		return s.Query
	}
	return s.Text
}

// Genres accepts either a single string or a list on the wire.
type Genres []string

func (g *Genres) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*g = list
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*g = nil
	for _, part := range strings.Split(one, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*g = append(*g, part)
		}
	}
	return nil
}

// MediaItem is a recommended movie or show.
type MediaItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Poster      string  `json:"poster,omitempty"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Genre       Genres  `json:"genre,omitempty"`
	Synopsis    string  `json:"synopsis,omitempty"`
	Overview    string  `json:"overview,omitempty"`
	Rating      float64 `json:"rating"`
	Duration    string  `json:"duration,omitempty"`
	Director    string  `json:"director,omitempty"`
	ReleaseYear int     `json:"releaseYear,omitempty"`
}

// UnmarshalJSON accepts id, rating, duration and releaseYear as either
// strings or numbers. Values that cannot be read are left at zero.
func (m *MediaItem) UnmarshalJSON(b []byte) error {
	type plain MediaItem
	var raw struct {
		plain
		ID          json.RawMessage `json:"id"`
		Rating      json.RawMessage `json:"rating"`
		Duration    json.RawMessage `json:"duration"`
		ReleaseYear json.RawMessage `json:"releaseYear"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = MediaItem(raw.plain)
	m.ID = looseString(raw.ID)
	m.Rating = looseFloat(raw.Rating)
	m.ReleaseYear = looseInt(raw.ReleaseYear)
	m.Duration = looseString(raw.Duration)
	if _, err := strconv.Atoi(m.Duration); err == nil {
		m.Duration += " min"
	}
	return nil
}

// looseString returns a JSON string as is and any other scalar as its
// literal text.
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func looseFloat(raw json.RawMessage) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(looseString(raw)), 64)
	if err != nil {
		return 0
	}
	return f
}

// looseInt reads the leading digits, so "2010-07-16" yields 2010.
func looseInt(raw json.RawMessage) int {
	s := strings.TrimSpace(looseString(raw))
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

// Description returns the synopsis, falling back to the overview.
func (m MediaItem) Description() string {
	if m.Synopsis != "" {
		return m.Synopsis
	}
	return m.Overview
}

// Payload is the structured part of an assistant message.
type Payload struct {
	MediaItems           []MediaItem  `json:"mediaItems,omitempty"`
	Suggestions          []Suggestion `json:"suggestions,omitempty"`
	RecommendationReason string       `json:"recommendationReason,omitempty"`
}

func (p *Payload) IsEmpty() bool {
	return p == nil || (len(p.MediaItems) == 0 && len(p.Suggestions) == 0 && p.RecommendationReason == "")
}

// WithSuggestions returns a copy of p carrying items as its suggestions.
// Media items and the recommendation reason are kept.
func (p *Payload) WithSuggestions(items []Suggestion) *Payload {
	out := p.clone()
	out.Suggestions = append([]Suggestion(nil), items...)
	return out
}

// WithMedia returns a copy of p carrying items and reason. Suggestions are kept.
func (p *Payload) WithMedia(items []MediaItem, reason string) *Payload {
	out := p.clone()
	out.MediaItems = append([]MediaItem(nil), items...)
	out.RecommendationReason = reason
	return out
}

func (p *Payload) clone() *Payload {
	if p == nil {
		return &Payload{}
	}
	return &Payload{
		MediaItems:           append([]MediaItem(nil), p.MediaItems...),
		Suggestions:          append([]Suggestion(nil), p.Suggestions...),
		RecommendationReason: p.RecommendationReason,
	}
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Payload   *Payload  `json:"data,omitempty"`
}

func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }
