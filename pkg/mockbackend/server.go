// Package mockbackend serves the recommendation backend's HTTP surface from
// the built-in catalogue. The CLI's serve-mock command and the client tests
// run against it.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/reelchat/pkg/reply"
	"github.com/go-go-golems/reelchat/pkg/settings"
)

const SessionCookie = "reelchat_session"

// Event is one frame the server writes on the stream.
type Event struct {
	Name string
	Data string
	// Delay is waited before the frame is written.
	Delay time.Duration
}

// Script produces the frames for a primed message.
type Script func(message string) []Event

type Server struct {
	channels    settings.Channels
	script      Script
	tokenDelay  time.Duration
	failPriming bool

	mu       sync.Mutex
	sessions map[string]string
	inits    int
	streams  int
}

type Option func(*Server)

func WithScript(s Script) Option { return func(srv *Server) { srv.script = s } }

// WithTokenDelay spaces out the frames of the default script.
func WithTokenDelay(d time.Duration) Option { return func(srv *Server) { srv.tokenDelay = d } }

// WithFailingPriming makes every priming call answer 500.
func WithFailingPriming() Option { return func(srv *Server) { srv.failPriming = true } }

func New(channels settings.Channels, opts ...Option) *Server {
	s := &Server{channels: channels, sessions: map[string]string{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.script == nil {
		s.script = s.DefaultScript
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/assistant/sse-init", s.handleInit)
	mux.HandleFunc("/assistant/sse", s.handleStream)
	mux.HandleFunc("/assistant/reply", s.handleReply)
	return mux
}

// Stats reports how many priming calls and stream requests were served.
func (s *Server) Stats() (inits int, streams int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits, s.streams
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	s.inits++
	s.mu.Unlock()
	if s.failPriming {
		http.Error(w, "priming disabled", http.StatusInternalServerError)
		return
	}
	var req reply.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = req.Message
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: id, Path: "/", HttpOnly: true})
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	message, ok := s.sessions[cookie.Value]
	delete(s.sessions, cookie.Value)
	s.streams++
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for _, ev := range s.script(message) {
		if ev.Delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(ev.Delay):
			}
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
			log.Debug().Err(err).Str("component", "mockbackend").Msg("client went away")
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req reply.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply.Fallback(req.Message))
}

// DefaultScript streams the catalogue answer for message in small chunks,
// then its suggestions and media, then the terminal sentinel.
func (s *Server) DefaultScript(message string) []Event {
	resp := reply.Fallback(message)
	var out []Event
	for _, chunk := range Chunk(resp.Reply.Message, 6) {
		out = append(out, Event{Name: s.channels.Answer, Data: TokenFrame(chunk), Delay: s.tokenDelay})
	}
	if d := resp.Reply.Data; d != nil {
		if len(d.Suggestions) > 0 {
			b, _ := json.Marshal(map[string]any{"suggestions": d.Suggestions})
			out = append(out, Event{Name: s.channels.Suggestions, Data: string(b), Delay: s.tokenDelay})
		}
		if len(d.Movies) > 0 {
			b, _ := json.Marshal(map[string]any{"movies": d.Movies, "recommendationReason": d.RecommendationReason})
			out = append(out, Event{Name: s.channels.Media, Data: string(b), Delay: s.tokenDelay})
		}
	}
	return append(out, Event{Name: s.channels.Answer, Data: "[DONE]"})
}

// TokenFrame encodes delta as a chat completion chunk.
func TokenFrame(delta string) string {
	b, _ := json.Marshal(openai.ChatCompletionStreamResponse{
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: delta}},
		},
	})
	return string(b)
}

// Chunk splits s into pieces of at most n runes. n below 1 is treated as 1.
func Chunk(s string, n int) []string {
	if n < 1 {
		n = 1
	}
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		k := n
		if k > len(runes) {
			k = len(runes)
		}
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}
